// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package clock abstracts wall-clock reads for testability. Production
// code injects Real(); tests inject Fake() and advance time explicitly.
//
// Anything that checks a deadline — setup token expiry, lockout
// windows, session expiry — should hold a Clock instead of calling the
// time package directly.
package clock

import "time"

// Clock is the subset of time operations Dawn components use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
