// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to the given time. Time stands still
// until Advance or Set is called.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. Pending After and
// Sleep waiters fire when the clock is advanced past their deadline.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the fake clock has been
// advanced past the deadline. If d <= 0 the channel receives
// immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	return channel
}

// Sleep blocks until the clock is advanced past the deadline. A Sleep
// on an un-advanced FakeClock blocks forever; tests must advance the
// clock from another goroutine.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline has been reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fireLocked()
}

// Set jumps the clock to the given instant. The clock never moves
// backwards; setting an earlier time panics.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.current) {
		panic("clock: FakeClock.Set would move time backwards")
	}
	c.current = t
	c.fireLocked()
}

func (c *FakeClock) fireLocked() {
	remaining := c.waiters[:0]
	for _, waiter := range c.waiters {
		if waiter.deadline.After(c.current) {
			remaining = append(remaining, waiter)
			continue
		}
		waiter.channel <- c.current
	}
	c.waiters = remaining
}
