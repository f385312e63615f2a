// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package clock

import (
	"testing"
	"time"
)

func TestFakeNowIsPinned(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := Fake(start)

	if got := fake.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}
	if got := fake.Now(); !got.Equal(start) {
		t.Errorf("second Now() = %v, want %v (time must not flow)", got, start)
	}
}

func TestFakeAdvanceFiresWaiters(t *testing.T) {
	fake := Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	ch := fake.After(5 * time.Minute)
	select {
	case <-ch:
		t.Fatal("After fired before the clock advanced")
	default:
	}

	fake.Advance(4 * time.Minute)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(1 * time.Minute)
	select {
	case fired := <-ch:
		want := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
		if !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeSetRefusesToGoBackwards(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))
	defer func() {
		if recover() == nil {
			t.Fatal("Set to an earlier time did not panic")
		}
	}()
	fake.Set(time.Unix(999, 0))
}
