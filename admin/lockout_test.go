// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLockoutRoundTrip(t *testing.T) {
	f := &lockoutFile{path: filepath.Join(t.TempDir(), "lockout.state")}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	want := lockoutState{
		attempts:     3,
		firstAttempt: now.Add(-time.Minute),
		lockedUntil:  now.Add(time.Hour),
	}
	if err := f.save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := f.load(now)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.attempts != want.attempts {
		t.Errorf("attempts: got %d, want %d", got.attempts, want.attempts)
	}
	if !got.firstAttempt.Equal(want.firstAttempt) {
		t.Errorf("firstAttempt: got %v, want %v", got.firstAttempt, want.firstAttempt)
	}
	if !got.lockedUntil.Equal(want.lockedUntil) {
		t.Errorf("lockedUntil: got %v, want %v", got.lockedUntil, want.lockedUntil)
	}
}

func TestLockoutMissingFileIsZeroState(t *testing.T) {
	f := &lockoutFile{path: filepath.Join(t.TempDir(), "absent.state")}
	got, err := f.load(time.Now())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.attempts != 0 || !got.lockedUntil.IsZero() {
		t.Errorf("got %+v, want zero state", got)
	}
}

func TestLockoutCorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockout.state")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	f := &lockoutFile{path: path}
	got, err := f.load(time.Now())
	if err == nil {
		t.Fatal("load: expected corruption error")
	}
	if got.attempts != 0 {
		t.Errorf("attempts: got %d, want 0", got.attempts)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("corrupt state file was not removed")
	}
}

func TestLockoutElapsedResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockout.state")
	f := &lockoutFile{path: path}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := f.save(lockoutState{attempts: 5, lockedUntil: now.Add(-time.Second)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := f.load(now)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.attempts != 0 {
		t.Errorf("attempts after elapsed lockout: got %d, want 0", got.attempts)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("elapsed state file was not removed")
	}
}

func TestLockoutClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockout.state")
	f := &lockoutFile{path: path}
	if err := f.save(lockoutState{attempts: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := f.clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := f.clear(); err != nil {
		t.Fatalf("clear(absent): %v", err)
	}
}

func TestLockoutRecordIsFixedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockout.state")
	f := &lockoutFile{path: path}
	if err := f.save(lockoutState{attempts: 2, firstAttempt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != lockoutRecordSize {
		t.Fatalf("record size: got %d, want %d", len(raw), lockoutRecordSize)
	}
}
