// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// lockoutFile persists setup-token guess counting across daemon
// restarts, so restarting the service does not reset an attacker's
// guess budget. The record is a fixed 17-byte little-endian struct:
//
//	attempt_count  u8
//	first_attempt  i64  unix seconds
//	lockout_until  i64  unix seconds, 0 when not locked
type lockoutFile struct {
	path string
}

const lockoutRecordSize = 17

type lockoutState struct {
	attempts     uint8
	firstAttempt time.Time
	lockedUntil  time.Time
}

// load reads the current state. A missing file is a clean zero state.
// A short or malformed file, or a lockout that has already elapsed,
// resets the state and removes the file; the error return reports
// corruption so the caller can log it.
func (f *lockoutFile) load(now time.Time) (lockoutState, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return lockoutState{}, nil
	}
	if err != nil {
		return lockoutState{}, fmt.Errorf("admin: reading lockout state: %w", err)
	}
	if len(raw) != lockoutRecordSize {
		os.Remove(f.path)
		return lockoutState{}, fmt.Errorf("admin: lockout state is %d bytes, want %d", len(raw), lockoutRecordSize)
	}

	state := lockoutState{attempts: raw[0]}
	if v := int64(binary.LittleEndian.Uint64(raw[1:9])); v != 0 {
		state.firstAttempt = time.Unix(v, 0)
	}
	if v := int64(binary.LittleEndian.Uint64(raw[9:17])); v != 0 {
		state.lockedUntil = time.Unix(v, 0)
	}

	if !state.lockedUntil.IsZero() && !state.lockedUntil.After(now) {
		// Lockout served in full; the guess budget starts over.
		os.Remove(f.path)
		return lockoutState{}, nil
	}
	return state, nil
}

// save writes the state with owner-only permissions.
func (f *lockoutFile) save(state lockoutState) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("admin: creating lockout state dir: %w", err)
	}
	var raw [lockoutRecordSize]byte
	raw[0] = state.attempts
	if !state.firstAttempt.IsZero() {
		binary.LittleEndian.PutUint64(raw[1:9], uint64(state.firstAttempt.Unix()))
	}
	if !state.lockedUntil.IsZero() {
		binary.LittleEndian.PutUint64(raw[9:17], uint64(state.lockedUntil.Unix()))
	}
	if err := os.WriteFile(f.path, raw[:], 0o600); err != nil {
		return fmt.Errorf("admin: writing lockout state: %w", err)
	}
	return nil
}

// clear removes the state file. Called after the token is consumed.
func (f *lockoutFile) clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
