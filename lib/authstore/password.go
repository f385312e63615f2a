// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package authstore

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/dawn-project/dawn/lib/secret"
)

// Argon2id parameters. 64 MiB / 3 passes / 1 lane is the profile the
// daemon ships for small-board deployments; it keeps a verification
// under ~200ms on a Pi 4 while staying within OWASP guidance.
const (
	argonMemoryKiB = 64 * 1024
	argonPasses    = 3
	argonLanes     = 1
	argonSaltLen   = 16
	argonKeyLen    = 32
)

// concurrentHashLimit bounds simultaneous Argon2id computations.
// Each computation pins argonMemoryKiB of RAM.
const concurrentHashLimit = 2

// hashSlotWait bounds how long a caller waits for a hashing slot
// before giving up with ErrHashBusy.
const hashSlotWait = 5 * time.Second

// dummyHash is a syntactically valid Argon2id hash of an unknowable
// random password. Credential verification runs against it whenever
// the real hash is unavailable (user not found, user not admin) so
// that all failure modes cost the same wall-clock time. Never accept
// a password that verifies against it; VerifyPassword on it always
// fails because the underlying password was discarded at build time.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=1$" +
	"c2FsdHNhbHRzYWx0c2FsdA$" +
	"vTLGjeIsq1TyHiHLyTQZlzSDMOPcPD98Xflbi0soYSE"

// HashPassword derives an Argon2id hash in PHC string format. The
// password bytes are wiped before HashPassword returns, success or
// failure. Returns ErrHashBusy when the concurrent-hash limit is
// saturated past the bounded wait.
func (s *Store) HashPassword(password []byte) (string, error) {
	defer secret.Wipe(password)

	release, err := s.acquireHashSlot()
	if err != nil {
		return "", err
	}
	defer release()

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("authstore: generating salt: %w", err)
	}

	key := argon2.IDKey(password, salt, argonPasses, argonMemoryKiB, argonLanes, argonKeyLen)
	defer secret.Wipe(key)

	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemoryKiB, argonPasses, argonLanes,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	return encoded, nil
}

// VerifyPassword re-derives the key from password using the
// parameters embedded in the PHC hash string and compares in constant
// time. The password bytes are wiped before VerifyPassword returns.
func (s *Store) VerifyPassword(hash string, password []byte) (bool, error) {
	defer secret.Wipe(password)

	params, salt, want, err := parsePHC(hash)
	if err != nil {
		return false, err
	}

	release, err := s.acquireHashSlot()
	if err != nil {
		return false, err
	}
	defer release()

	got := argon2.IDKey(password, salt, params.passes, params.memoryKiB, params.lanes, uint32(len(want)))
	defer secret.Wipe(got)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// VerifyAgainstDummy burns one Argon2id computation with identical
// parameters to a real verification. Used to equalize timing when no
// real hash exists for the presented username. Always returns false.
func (s *Store) VerifyAgainstDummy(password []byte) bool {
	ok, err := s.VerifyPassword(dummyHash, password)
	return ok && err == nil
}

func (s *Store) acquireHashSlot() (func(), error) {
	select {
	case s.hashSlots <- struct{}{}:
		return func() { <-s.hashSlots }, nil
	default:
	}
	// All slots busy: wait, bounded.
	select {
	case s.hashSlots <- struct{}{}:
		return func() { <-s.hashSlots }, nil
	case <-s.clock.After(hashSlotWait):
		return nil, ErrHashBusy
	}
}

type argonParams struct {
	memoryKiB uint32
	passes    uint32
	lanes     uint8
}

// parsePHC splits a $argon2id$v=19$m=..,t=..,p=..$salt$key string.
func parsePHC(hash string) (argonParams, []byte, []byte, error) {
	fields := strings.Split(hash, "$")
	// Leading empty field before the first separator.
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return argonParams{}, nil, nil, fmt.Errorf("authstore: malformed password hash")
	}
	if fields[2] != "v=19" {
		return argonParams{}, nil, nil, fmt.Errorf("authstore: unsupported argon2 version %q", fields[2])
	}

	var params argonParams
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &params.memoryKiB, &params.passes, &params.lanes); err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("authstore: malformed argon2 parameters %q", fields[3])
	}
	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("authstore: malformed salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("authstore: malformed key: %w", err)
	}
	return params, salt, key, nil
}
