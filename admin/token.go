// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dawn-project/dawn/lib/clock"
	"github.com/dawn-project/dawn/lib/secret"
)

// Setup token shape: "DAWN-XXXX-XXXX-XXXX-XXXX". The alphabet drops
// I, O, 0, and 1 so a token read off a terminal cannot be
// mistranscribed; 32 symbols keep generation a cheap mask of random
// bytes. 16 random characters give 80 bits of entropy.
const (
	tokenPrefix  = "DAWN-"
	tokenGroups  = 4
	tokenGroup   = 4
	TokenLength  = len(tokenPrefix) + tokenGroups*tokenGroup + tokenGroups - 1
	tokenRandLen = tokenGroups * tokenGroup
)

const tokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	tokenValidity   = 5 * time.Minute
	maxTokenGuesses = 5
	guessLockout    = time.Hour
)

// Token validation outcomes. Only ErrTokenLockedOut is reported
// distinctly on the wire (as rate limited); the others collapse to a
// generic failure so a caller cannot probe token state.
var (
	ErrTokenInvalid   = errors.New("admin: setup token invalid")
	ErrTokenExpired   = errors.New("admin: setup token expired")
	ErrTokenUsed      = errors.New("admin: setup token already used")
	ErrTokenLockedOut = errors.New("admin: setup token guessing locked out")
	ErrNoToken        = errors.New("admin: no setup token active")
)

// TokenManager holds the one-time setup token for first-run
// bootstrap. The token lives in a locked secret buffer, is valid for
// five minutes, and is consumed exactly once. Guess attempts are
// counted across restarts through a small lockout state file.
type TokenManager struct {
	mu      sync.Mutex
	clk     clock.Clock
	logger  *slog.Logger
	lockout *lockoutFile

	token     *secret.Buffer
	expiresAt time.Time
	used      bool
	active    bool
	attempts  uint8
}

// NewTokenManager generates a fresh token. Generation is fail-closed:
// if the random source errors, no token exists and every validation
// answers ErrNoToken. The caller decides whether that degrades the
// service or aborts startup.
func NewTokenManager(clk clock.Clock, logger *slog.Logger, lockoutPath string) (*TokenManager, error) {
	m := &TokenManager{
		clk:     clk,
		logger:  logger,
		lockout: &lockoutFile{path: lockoutPath},
	}

	state, err := m.lockout.load(clk.Now())
	if err != nil {
		// Corrupt lockout state never blocks startup; it is
		// reset and the event logged.
		logger.Warn("resetting token lockout state", "path", lockoutPath, "error", err)
		state = lockoutState{}
	}
	m.attempts = state.attempts
	if state.lockedUntil.After(clk.Now()) {
		logger.Warn("setup token guessing locked out",
			"until", state.lockedUntil.Format(time.RFC3339))
	}

	raw := make([]byte, tokenRandLen)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("admin: generating setup token: %w", err)
	}

	text := make([]byte, 0, TokenLength)
	text = append(text, tokenPrefix...)
	for i, b := range raw {
		if i > 0 && i%tokenGroup == 0 {
			text = append(text, '-')
		}
		text = append(text, tokenAlphabet[b&0x1f])
	}
	secret.Wipe(raw)

	buf, err := secret.FromBytes(text) // wipes text
	if err != nil {
		return nil, fmt.Errorf("admin: locking setup token: %w", err)
	}
	m.token = buf
	m.expiresAt = clk.Now().Add(tokenValidity)
	m.active = true
	return m, nil
}

// Reveal returns the token text for the one-time startup banner. The
// returned string is the only heap copy ever made; the caller prints
// it and lets it go.
func (m *TokenManager) Reveal() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.used {
		return "", ErrNoToken
	}
	return string(m.token.Bytes()), nil
}

// Validate checks a candidate and, on a match, consumes the token: a
// second validation with the identical value fails. Bootstrap flows
// that need the token to survive into account creation use Consume
// instead.
func (m *TokenManager) Validate(candidate []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(candidate); err != nil {
		return err
	}
	m.markUsedLocked()
	return nil
}

// Consume validates the candidate and, if it matches, runs create.
// The token is marked used only after create returns nil, all under
// the manager lock: a failed account creation leaves the token live
// for a retry, and two racing CREATE_USER requests cannot both
// succeed.
func (m *TokenManager) Consume(candidate []byte, create func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(candidate); err != nil {
		return err
	}
	if err := create(); err != nil {
		return err
	}
	m.markUsedLocked()
	return nil
}

func (m *TokenManager) markUsedLocked() {
	m.used = true
	m.token.Close()
	if err := m.lockout.clear(); err != nil {
		m.logger.Warn("clearing token lockout state", "error", err)
	}
}

func (m *TokenManager) checkLocked(candidate []byte) error {
	if !m.active {
		return ErrNoToken
	}

	now := m.clk.Now()
	state, err := m.lockout.load(now)
	if err != nil {
		state = lockoutState{attempts: m.attempts}
	}
	if state.lockedUntil.After(now) {
		return ErrTokenLockedOut
	}
	m.attempts = state.attempts

	// Used and expired are checked before the compare so they never
	// count as guesses; both are states the legitimate operator can
	// reach without holding a wrong token.
	if m.used {
		return ErrTokenUsed
	}
	if now.After(m.expiresAt) {
		return ErrTokenExpired
	}

	if len(candidate) != TokenLength || !m.token.Equal(candidate) {
		m.recordFailureLocked(now)
		return ErrTokenInvalid
	}
	return nil
}

func (m *TokenManager) recordFailureLocked(now time.Time) {
	m.attempts++
	state := lockoutState{attempts: m.attempts, firstAttempt: now}
	if m.attempts >= maxTokenGuesses {
		state.lockedUntil = now.Add(guessLockout)
		m.logger.Warn("setup token guess limit reached",
			"attempts", m.attempts,
			"locked_until", state.lockedUntil.Format(time.RFC3339))
	} else {
		m.logger.Warn("setup token mismatch", "attempts", m.attempts)
	}
	if err := m.lockout.save(state); err != nil {
		m.logger.Warn("persisting token lockout state", "error", err)
	}
}

// Close releases the token buffer. Safe to call at any point during
// shutdown.
func (m *TokenManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil {
		m.token.Close()
	}
	m.active = false
}
