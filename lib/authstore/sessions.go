// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package authstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// sessionTokenBytes is the entropy of a web session token.
const sessionTokenBytes = 32

// sessionPrefixLen is how many leading hex characters of a session
// token the admin surface exposes and accepts for revocation.
const sessionPrefixLen = 8

// CreateSession mints a session for username and returns the full
// token. The web login path calls this; the admin surface only ever
// sees token prefixes.
func (s *Store) CreateSession(ctx context.Context, username, clientIP string, lifetimeSeconds int64) (string, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("authstore: generating session token: %w", err)
	}
	token := hex.EncodeToString(raw)

	conn, err := s.take(ctx)
	if err != nil {
		return "", err
	}
	defer s.put(conn)

	now := s.clock.Now().Unix()
	err = sqlitex.Execute(conn,
		`INSERT INTO sessions (token, user_id, created_at, last_activity, expires_at, ip_address)
		 SELECT ?, id, ?, ?, ?, ? FROM users WHERE username = ?`,
		&sqlitex.ExecOptions{
			Args: []any{token, now, now, now + lifetimeSeconds, clientIP, username},
		})
	if err != nil {
		return "", fmt.Errorf("authstore: creating session for %q: %w", username, err)
	}
	if conn.Changes() == 0 {
		return "", fmt.Errorf("%w: user %q", ErrNotFound, username)
	}
	return token, nil
}

// ListSessions returns all unexpired sessions, newest first. Tokens
// are reduced to their prefix.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.put(conn)

	var sessions []Session
	err = sqlitex.Execute(conn,
		`SELECT s.token, u.username, s.created_at, s.last_activity, s.expires_at, s.ip_address
		 FROM sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.expires_at > ?
		 ORDER BY s.created_at DESC`,
		&sqlitex.ExecOptions{
			Args: []any{s.clock.Now().Unix()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				token := stmt.ColumnText(0)
				if len(token) > sessionPrefixLen {
					token = token[:sessionPrefixLen]
				}
				sessions = append(sessions, Session{
					TokenPrefix:  token,
					Username:     stmt.ColumnText(1),
					CreatedAt:    unixOrZero(stmt.ColumnInt64(2)),
					LastActivity: unixOrZero(stmt.ColumnInt64(3)),
					ExpiresAt:    unixOrZero(stmt.ColumnInt64(4)),
					ClientIP:     stmt.ColumnText(5),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("authstore: listing sessions: %w", err)
	}
	return sessions, nil
}

// RevokeSessionByPrefix deletes the session whose token starts with
// prefix. A prefix shorter than sessionPrefixLen is rejected outright
// so a one-character prefix cannot wipe an arbitrary session.
func (s *Store) RevokeSessionByPrefix(ctx context.Context, prefix string) error {
	if len(prefix) < sessionPrefixLen {
		return fmt.Errorf("%w: session prefix %q too short", ErrNotFound, prefix)
	}

	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM sessions WHERE token GLOB ? || '*'`,
		&sqlitex.ExecOptions{Args: []any{prefix}})
	if err != nil {
		return fmt.Errorf("authstore: revoking session %q: %w", prefix, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: session %q", ErrNotFound, prefix)
	}
	s.logger.Info("session revoked", "prefix", prefix)
	return nil
}

// RevokeUserSessions deletes every session belonging to username and
// returns how many were removed. Unknown users return ErrNotFound.
func (s *Store) RevokeUserSessions(ctx context.Context, username string) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.put(conn)

	if _, _, err := s.lookupWithAdminCount(conn, username); err != nil {
		return 0, err
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM sessions WHERE user_id = (SELECT id FROM users WHERE username = ?)`,
		&sqlitex.ExecOptions{Args: []any{username}})
	if err != nil {
		return 0, fmt.Errorf("authstore: revoking sessions for %q: %w", username, err)
	}
	removed := conn.Changes()
	s.logger.Info("user sessions revoked", "username", username, "count", removed)
	return removed, nil
}
