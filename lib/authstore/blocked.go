// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package authstore

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Web login rate limiting: an address with loginBlockThreshold
// failures inside loginBlockWindow is blocked until the window
// elapses. This is separate from the setup-token lockout, which has
// its own persistent file (the admin socket has no client IP).
const (
	loginBlockThreshold = 10
	loginBlockWindow    = 15 * time.Minute
)

// RecordLoginAttempt stores one web login attempt for rate limiting.
func (s *Store) RecordLoginAttempt(ctx context.Context, clientIP, username string, success bool) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO login_attempts (ip_address, username, timestamp, success) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{clientIP, username, s.clock.Now().Unix(), boolToInt(success)},
		})
	if err != nil {
		return fmt.Errorf("authstore: recording login attempt: %w", err)
	}
	return nil
}

// ListBlockedIPs returns addresses currently over the failure
// threshold, with the instant their block lapses.
func (s *Store) ListBlockedIPs(ctx context.Context) ([]BlockedIP, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.put(conn)

	windowStart := s.clock.Now().Add(-loginBlockWindow).Unix()

	var blocked []BlockedIP
	err = sqlitex.Execute(conn,
		`SELECT ip_address, COUNT(*), MAX(timestamp)
		 FROM login_attempts
		 WHERE success = 0 AND timestamp > ?
		 GROUP BY ip_address
		 HAVING COUNT(*) >= ?
		 ORDER BY COUNT(*) DESC`,
		&sqlitex.ExecOptions{
			Args: []any{windowStart, loginBlockThreshold},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				lastFailure := unixOrZero(stmt.ColumnInt64(2))
				blocked = append(blocked, BlockedIP{
					Address:      stmt.ColumnText(0),
					FailureCount: int(stmt.ColumnInt64(1)),
					BlockedUntil: lastFailure.Add(loginBlockWindow),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("authstore: listing blocked addresses: %w", err)
	}
	return blocked, nil
}

// UnblockIP clears the recorded attempts for an address, lifting its
// block immediately. Unknown addresses return ErrNotFound.
func (s *Store) UnblockIP(ctx context.Context, clientIP string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM login_attempts WHERE ip_address = ?`,
		&sqlitex.ExecOptions{Args: []any{clientIP}})
	if err != nil {
		return fmt.Errorf("authstore: unblocking %q: %w", clientIP, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: address %q", ErrNotFound, clientIP)
	}
	s.logger.Info("address unblocked", "ip", clientIP)
	return nil
}
