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

// CreateUser inserts a new account with an already-hashed password.
// Returns ErrDuplicate if the username is taken.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO users (username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{username, passwordHash, boolToInt(isAdmin), s.clock.Now().Unix()},
		})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			return fmt.Errorf("%w: user %q", ErrDuplicate, username)
		}
		return fmt.Errorf("authstore: creating user %q: %w", username, err)
	}

	s.logger.Info("user created", "username", username, "is_admin", isAdmin)
	return nil
}

// GetUser returns the account for username, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, username string) (User, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return User{}, err
	}
	defer s.put(conn)

	var user User
	found := false
	err = sqlitex.Execute(conn,
		`SELECT id, username, password_hash, is_admin, created_at, last_login, failed_attempts, lockout_until
		 FROM users WHERE username = ?`,
		&sqlitex.ExecOptions{
			Args: []any{username},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				user = userFromRow(stmt)
				return nil
			},
		})
	if err != nil {
		return User{}, fmt.Errorf("authstore: loading user %q: %w", username, err)
	}
	if !found {
		return User{}, fmt.Errorf("%w: user %q", ErrNotFound, username)
	}
	return user, nil
}

// PasswordHash returns the stored hash for username, or ErrNotFound.
// Kept separate from GetUser so the hash never rides along in list
// or lookup results that reach the wire.
func (s *Store) PasswordHash(ctx context.Context, username string) (string, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return "", err
	}
	defer s.put(conn)

	hash := ""
	err = sqlitex.Execute(conn,
		`SELECT password_hash FROM users WHERE username = ?`,
		&sqlitex.ExecOptions{
			Args: []any{username},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				hash = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("authstore: loading hash for %q: %w", username, err)
	}
	if hash == "" {
		return "", fmt.Errorf("%w: user %q", ErrNotFound, username)
	}
	return hash, nil
}

// ListUsers returns all accounts ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.put(conn)

	var users []User
	err = sqlitex.Execute(conn,
		`SELECT id, username, password_hash, is_admin, created_at, last_login, failed_attempts, lockout_until
		 FROM users ORDER BY username`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				users = append(users, userFromRow(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("authstore: listing users: %w", err)
	}
	return users, nil
}

// DeleteUser removes an account and (via cascade) its sessions.
// Deleting the only remaining admin returns ErrLastAdmin; deleting a
// missing user returns ErrNotFound.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("authstore: begin delete transaction: %w", err)
	}
	defer endTx(&err)

	user, isLast, err := s.lookupWithAdminCount(conn, username)
	if err != nil {
		return err
	}
	if user.IsAdmin && isLast {
		return fmt.Errorf("%w: %q", ErrLastAdmin, username)
	}

	if err = sqlitex.Execute(conn, `DELETE FROM users WHERE username = ?`,
		&sqlitex.ExecOptions{Args: []any{username}}); err != nil {
		return fmt.Errorf("authstore: deleting user %q: %w", username, err)
	}

	s.logger.Info("user deleted", "username", username)
	return nil
}

// UpdatePassword replaces the stored hash for username.
func (s *Store) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE users SET password_hash = ?, failed_attempts = 0, lockout_until = 0 WHERE username = ?`,
		&sqlitex.ExecOptions{Args: []any{passwordHash, username}})
	if err != nil {
		return fmt.Errorf("authstore: updating password for %q: %w", username, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: user %q", ErrNotFound, username)
	}
	s.logger.Info("password updated", "username", username)
	return nil
}

// UnlockUser clears the failed-login counter and lockout window.
func (s *Store) UnlockUser(ctx context.Context, username string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE users SET failed_attempts = 0, lockout_until = 0 WHERE username = ?`,
		&sqlitex.ExecOptions{Args: []any{username}})
	if err != nil {
		return fmt.Errorf("authstore: unlocking %q: %w", username, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: user %q", ErrNotFound, username)
	}
	s.logger.Info("user unlocked", "username", username)
	return nil
}

// UserCount returns the total number of accounts, admin or not. The
// bootstrap gate uses the admin count from Stats instead: a daemon
// with regular users but no admin still needs a setup token.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.put(conn)
	return countRows(conn, `SELECT COUNT(*) FROM users`)
}

// lookupWithAdminCount loads a user row and reports whether it is
// the last admin, inside the caller's transaction so the check and
// the mutation see the same state.
func (s *Store) lookupWithAdminCount(conn *sqlite.Conn, username string) (User, bool, error) {
	var user User
	found := false
	err := sqlitex.Execute(conn,
		`SELECT id, username, password_hash, is_admin, created_at, last_login, failed_attempts, lockout_until
		 FROM users WHERE username = ?`,
		&sqlitex.ExecOptions{
			Args: []any{username},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				user = userFromRow(stmt)
				return nil
			},
		})
	if err != nil {
		return User{}, false, fmt.Errorf("authstore: loading user %q: %w", username, err)
	}
	if !found {
		return User{}, false, fmt.Errorf("%w: user %q", ErrNotFound, username)
	}

	admins, err := countRows(conn, `SELECT COUNT(*) FROM users WHERE is_admin = 1`)
	if err != nil {
		return User{}, false, err
	}
	return user, user.IsAdmin && admins <= 1, nil
}

func userFromRow(stmt *sqlite.Stmt) User {
	return User{
		ID:             stmt.ColumnInt64(0),
		Username:       stmt.ColumnText(1),
		IsAdmin:        stmt.ColumnInt64(3) != 0,
		CreatedAt:      unixOrZero(stmt.ColumnInt64(4)),
		LastLogin:      unixOrZero(stmt.ColumnInt64(5)),
		FailedAttempts: int(stmt.ColumnInt64(6)),
		LockedUntil:    unixOrZero(stmt.ColumnInt64(7)),
	}
}

func countRows(conn *sqlite.Conn, query string) (int, error) {
	count := 0
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = int(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("authstore: %s: %w", query, err)
	}
	return count, nil
}

func unixOrZero(seconds int64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
