// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package authstore is the persistence layer behind Dawn's
// authentication and administration surfaces: user accounts, web
// sessions, the audit log, and login-attempt tracking, all in a single
// sqlite database.
//
// The admin control plane consumes this package through the
// admin.Store interface; the web UI's auth path uses it directly.
// Store is safe for concurrent use; writes are serialized by sqlite.
package authstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/dawn-project/dawn/lib/clock"
)

// Sentinel errors callers branch on. Handlers map these to wire
// response codes.
var (
	// ErrNotFound reports that the named user, session, or address
	// does not exist.
	ErrNotFound = errors.New("authstore: not found")

	// ErrDuplicate reports a username collision on create.
	ErrDuplicate = errors.New("authstore: already exists")

	// ErrLastAdmin reports a refused operation that would leave the
	// system without an administrator.
	ErrLastAdmin = errors.New("authstore: cannot remove last admin")

	// ErrHashBusy reports that the concurrent password-hashing limit
	// was reached and no slot freed up within the bounded wait.
	ErrHashBusy = errors.New("authstore: password hashing busy")
)

// User is one account row.
type User struct {
	ID             int64
	Username       string
	IsAdmin        bool
	CreatedAt      time.Time
	LastLogin      time.Time // zero when the user has never logged in
	FailedAttempts int
	LockedUntil    time.Time // zero when not locked
}

// Session is one active web session.
type Session struct {
	// TokenPrefix is the first 8 characters of the session token.
	// Full tokens are never returned through the admin surface.
	TokenPrefix  string
	Username     string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	ClientIP     string
}

// AuditEvent is one audit-log entry.
type AuditEvent struct {
	ID       int64
	Time     time.Time
	Event    string
	Username string
	ClientIP string
	Details  map[string]string
}

// BlockedIP is a client address currently held out by the web login
// rate limiter.
type BlockedIP struct {
	Address      string
	FailureCount int
	BlockedUntil time.Time
}

// Stats summarizes database contents for the admin GET_STATS call.
type Stats struct {
	Users         int
	Admins        int
	Sessions      int
	AuditEvents   int
	BlockedIPs    int
	DatabaseBytes int64
}

// Store is a sqlite-backed auth database.
type Store struct {
	pool   *sqlitex.Pool
	path   string
	clock  clock.Clock
	logger *slog.Logger

	// hashSlots bounds concurrent Argon2id computations. Each hash
	// pins ~64 MiB; unbounded concurrency would let the login path
	// exhaust memory on small boards.
	hashSlots chan struct{}
}

// Options configures Open. Path is required.
type Options struct {
	// Path is the sqlite database file. Parent directory must exist.
	// ":memory:" is supported for tests (pool size is forced to 1).
	Path string

	// Clock supplies time; nil means the real clock.
	Clock clock.Clock

	// Logger receives operational messages; nil means discard.
	Logger *slog.Logger

	// PoolSize is the sqlite connection count. Zero means 4.
	PoolSize int
}

// Open opens (creating if needed) the auth database, applies the
// standard pragmas, and ensures the schema exists.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("authstore: Path is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	if opts.Path == ":memory:" {
		// Each in-memory connection is an independent database.
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(opts.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("authstore: opening %s: %w", opts.Path, err)
	}

	store := &Store{
		pool:      pool,
		path:      opts.Path,
		clock:     clk,
		logger:    logger,
		hashSlots: make(chan struct{}, concurrentHashLimit),
	}
	logger.Info("auth store opened", "path", opts.Path, "pool_size", poolSize)
	return store, nil
}

// Close closes the connection pool. Blocks until borrowed connections
// are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("authstore: closing %s: %w", s.path, err)
	}
	return nil
}

// take borrows a connection. Callers must put it back.
func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("authstore: take connection: %w", err)
	}
	return conn, nil
}

func (s *Store) put(conn *sqlite.Conn) {
	s.pool.Put(conn)
}

// prepareConnection applies pragmas and the schema. CREATE TABLE IF
// NOT EXISTS is idempotent, so running it per connection is harmless.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("authstore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("authstore: applying schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    is_admin      INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    last_login    INTEGER,
    failed_attempts INTEGER NOT NULL DEFAULT 0,
    lockout_until INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
    token         TEXT PRIMARY KEY,
    user_id       INTEGER NOT NULL,
    created_at    INTEGER NOT NULL,
    last_activity INTEGER NOT NULL,
    expires_at    INTEGER NOT NULL,
    ip_address    TEXT,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

CREATE TABLE IF NOT EXISTS login_attempts (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    ip_address TEXT NOT NULL,
    username   TEXT,
    timestamp  INTEGER NOT NULL,
    success    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_attempts_ip ON login_attempts(ip_address, timestamp);

CREATE TABLE IF NOT EXISTS auth_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp  INTEGER NOT NULL,
    event      TEXT NOT NULL,
    username   TEXT,
    ip_address TEXT,
    details    BLOB
);
CREATE INDEX IF NOT EXISTS idx_log_timestamp ON auth_log(timestamp);
`
