// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package authstore

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// auditEncoder produces deterministic CBOR for audit detail maps, so
// identical events always produce identical blobs.
var auditEncoder cbor.EncMode

func init() {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("authstore: building CBOR encoder: %v", err))
	}
	auditEncoder = mode
}

// AppendEvent records one audit-log entry. Details may be nil.
// Audit failures are never fatal to the operation being audited; the
// caller decides whether to surface the error.
func (s *Store) AppendEvent(ctx context.Context, event, username, clientIP string, details map[string]string) error {
	var blob []byte
	if len(details) > 0 {
		encoded, err := auditEncoder.Marshal(details)
		if err != nil {
			return fmt.Errorf("authstore: encoding audit details: %w", err)
		}
		blob = encoded
	}

	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO auth_log (timestamp, event, username, ip_address, details) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{s.clock.Now().Unix(), event, username, clientIP, blob},
		})
	if err != nil {
		return fmt.Errorf("authstore: appending audit event %q: %w", event, err)
	}
	return nil
}

// QueryEvents returns up to limit audit entries, newest first. A
// non-empty username restricts the query to that user's events.
func (s *Store) QueryEvents(ctx context.Context, username string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.put(conn)

	query := `SELECT id, timestamp, event, username, ip_address, details
	          FROM auth_log`
	args := []any{}
	if username != "" {
		query += ` WHERE username = ?`
		args = append(args, username)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var events []AuditEvent
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry := AuditEvent{
				ID:       stmt.ColumnInt64(0),
				Time:     unixOrZero(stmt.ColumnInt64(1)),
				Event:    stmt.ColumnText(2),
				Username: stmt.ColumnText(3),
				ClientIP: stmt.ColumnText(4),
			}
			if stmt.ColumnLen(5) > 0 {
				blob := make([]byte, stmt.ColumnLen(5))
				stmt.ColumnBytes(5, blob)
				if err := cbor.Unmarshal(blob, &entry.Details); err != nil {
					// A corrupt detail blob does not hide the event.
					entry.Details = map[string]string{"decode_error": err.Error()}
				}
			}
			events = append(events, entry)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("authstore: querying audit log: %w", err)
	}
	return events, nil
}
