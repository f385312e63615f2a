// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package admin implements the Dawn daemon's local administrative
// control plane: a Unix-domain-socket protocol that lets the
// dawn-admin CLI bootstrap the daemon on first run (setup token →
// first admin account) and subsequently manage users, sessions, the
// audit log, and the database.
//
// Security model, in the order checks run:
//
//   - The socket lives in the Linux abstract namespace (filesystem
//     path fallback), reachable only from the local machine.
//   - Every connection is peer-authenticated via SO_PEERCRED before a
//     single payload byte is parsed: only uid 0 and the daemon's own
//     uid may proceed.
//   - First-run bootstrap requires a single-use, 80-bit setup token
//     with a five-minute validity window, compared in constant time,
//     rate limited by a counter that persists across restarts.
//   - Destructive operations require admin credentials verified with
//     a dummy-hash scheme so that "no such user", "not an admin", and
//     "wrong password" are indistinguishable by timing and by
//     response code.
//
// The protocol is deliberately single-flight: the listen backlog is
// one and connections are handled synchronously, one at a time, so
// the only shared mutable state is the token manager behind one
// mutex.
package admin
