// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package testutil provides shared test helpers for Dawn packages.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets. Unix socket paths are limited to 108 bytes
// (sun_path in sockaddr_un), and t.TempDir() can exceed that under
// deeply nested build sandboxes.
//
// [RequireReceive] encapsulates the select-with-timeout safety valve
// so individual tests never hang forever on a stuck channel.
//
// All helpers fail the test via t.Fatalf; setup failures are not
// recoverable.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// SocketDir returns a fresh directory under /tmp, mode 0700, removed
// when the test finishes. Use it for socket and lockout-state files.
func SocketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "dawn-test-")
	if err != nil {
		t.Fatalf("creating socket temp dir: %v", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		t.Fatalf("chmod socket temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// SocketPath returns a socket path inside a fresh SocketDir.
func SocketPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(SocketDir(t), name)
}

// RequireReceive reads one value from ch within timeout, or fails the
// test.
func RequireReceive[T any](t *testing.T, ch <-chan T, timeout time.Duration, message string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", message)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, message)
	}
	panic("unreachable")
}
