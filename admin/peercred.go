// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerCred returns the kernel-reported credentials of the process on
// the far end of a unix-domain connection. SO_PEERCRED is captured at
// connect time by the kernel and cannot be forged from userspace,
// which makes it the trust anchor for the whole service.
func peerCred(conn *net.UnixConn) (*unix.Ucred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("admin: raw conn: %w", err)
	}
	var (
		cred    *unix.Ucred
		sockErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("admin: reading peer credentials: %w", err)
	}
	if sockErr != nil {
		return nil, fmt.Errorf("admin: SO_PEERCRED: %w", sockErr)
	}
	return cred, nil
}

// peerAllowed applies the admission rule: root or the daemon's own
// uid. Everything else is dropped before a single protocol byte is
// parsed.
func peerAllowed(cred *unix.Ucred, daemonUID uint32) bool {
	return cred.Uid == 0 || cred.Uid == daemonUID
}
