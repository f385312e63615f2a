// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dawn-project/dawn/lib/authstore"
	"github.com/dawn-project/dawn/lib/clock"
)

// acceptInterval is how often the accept loop wakes to check for
// shutdown when no client connects.
const acceptInterval = 60 * time.Second

// connTimeout bounds one whole request/response exchange. A client
// that stalls mid-message is cut off rather than holding the
// single-flight loop.
const connTimeout = 30 * time.Second

// Options configures a Server.
type Options struct {
	Store *authstore.Store

	// Tokens is nil once bootstrap is complete (an admin account
	// already existed at startup). With a nil manager every
	// token-gated request fails.
	Tokens *TokenManager

	Logger *slog.Logger
	Clock  clock.Clock

	// SocketName is the abstract-namespace name tried first.
	SocketName string
	// SocketPath is the filesystem fallback when the abstract
	// namespace is unavailable.
	SocketPath string

	// BackupDir receives DB_BACKUP output.
	BackupDir string
}

// Server is the admin control-plane listener. Connections are
// accepted and handled strictly one at a time: the listen backlog is
// 1 and the accept loop does not return to accept until the previous
// request finished. Administration is rare and serial; concurrency
// here would only add attack surface.
type Server struct {
	store     *authstore.Store
	tokens    *TokenManager
	logger    *slog.Logger
	clk       clock.Clock
	backupDir string
	daemonUID uint32

	listener *net.UnixListener
	path     string

	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}
}

// NewServer binds the socket and starts the accept loop. The abstract
// namespace is preferred: it has no filesystem node, so there is
// nothing to chmod, unlink, or race against. When binding it fails
// (non-Linux, or a stale holder) the filesystem path is used instead
// with owner-only permissions.
func NewServer(opts Options) (*Server, error) {
	s := &Server{
		store:     opts.Store,
		tokens:    opts.Tokens,
		logger:    opts.Logger,
		clk:       opts.Clock,
		backupDir: opts.BackupDir,
		daemonUID: uint32(os.Getuid()),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	ln, err := listenAbstract(opts.SocketName)
	if err == nil {
		s.listener = ln
		s.logger.Info("admin socket listening", "namespace", "abstract", "name", opts.SocketName)
	} else {
		s.logger.Warn("abstract socket unavailable, using filesystem path",
			"name", opts.SocketName, "error", err)
		ln, err = listenPath(opts.SocketPath)
		if err != nil {
			return nil, err
		}
		s.listener = ln
		s.path = opts.SocketPath
		s.logger.Info("admin socket listening", "namespace", "filesystem", "path", opts.SocketPath)
	}

	go s.serve()
	return s, nil
}

// listenAbstract binds an abstract-namespace stream socket with a
// backlog of exactly 1. net.Listen offers no backlog control, so the
// socket is built raw and handed to net.FileListener.
func listenAbstract(name string) (*net.UnixListener, error) {
	if name == "" {
		return nil, errors.New("admin: empty abstract socket name")
	}
	// The leading '@' is the x/sys convention for the abstract
	// namespace; it becomes the leading NUL on the wire.
	return listenBacklogOne("@" + name)
}

// listenPath binds a filesystem-path socket, replacing any stale node
// left by an unclean previous shutdown.
func listenPath(path string) (*net.UnixListener, error) {
	if path == "" {
		return nil, errors.New("admin: empty socket path")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("admin: removing stale socket: %w", err)
	}
	ln, err := listenBacklogOne(path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("admin: restricting socket mode: %w", err)
	}
	return ln, nil
}

func listenBacklogOne(addr string) (*net.UnixListener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("admin: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: addr}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("admin: bind %q: %w", addr, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("admin: listen %q: %w", addr, err)
	}

	file := os.NewFile(uintptr(fd), "admin-socket")
	defer file.Close() // net.FileListener dups the descriptor
	ln, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("admin: adopting socket: %w", err)
	}
	uln, ok := ln.(*net.UnixListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("admin: unexpected listener type %T", ln)
	}
	return uln, nil
}

func (s *Server) serve() {
	defer close(s.done)
	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		// The deadline doubles as the shutdown poll interval.
		s.listener.SetDeadline(time.Now().Add(acceptInterval))
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("admin socket accept failed", "error", err)
			continue
		}
		s.handleConn(conn)
	}
}

// Addr reports where the server is reachable, for tests and the
// startup banner: "@name" when abstract, the path otherwise.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop shuts the listener down cooperatively and waits up to timeout
// for the accept loop to drain. Idempotent. On timeout the loop is
// abandoned; this only happens during process teardown, where the
// in-flight connection dies with the process anyway.
func (s *Server) Stop(timeout time.Duration) error {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		s.listener.Close()
		if s.path != "" {
			os.Remove(s.path)
		}
		if s.tokens != nil {
			s.tokens.Close()
		}
	})

	select {
	case <-s.done:
		return nil
	case <-s.clk.After(timeout):
		return errors.New("admin: accept loop did not stop within timeout")
	}
}
