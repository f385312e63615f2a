// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// dawn-daemon is the Dawn assistant daemon. It owns the auth
// database and exposes the local administrative control plane that
// dawn-admin talks to.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dawn-project/dawn/admin"
	"github.com/dawn-project/dawn/lib/authstore"
	"github.com/dawn-project/dawn/lib/clock"
	"github.com/dawn-project/dawn/lib/config"
)

// stopTimeout bounds the admin listener drain at shutdown.
const stopTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = pflag.String("config", "", "configuration file (default: $DAWN_CONFIG)")
		logLevel   = pflag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "dawn-daemon: bad --log-level %q\n", *logLevel)
		return 2
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading configuration failed", "error", err)
		return 1
	}
	for _, dir := range []string{cfg.Paths.Run, cfg.Paths.State} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			logger.Error("creating directory failed", "dir", dir, "error", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := authstore.Open(authstore.Options{
		Path:   cfg.Database.Path,
		Logger: logger,
	})
	if err != nil {
		logger.Error("opening auth store failed", "error", err)
		return 1
	}
	defer store.Close()

	adminServer := startAdmin(ctx, cfg, store, logger)

	logger.Info("dawn-daemon running", "pid", os.Getpid())
	<-ctx.Done()
	logger.Info("shutting down")

	// The admin listener goes first so no new request can touch the
	// store while it closes.
	if adminServer != nil {
		if err := adminServer.Stop(stopTimeout); err != nil {
			logger.Warn("admin socket shutdown", "error", err)
		}
	}
	return 0
}

// startAdmin brings up the admin control plane. A setup token is
// generated only when no admin account exists yet; if token
// generation fails (entropy failure) the admin socket stays down
// entirely — fail closed — while the rest of the daemon runs on. A
// nil return means the control plane is unavailable.
func startAdmin(ctx context.Context, cfg config.Config, store *authstore.Store, logger *slog.Logger) *admin.Server {
	stats, err := store.Stats(ctx)
	if err != nil {
		logger.Error("admin socket disabled: cannot inspect auth store", "error", err)
		return nil
	}

	var tokens *admin.TokenManager
	if stats.Admins == 0 {
		tokens, err = admin.NewTokenManager(clock.Real(), logger, cfg.Admin.LockoutFile)
		if err != nil {
			logger.Error("admin socket disabled: setup token generation failed", "error", err)
			return nil
		}
	} else {
		logger.Info("setup token skipped: admin account exists", "admins", stats.Admins)
	}

	server, err := admin.NewServer(admin.Options{
		Store:      store,
		Tokens:     tokens,
		Logger:     logger,
		Clock:      clock.Real(),
		SocketName: cfg.Admin.SocketName,
		SocketPath: cfg.Admin.SocketPath,
		BackupDir:  cfg.Database.BackupDir,
	})
	if err != nil {
		if tokens != nil {
			tokens.Close()
		}
		logger.Error("admin socket disabled: bind failed", "error", err)
		return nil
	}

	if tokens != nil {
		printTokenBanner(tokens, logger)
	}
	return server
}

// printTokenBanner shows the one-time setup token. It goes straight
// to stderr, bypassing the structured logger: log output may be
// shipped or persisted, and the token must never be.
func printTokenBanner(tokens *admin.TokenManager, logger *slog.Logger) {
	token, err := tokens.Reveal()
	if err != nil {
		logger.Error("setup token unavailable for display", "error", err)
		return
	}
	line := strings.Repeat("=", 64)
	fmt.Fprintf(os.Stderr, "\n%s\n"+
		"  FIRST-RUN SETUP\n"+
		"  No admin account exists yet. Create one within 5 minutes:\n"+
		"\n"+
		"      dawn-admin setup\n"+
		"\n"+
		"  Setup token:  %s\n"+
		"\n"+
		"  The token is shown only once and is valid for one use.\n"+
		"%s\n\n", line, token, line)
}
