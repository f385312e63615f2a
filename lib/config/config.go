// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config provides configuration loading for the Dawn daemon.
//
// Configuration is loaded from a single YAML file specified by the
// DAWN_CONFIG environment variable or a --config flag. There is no
// automatic discovery and no fallback chain: configuration must be
// deterministic and auditable.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Zero values are filled with
// defaults by Load; a missing file yields the defaults unchanged.
type Config struct {
	// Paths configures directory and file locations.
	Paths PathsConfig `yaml:"paths"`

	// Admin configures the local administrative control plane.
	Admin AdminConfig `yaml:"admin"`

	// Database configures the auth store.
	Database DatabaseConfig `yaml:"database"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Run is the runtime directory for sockets and lockout state.
	// Default: /run/dawn. Created with mode 0700 if absent.
	Run string `yaml:"run"`

	// State is the persistent state directory (database, backups).
	// Default: /var/lib/dawn.
	State string `yaml:"state"`
}

// AdminConfig configures the admin control-plane socket.
type AdminConfig struct {
	// SocketName is the Linux abstract-namespace socket name.
	// Default: dawn-admin.
	SocketName string `yaml:"socket_name"`

	// SocketPath is the filesystem fallback socket path, used when
	// abstract sockets are unavailable. Default: <run>/admin.sock.
	SocketPath string `yaml:"socket_path"`

	// LockoutFile persists the setup-token rate-limit state across
	// restarts. Default: <run>/token_lockout.state.
	LockoutFile string `yaml:"lockout_file"`
}

// DatabaseConfig configures the auth store.
type DatabaseConfig struct {
	// Path is the sqlite database file. Default: <state>/auth.db.
	Path string `yaml:"path"`

	// BackupDir is where db-backup writes compressed snapshots.
	// Default: <state>/backups.
	BackupDir string `yaml:"backup_dir"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration file at path. An empty path consults
// the DAWN_CONFIG environment variable; if that is also empty, the
// defaults are returned.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("DAWN_CONFIG")
	}
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Paths.Run == "" {
		c.Paths.Run = "/run/dawn"
	}
	if c.Paths.State == "" {
		c.Paths.State = "/var/lib/dawn"
	}
	if c.Admin.SocketName == "" {
		c.Admin.SocketName = "dawn-admin"
	}
	if c.Admin.SocketPath == "" {
		c.Admin.SocketPath = filepath.Join(c.Paths.Run, "admin.sock")
	}
	if c.Admin.LockoutFile == "" {
		c.Admin.LockoutFile = filepath.Join(c.Paths.Run, "token_lockout.state")
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.Paths.State, "auth.db")
	}
	if c.Database.BackupDir == "" {
		c.Database.BackupDir = filepath.Join(c.Paths.State, "backups")
	}
}

func (c *Config) validate() error {
	if !filepath.IsAbs(c.Paths.Run) {
		return fmt.Errorf("paths.run must be absolute, got %q", c.Paths.Run)
	}
	if !filepath.IsAbs(c.Paths.State) {
		return fmt.Errorf("paths.state must be absolute, got %q", c.Paths.State)
	}
	if c.Admin.SocketName == "" && c.Admin.SocketPath == "" {
		return fmt.Errorf("admin socket requires a name or a path")
	}
	return nil
}
