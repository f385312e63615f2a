// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package authstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Stats gathers the counters reported through GET_STATS.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer s.put(conn)

	var stats Stats
	counters := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM users`, &stats.Users},
		{`SELECT COUNT(*) FROM users WHERE is_admin = 1`, &stats.Admins},
		{`SELECT COUNT(*) FROM sessions WHERE expires_at > ` + fmt.Sprint(s.clock.Now().Unix()), &stats.Sessions},
		{`SELECT COUNT(*) FROM auth_log`, &stats.AuditEvents},
	}
	for _, counter := range counters {
		n, err := countRows(conn, counter.query)
		if err != nil {
			return Stats{}, err
		}
		*counter.dest = n
	}

	blocked, err := s.ListBlockedIPs(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.BlockedIPs = len(blocked)

	if s.path != ":memory:" {
		if info, err := os.Stat(s.path); err == nil {
			stats.DatabaseBytes = info.Size()
		}
	}
	return stats, nil
}

// Vacuum rebuilds the database file, reclaiming free pages.
func (s *Store) Vacuum(ctx context.Context) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.put(conn)

	if err := sqlitex.ExecuteTransient(conn, `VACUUM`, nil); err != nil {
		return fmt.Errorf("authstore: vacuum: %w", err)
	}
	s.logger.Info("database compacted")
	return nil
}

// BackupResult describes a completed backup.
type BackupResult struct {
	// Path is the finished .db.zst file.
	Path string

	// Checksum is the hex BLAKE3 digest of the compressed file,
	// also written next to it as <name>.b3.
	Checksum string

	// Bytes is the compressed size.
	Bytes int64
}

// Backup writes a consistent snapshot of the database into destDir as
// a zstd-compressed file with a BLAKE3 checksum. The snapshot is taken
// with VACUUM INTO, so it is transactionally consistent and already
// compacted.
func (s *Store) Backup(ctx context.Context, destDir string) (BackupResult, error) {
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return BackupResult{}, fmt.Errorf("authstore: creating backup dir: %w", err)
	}

	stamp := s.clock.Now().UTC().Format("20060102-150405")
	rawPath := filepath.Join(destDir, "auth-"+stamp+".db")
	finalPath := rawPath + ".zst"

	conn, err := s.take(ctx)
	if err != nil {
		return BackupResult{}, err
	}
	if err := sqlitex.ExecuteTransient(conn, `VACUUM INTO ?`, &sqlitex.ExecOptions{
		Args: []any{rawPath},
	}); err != nil {
		s.put(conn)
		return BackupResult{}, fmt.Errorf("authstore: snapshot: %w", err)
	}
	s.put(conn)
	defer os.Remove(rawPath)

	checksum, size, err := compressAndSum(rawPath, finalPath)
	if err != nil {
		os.Remove(finalPath)
		return BackupResult{}, err
	}

	sumPath := finalPath + ".b3"
	if err := os.WriteFile(sumPath, []byte(checksum+"  "+filepath.Base(finalPath)+"\n"), 0o600); err != nil {
		return BackupResult{}, fmt.Errorf("authstore: writing checksum file: %w", err)
	}

	s.logger.Info("database backed up", "path", finalPath, "bytes", size, "checksum", checksum)
	return BackupResult{Path: finalPath, Checksum: checksum, Bytes: size}, nil
}

// compressAndSum zstd-compresses src into dst, hashing the compressed
// stream with BLAKE3 as it is written.
func compressAndSum(src, dst string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("authstore: opening snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("authstore: creating backup file: %w", err)
	}
	defer out.Close()

	hasher := blake3.New()
	encoder, err := zstd.NewWriter(io.MultiWriter(out, hasher))
	if err != nil {
		return "", 0, fmt.Errorf("authstore: creating compressor: %w", err)
	}

	if _, err := io.Copy(encoder, in); err != nil {
		encoder.Close()
		return "", 0, fmt.Errorf("authstore: compressing snapshot: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", 0, fmt.Errorf("authstore: finalizing compression: %w", err)
	}
	if err := out.Sync(); err != nil {
		return "", 0, fmt.Errorf("authstore: syncing backup: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("authstore: stat backup: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), info.Size(), nil
}
