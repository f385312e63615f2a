// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package authstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dawn-project/dawn/lib/authstore"
	"github.com/dawn-project/dawn/lib/clock"
)

func openTestStore(t *testing.T) (*authstore.Store, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store, err := authstore.Open(authstore.Options{
		Path:  filepath.Join(t.TempDir(), "auth.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, fake
}

// addUser creates a user with a pre-hashed password so tests that do
// not care about Argon2 cost stay fast.
func addUser(t *testing.T, store *authstore.Store, username string, isAdmin bool) {
	t.Helper()
	hash, err := store.HashPassword([]byte("initial-password"))
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := store.CreateUser(context.Background(), username, hash, isAdmin); err != nil {
		t.Fatalf("CreateUser(%q): %v", username, err)
	}
}

func TestCreateGetDeleteUser(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	addUser(t, store, "alice", true)
	addUser(t, store, "bob", false)

	user, err := store.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !user.IsAdmin || user.Username != "alice" {
		t.Errorf("GetUser = %+v", user)
	}

	if err := store.CreateUser(ctx, "alice", "x", false); !errors.Is(err, authstore.ErrDuplicate) {
		t.Errorf("duplicate CreateUser error = %v, want ErrDuplicate", err)
	}

	if err := store.DeleteUser(ctx, "bob"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := store.GetUser(ctx, "bob"); !errors.Is(err, authstore.ErrNotFound) {
		t.Errorf("GetUser after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteUser(ctx, "bob"); !errors.Is(err, authstore.ErrNotFound) {
		t.Errorf("second DeleteUser = %v, want ErrNotFound", err)
	}
}

func TestDeleteLastAdminRefused(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	addUser(t, store, "root", true)
	addUser(t, store, "user", false)

	if err := store.DeleteUser(ctx, "root"); !errors.Is(err, authstore.ErrLastAdmin) {
		t.Fatalf("deleting the only admin = %v, want ErrLastAdmin", err)
	}

	// With a second admin present the delete goes through.
	addUser(t, store, "root2", true)
	if err := store.DeleteUser(ctx, "root"); err != nil {
		t.Fatalf("deleting one of two admins: %v", err)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)

	hash, err := store.HashPassword([]byte("correct horse battery"))
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Errorf("hash %q is not a PHC argon2id string", hash)
	}

	ok, err := store.VerifyPassword(hash, []byte("correct horse battery"))
	if err != nil || !ok {
		t.Errorf("VerifyPassword(correct) = %v, %v", ok, err)
	}
	ok, err = store.VerifyPassword(hash, []byte("wrong password"))
	if err != nil || ok {
		t.Errorf("VerifyPassword(wrong) = %v, %v", ok, err)
	}
}

func TestHashPasswordWipesInput(t *testing.T) {
	store, _ := openTestStore(t)

	password := []byte("sensitive-bytes")
	if _, err := store.HashPassword(password); err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	for i, b := range password {
		if b != 0 {
			t.Fatalf("password byte %d not wiped", i)
		}
	}
}

func TestVerifyAgainstDummyAlwaysFails(t *testing.T) {
	store, _ := openTestStore(t)
	if store.VerifyAgainstDummy([]byte("anything")) {
		t.Error("dummy verification accepted a password")
	}
}

func TestSessions(t *testing.T) {
	store, fake := openTestStore(t)
	ctx := context.Background()

	addUser(t, store, "alice", true)

	token, err := store.CreateSession(ctx, "alice", "192.0.2.10", 3600)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("session token length = %d, want 64 hex chars", len(token))
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("ListSessions returned %d sessions, want 1", len(sessions))
	}
	if sessions[0].TokenPrefix != token[:8] {
		t.Errorf("TokenPrefix = %q, want %q", sessions[0].TokenPrefix, token[:8])
	}
	if sessions[0].Username != "alice" {
		t.Errorf("Username = %q", sessions[0].Username)
	}

	// Too-short prefixes must not match anything.
	if err := store.RevokeSessionByPrefix(ctx, token[:4]); !errors.Is(err, authstore.ErrNotFound) {
		t.Errorf("short prefix revoke = %v, want ErrNotFound", err)
	}
	if err := store.RevokeSessionByPrefix(ctx, token[:8]); err != nil {
		t.Fatalf("RevokeSessionByPrefix: %v", err)
	}
	sessions, _ = store.ListSessions(ctx)
	if len(sessions) != 0 {
		t.Errorf("%d sessions remain after revoke", len(sessions))
	}

	// Expired sessions drop out of the listing.
	if _, err := store.CreateSession(ctx, "alice", "192.0.2.10", 60); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	fake.Advance(2 * time.Minute)
	sessions, _ = store.ListSessions(ctx)
	if len(sessions) != 0 {
		t.Errorf("expired session still listed")
	}

	// Revoke-by-user requires the user to exist.
	if _, err := store.RevokeUserSessions(ctx, "nobody"); !errors.Is(err, authstore.ErrNotFound) {
		t.Errorf("RevokeUserSessions(nobody) = %v, want ErrNotFound", err)
	}
	if _, err := store.CreateSession(ctx, "alice", "", 3600); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := store.CreateSession(ctx, "alice", "", 3600); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	removed, err := store.RevokeUserSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("RevokeUserSessions: %v", err)
	}
	if removed != 3 {
		t.Errorf("RevokeUserSessions removed %d, want 3 (including the expired one)", removed)
	}
}

func TestAuditLog(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	events := []string{"USER_CREATED", "LOGIN_FAILED", "USER_DELETED"}
	for _, event := range events {
		err := store.AppendEvent(ctx, event, "alice", "192.0.2.1", map[string]string{"source": "test"})
		if err != nil {
			t.Fatalf("AppendEvent(%q): %v", event, err)
		}
	}

	got, err := store.QueryEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("QueryEvents returned %d events, want 3", len(got))
	}
	// Newest first.
	if got[0].Event != "USER_DELETED" || got[2].Event != "USER_CREATED" {
		t.Errorf("event order: %q ... %q", got[0].Event, got[2].Event)
	}
	if got[0].Details["source"] != "test" {
		t.Errorf("Details = %v", got[0].Details)
	}

	limited, err := store.QueryEvents(ctx, "", 2)
	if err != nil {
		t.Fatalf("QueryEvents limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d events", len(limited))
	}
}

func TestBlockedIPs(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	for range 10 {
		if err := store.RecordLoginAttempt(ctx, "198.51.100.7", "alice", false); err != nil {
			t.Fatalf("RecordLoginAttempt: %v", err)
		}
	}
	// Below threshold: never listed.
	if err := store.RecordLoginAttempt(ctx, "198.51.100.8", "bob", false); err != nil {
		t.Fatalf("RecordLoginAttempt: %v", err)
	}

	blocked, err := store.ListBlockedIPs(ctx)
	if err != nil {
		t.Fatalf("ListBlockedIPs: %v", err)
	}
	if len(blocked) != 1 || blocked[0].Address != "198.51.100.7" {
		t.Fatalf("ListBlockedIPs = %+v", blocked)
	}
	if blocked[0].FailureCount != 10 {
		t.Errorf("FailureCount = %d", blocked[0].FailureCount)
	}

	if err := store.UnblockIP(ctx, "198.51.100.7"); err != nil {
		t.Fatalf("UnblockIP: %v", err)
	}
	blocked, _ = store.ListBlockedIPs(ctx)
	if len(blocked) != 0 {
		t.Errorf("address still blocked after UnblockIP")
	}
	if err := store.UnblockIP(ctx, "203.0.113.1"); !errors.Is(err, authstore.ErrNotFound) {
		t.Errorf("UnblockIP(unknown) = %v, want ErrNotFound", err)
	}
}

func TestStatsAndMaintenance(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	addUser(t, store, "alice", true)
	addUser(t, store, "bob", false)
	if _, err := store.CreateSession(ctx, "alice", "", 3600); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.AppendEvent(ctx, "TEST", "", "", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Users != 2 || stats.Admins != 1 || stats.Sessions != 1 || stats.AuditEvents != 1 {
		t.Errorf("Stats = %+v", stats)
	}
	if stats.DatabaseBytes == 0 {
		t.Error("DatabaseBytes = 0 for a file-backed database")
	}

	if err := store.Vacuum(ctx); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}

	backupDir := t.TempDir()
	result, err := store.Backup(ctx, backupDir)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if !strings.HasSuffix(result.Path, ".db.zst") {
		t.Errorf("backup path %q", result.Path)
	}
	if len(result.Checksum) != 64 {
		t.Errorf("checksum %q is not a 256-bit hex digest", result.Checksum)
	}
	info, err := os.Stat(result.Path)
	if err != nil {
		t.Fatalf("stat backup: %v", err)
	}
	if info.Size() != result.Bytes || result.Bytes == 0 {
		t.Errorf("backup size %d, result says %d", info.Size(), result.Bytes)
	}
	if _, err := os.Stat(result.Path + ".b3"); err != nil {
		t.Errorf("checksum file missing: %v", err)
	}
}

func TestUserCountAndUnlock(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	count, err := store.UserCount(ctx)
	if err != nil || count != 0 {
		t.Fatalf("UserCount = %d, %v", count, err)
	}
	addUser(t, store, "alice", true)
	count, _ = store.UserCount(ctx)
	if count != 1 {
		t.Errorf("UserCount = %d, want 1", count)
	}

	if err := store.UnlockUser(ctx, "alice"); err != nil {
		t.Errorf("UnlockUser: %v", err)
	}
	if err := store.UnlockUser(ctx, "ghost"); !errors.Is(err, authstore.ErrNotFound) {
		t.Errorf("UnlockUser(ghost) = %v, want ErrNotFound", err)
	}

	hash, err := store.HashPassword([]byte("replacement-password"))
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := store.UpdatePassword(ctx, "alice", hash); err != nil {
		t.Errorf("UpdatePassword: %v", err)
	}
	if err := store.UpdatePassword(ctx, "ghost", hash); !errors.Is(err, authstore.ErrNotFound) {
		t.Errorf("UpdatePassword(ghost) = %v, want ErrNotFound", err)
	}
}
