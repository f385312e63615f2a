// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"testing"
	"time"

	"github.com/dawn-project/dawn/lib/authstore"
)

func TestPackUsersRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	users := []authstore.User{
		{Username: "alice", IsAdmin: true, CreatedAt: now.Add(-time.Hour), LastLogin: now.Add(-time.Minute)},
		{Username: "bob", CreatedAt: now.Add(-2 * time.Hour), LockedUntil: now.Add(time.Hour)},
		{Username: "never-logged-in", CreatedAt: now},
	}

	p := newListPacker()
	for _, u := range users {
		p.add(packUser(u, now))
	}
	if p.truncated {
		t.Fatal("unexpected truncation")
	}
	got, err := UnpackUsers(p.buf)
	if err != nil {
		t.Fatalf("UnpackUsers: %v", err)
	}
	if len(got) != len(users) {
		t.Fatalf("item count: got %d, want %d", len(got), len(users))
	}
	if !got[0].IsAdmin || got[0].Locked {
		t.Errorf("alice flags: got admin=%v locked=%v", got[0].IsAdmin, got[0].Locked)
	}
	if !got[1].Locked {
		t.Error("bob should be locked")
	}
	if got[1].Username != "bob" {
		t.Errorf("username: got %q, want bob", got[1].Username)
	}
	if !got[2].LastLogin.IsZero() {
		t.Errorf("never-logged-in LastLogin: got %v, want zero", got[2].LastLogin)
	}
	if !got[0].LastLogin.Equal(now.Add(-time.Minute).Truncate(time.Second)) {
		t.Errorf("alice LastLogin: got %v", got[0].LastLogin)
	}
}

func TestPackUserLockExpired(t *testing.T) {
	now := time.Now()
	u := authstore.User{Username: "carol", CreatedAt: now, LockedUntil: now.Add(-time.Second)}
	got, err := UnpackUsers(packUser(u, now))
	if err != nil {
		t.Fatalf("UnpackUsers: %v", err)
	}
	if got[0].Locked {
		t.Error("expired lock should not report locked")
	}
}

func TestPackSessionsRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := []authstore.Session{
		{TokenPrefix: "AB12CD34", Username: "alice", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{TokenPrefix: "EF56GH78", Username: "bob", CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(30 * time.Minute)},
	}
	p := newListPacker()
	for _, s := range sessions {
		p.add(packSession(s))
	}
	got, err := UnpackSessions(p.buf)
	if err != nil {
		t.Fatalf("UnpackSessions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("item count: got %d, want 2", len(got))
	}
	if got[0].TokenPrefix != "AB12CD34" || got[0].Username != "alice" {
		t.Errorf("first session: got %+v", got[0])
	}
	if !got[1].ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("expires: got %v", got[1].ExpiresAt)
	}
}

func TestPackAuditRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []authstore.AuditEvent{
		{Time: now, Event: "login_success", Username: "alice"},
		{Time: now.Add(-time.Minute), Event: "user_created", Username: ""},
	}
	p := newListPacker()
	for _, e := range events {
		p.add(packAuditEvent(e))
	}
	got, err := UnpackAuditEvents(p.buf)
	if err != nil {
		t.Fatalf("UnpackAuditEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("item count: got %d, want 2", len(got))
	}
	if got[0].Event != "login_success" || got[0].Username != "alice" {
		t.Errorf("first event: got %+v", got[0])
	}
	if got[1].Username != "" {
		t.Errorf("system event username: got %q, want empty", got[1].Username)
	}
}

func TestPackBlockedIPsRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newListPacker()
	p.add(packBlockedIP(authstore.BlockedIP{
		Address:      "192.0.2.7",
		FailureCount: 12,
		BlockedUntil: now.Add(10 * time.Minute),
	}))
	got, err := UnpackBlockedIPs(p.buf)
	if err != nil {
		t.Fatalf("UnpackBlockedIPs: %v", err)
	}
	if got[0].Address != "192.0.2.7" || got[0].FailureCount != 12 {
		t.Errorf("blocked ip: got %+v", got[0])
	}
}

func TestPackStatsRoundTrip(t *testing.T) {
	want := authstore.Stats{
		Users: 4, Admins: 1, Sessions: 9, AuditEvents: 120, BlockedIPs: 2,
		DatabaseBytes: 1 << 20,
	}
	got, err := UnpackStats(packStats(want))
	if err != nil {
		t.Fatalf("UnpackStats: %v", err)
	}
	if got.Users != 4 || got.Admins != 1 || got.Sessions != 9 ||
		got.AuditEvents != 120 || got.BlockedIPs != 2 || got.DatabaseBytes != 1<<20 {
		t.Errorf("stats: got %+v", got)
	}
}

func TestListPackerTruncates(t *testing.T) {
	p := newListPacker()
	item := make([]byte, 1000)
	for i := 0; i < 20; i++ {
		p.add(item)
	}
	if !p.truncated {
		t.Fatal("expected truncation")
	}
	if p.flags()&ListFlagTruncated == 0 {
		t.Fatal("truncated flag not set")
	}
	if int(p.items)*1000 != len(p.buf) {
		t.Errorf("items %d inconsistent with buffer %d", p.items, len(p.buf))
	}
	if len(p.buf) > listBufferCap {
		t.Errorf("buffer %d exceeds cap %d", len(p.buf), listBufferCap)
	}
}

func TestUnpackRejectsShortPayloads(t *testing.T) {
	if _, err := UnpackUsers([]byte{5, 0, 1}); err == nil {
		t.Error("UnpackUsers accepted short payload")
	}
	if _, err := UnpackSessions(make([]byte, 17)); err == nil {
		t.Error("UnpackSessions accepted short payload")
	}
	if _, err := UnpackAuditEvents([]byte{200, 0, 1, 2, 3, 4, 5, 6, 7, 8}); err == nil {
		t.Error("UnpackAuditEvents accepted overrunning lengths")
	}
	if _, err := UnpackStats(make([]byte, 5)); err == nil {
		t.Error("UnpackStats accepted short payload")
	}
}
