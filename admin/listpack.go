// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dawn-project/dawn/lib/authstore"
)

// List payloads pack variable-length items into a fixed-capacity
// buffer. Items that do not fit are dropped and the truncated flag is
// set; the client sees how many items arrived and that more exist.
// All integers are little-endian; timestamps are unix seconds, zero
// meaning "never".

// listBufferCap bounds a single list payload. Responses have no
// pagination, so this is also the hard ceiling on what one query
// returns.
const listBufferCap = 16 * 1024

type listPacker struct {
	buf       []byte
	items     uint16
	truncated bool
}

func newListPacker() *listPacker {
	return &listPacker{buf: make([]byte, 0, listBufferCap)}
}

// add appends one encoded item if it fits whole. Once an item is
// dropped, every later item is dropped too, keeping the payload a
// prefix of the full result.
func (p *listPacker) add(item []byte) {
	if p.truncated || len(p.buf)+len(item) > listBufferCap {
		p.truncated = true
		return
	}
	p.buf = append(p.buf, item...)
	p.items++
}

func (p *listPacker) flags() uint16 {
	if p.truncated {
		return ListFlagTruncated
	}
	return 0
}

func unixOrZero(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix())
}

func timeOrZero(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0)
}

// User item: name_len u8, flags u8 (bit0 admin, bit1 locked),
// created i64, last_login i64, name.

const (
	userFlagAdmin  = 0x01
	userFlagLocked = 0x02
)

func packUser(u authstore.User, now time.Time) []byte {
	var flags uint8
	if u.IsAdmin {
		flags |= userFlagAdmin
	}
	if u.LockedUntil.After(now) {
		flags |= userFlagLocked
	}
	item := make([]byte, 2+8+8+len(u.Username))
	item[0] = uint8(len(u.Username))
	item[1] = flags
	binary.LittleEndian.PutUint64(item[2:10], unixOrZero(u.CreatedAt))
	binary.LittleEndian.PutUint64(item[10:18], unixOrZero(u.LastLogin))
	copy(item[18:], u.Username)
	return item
}

// UserItem is the client-side decoding of one list-users entry.
type UserItem struct {
	Username  string
	IsAdmin   bool
	Locked    bool
	CreatedAt time.Time
	LastLogin time.Time
}

// UnpackUsers decodes a LIST_USERS payload.
func UnpackUsers(payload []byte) ([]UserItem, error) {
	var items []UserItem
	for len(payload) > 0 {
		if len(payload) < 18 {
			return nil, fmt.Errorf("admin: short user item: %d bytes", len(payload))
		}
		nameLen := int(payload[0])
		if len(payload) < 18+nameLen {
			return nil, fmt.Errorf("admin: user item name overruns payload")
		}
		items = append(items, UserItem{
			Username:  string(payload[18 : 18+nameLen]),
			IsAdmin:   payload[1]&userFlagAdmin != 0,
			Locked:    payload[1]&userFlagLocked != 0,
			CreatedAt: timeOrZero(binary.LittleEndian.Uint64(payload[2:10])),
			LastLogin: timeOrZero(binary.LittleEndian.Uint64(payload[10:18])),
		})
		payload = payload[18+nameLen:]
	}
	return items, nil
}

// Session item: prefix_len u8, name_len u8, created i64, expires i64,
// prefix, name.

func packSession(s authstore.Session) []byte {
	item := make([]byte, 2+8+8+len(s.TokenPrefix)+len(s.Username))
	item[0] = uint8(len(s.TokenPrefix))
	item[1] = uint8(len(s.Username))
	binary.LittleEndian.PutUint64(item[2:10], unixOrZero(s.CreatedAt))
	binary.LittleEndian.PutUint64(item[10:18], unixOrZero(s.ExpiresAt))
	n := copy(item[18:], s.TokenPrefix)
	copy(item[18+n:], s.Username)
	return item
}

// SessionItem is the client-side decoding of one list-sessions entry.
type SessionItem struct {
	TokenPrefix string
	Username    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// UnpackSessions decodes a LIST_SESSIONS payload.
func UnpackSessions(payload []byte) ([]SessionItem, error) {
	var items []SessionItem
	for len(payload) > 0 {
		if len(payload) < 18 {
			return nil, fmt.Errorf("admin: short session item: %d bytes", len(payload))
		}
		prefixLen, nameLen := int(payload[0]), int(payload[1])
		if len(payload) < 18+prefixLen+nameLen {
			return nil, fmt.Errorf("admin: session item strings overrun payload")
		}
		items = append(items, SessionItem{
			TokenPrefix: string(payload[18 : 18+prefixLen]),
			Username:    string(payload[18+prefixLen : 18+prefixLen+nameLen]),
			CreatedAt:   timeOrZero(binary.LittleEndian.Uint64(payload[2:10])),
			ExpiresAt:   timeOrZero(binary.LittleEndian.Uint64(payload[10:18])),
		})
		payload = payload[18+prefixLen+nameLen:]
	}
	return items, nil
}

// Audit item: event_len u8, user_len u8, time i64, event, username.

func packAuditEvent(e authstore.AuditEvent) []byte {
	item := make([]byte, 2+8+len(e.Event)+len(e.Username))
	item[0] = uint8(len(e.Event))
	item[1] = uint8(len(e.Username))
	binary.LittleEndian.PutUint64(item[2:10], unixOrZero(e.Time))
	n := copy(item[10:], e.Event)
	copy(item[10+n:], e.Username)
	return item
}

// AuditItem is the client-side decoding of one query-log entry.
type AuditItem struct {
	Time     time.Time
	Event    string
	Username string
}

// UnpackAuditEvents decodes a QUERY_LOG payload.
func UnpackAuditEvents(payload []byte) ([]AuditItem, error) {
	var items []AuditItem
	for len(payload) > 0 {
		if len(payload) < 10 {
			return nil, fmt.Errorf("admin: short audit item: %d bytes", len(payload))
		}
		eventLen, userLen := int(payload[0]), int(payload[1])
		if len(payload) < 10+eventLen+userLen {
			return nil, fmt.Errorf("admin: audit item strings overrun payload")
		}
		items = append(items, AuditItem{
			Time:     timeOrZero(binary.LittleEndian.Uint64(payload[2:10])),
			Event:    string(payload[10 : 10+eventLen]),
			Username: string(payload[10+eventLen : 10+eventLen+userLen]),
		})
		payload = payload[10+eventLen+userLen:]
	}
	return items, nil
}

// Blocked-IP item: addr_len u8, count u16, until i64, addr.

func packBlockedIP(b authstore.BlockedIP) []byte {
	item := make([]byte, 3+8+len(b.Address))
	item[0] = uint8(len(b.Address))
	binary.LittleEndian.PutUint16(item[1:3], uint16(b.FailureCount))
	binary.LittleEndian.PutUint64(item[3:11], unixOrZero(b.BlockedUntil))
	copy(item[11:], b.Address)
	return item
}

// BlockedIPItem is the client-side decoding of one blocked-IP entry.
type BlockedIPItem struct {
	Address      string
	FailureCount int
	BlockedUntil time.Time
}

// UnpackBlockedIPs decodes a LIST_BLOCKED_IPS payload.
func UnpackBlockedIPs(payload []byte) ([]BlockedIPItem, error) {
	var items []BlockedIPItem
	for len(payload) > 0 {
		if len(payload) < 11 {
			return nil, fmt.Errorf("admin: short blocked-ip item: %d bytes", len(payload))
		}
		addrLen := int(payload[0])
		if len(payload) < 11+addrLen {
			return nil, fmt.Errorf("admin: blocked-ip address overruns payload")
		}
		items = append(items, BlockedIPItem{
			Address:      string(payload[11 : 11+addrLen]),
			FailureCount: int(binary.LittleEndian.Uint16(payload[1:3])),
			BlockedUntil: timeOrZero(binary.LittleEndian.Uint64(payload[3:11])),
		})
		payload = payload[11+addrLen:]
	}
	return items, nil
}

// Stats item: a single fixed record of five u32 counters and a u64
// byte size.

const statsItemSize = 5*4 + 8

func packStats(s authstore.Stats) []byte {
	item := make([]byte, statsItemSize)
	binary.LittleEndian.PutUint32(item[0:4], uint32(s.Users))
	binary.LittleEndian.PutUint32(item[4:8], uint32(s.Admins))
	binary.LittleEndian.PutUint32(item[8:12], uint32(s.Sessions))
	binary.LittleEndian.PutUint32(item[12:16], uint32(s.AuditEvents))
	binary.LittleEndian.PutUint32(item[16:20], uint32(s.BlockedIPs))
	binary.LittleEndian.PutUint64(item[20:28], uint64(s.DatabaseBytes))
	return item
}

// StatsItem is the client-side decoding of the GET_STATS payload.
type StatsItem struct {
	Users         int
	Admins        int
	Sessions      int
	AuditEvents   int
	BlockedIPs    int
	DatabaseBytes int64
}

// UnpackStats decodes a GET_STATS payload.
func UnpackStats(payload []byte) (StatsItem, error) {
	if len(payload) != statsItemSize {
		return StatsItem{}, fmt.Errorf("admin: stats payload is %d bytes, want %d", len(payload), statsItemSize)
	}
	return StatsItem{
		Users:         int(binary.LittleEndian.Uint32(payload[0:4])),
		Admins:        int(binary.LittleEndian.Uint32(payload[4:8])),
		Sessions:      int(binary.LittleEndian.Uint32(payload[8:12])),
		AuditEvents:   int(binary.LittleEndian.Uint32(payload[12:16])),
		BlockedIPs:    int(binary.LittleEndian.Uint32(payload[16:20])),
		DatabaseBytes: int64(binary.LittleEndian.Uint64(payload[20:28])),
	}, nil
}
