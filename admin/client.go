// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/dawn-project/dawn/lib/secret"
)

// Client is the CLI side of the admin protocol. Every call opens a
// fresh connection, performs one request/response exchange, and
// closes: the server is single-flight by design and holding a
// connection open would only block other tools.
type Client struct {
	// SocketName is the abstract-namespace name tried first.
	SocketName string
	// SocketPath is the filesystem fallback.
	SocketPath string
	// Timeout bounds one whole exchange. Zero means 30 seconds.
	Timeout time.Duration
}

func (c *Client) dial() (net.Conn, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = connTimeout
	}
	if c.SocketName != "" {
		conn, err := net.DialTimeout("unix", "@"+c.SocketName, timeout)
		if err == nil {
			conn.SetDeadline(time.Now().Add(timeout))
			return conn, nil
		}
	}
	if c.SocketPath == "" {
		return nil, fmt.Errorf("admin: daemon not reachable on abstract socket %q", c.SocketName)
	}
	conn, err := net.DialTimeout("unix", c.SocketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("admin: daemon not reachable: %w", err)
	}
	conn.SetDeadline(time.Now().Add(timeout))
	return conn, nil
}

// roundTripSimple sends one request and reads a simple response.
// The payload is wiped before returning; callers hand over ownership.
func (c *Client) roundTripSimple(msgType MsgType, payload []byte) (RespCode, error) {
	defer secret.Wipe(payload)
	if len(payload) > MaxPayload {
		// Fields that are individually in range can still overflow the
		// request in combination; say so before touching the socket.
		return 0, fmt.Errorf("admin: request is %d bytes but the wire limit is %d; shorten the combined username and password fields",
			len(payload), MaxPayload)
	}
	conn, err := c.dial()
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if err := WriteMessage(conn, Message{Type: msgType, Payload: payload}); err != nil {
		return 0, err
	}
	return ReadSimple(conn)
}

// roundTripList sends one request and reads a list response.
func (c *Client) roundTripList(msgType MsgType, payload []byte) (ListResponse, error) {
	conn, err := c.dial()
	if err != nil {
		return ListResponse{}, err
	}
	defer conn.Close()
	if err := WriteMessage(conn, Message{Type: msgType, Payload: payload}); err != nil {
		return ListResponse{}, err
	}
	return ReadList(conn)
}

// Ping checks that the daemon's admin socket is alive.
func (c *Client) Ping() (RespCode, error) {
	return c.roundTripSimple(MsgPing, nil)
}

// ValidateSetupToken checks a transcribed setup token. A SUCCESS
// consumes the token.
func (c *Client) ValidateSetupToken(token []byte) (RespCode, error) {
	return c.roundTripSimple(MsgValidateSetupToken, token)
}

// CreateUser performs the bootstrap user creation. The token and
// password are wiped before returning.
func (c *Client) CreateUser(token []byte, username string, password []byte, isAdmin bool) (RespCode, error) {
	defer secret.Wipe(token)
	defer secret.Wipe(password)
	if len(token) != TokenLength {
		return 0, fmt.Errorf("admin: setup token must be %d characters", TokenLength)
	}
	if err := checkUsername(username); err != nil {
		return 0, err
	}
	if err := checkPassword(password); err != nil {
		return 0, err
	}

	payload := make([]byte, 0, TokenLength+3+len(username)+len(password))
	payload = append(payload, token...)
	payload = append(payload, uint8(len(username)), uint8(len(password)), boolByte(isAdmin))
	payload = append(payload, username...)
	payload = append(payload, password...)
	return c.roundTripSimple(MsgCreateUser, payload)
}

// Credentials authenticates destructive operations.
type Credentials struct {
	Username string
	Password []byte
}

// authPrefix encodes the credential prefix. The caller's password is
// not wiped here; the complete payload copy is wiped by the round
// trip and the original by the CLI.
func authPrefix(creds Credentials, extra int) ([]byte, error) {
	if err := checkUsername(creds.Username); err != nil {
		return nil, err
	}
	if err := checkPassword(creds.Password); err != nil {
		return nil, err
	}
	payload := make([]byte, 0, 2+len(creds.Username)+len(creds.Password)+extra)
	payload = append(payload, uint8(len(creds.Username)), uint8(len(creds.Password)))
	payload = append(payload, creds.Username...)
	payload = append(payload, creds.Password...)
	return payload, nil
}

func appendString(payload []byte, s string) ([]byte, error) {
	if len(s) == 0 || len(s) > 255 {
		return nil, fmt.Errorf("admin: argument length %d out of range", len(s))
	}
	payload = append(payload, uint8(len(s)))
	return append(payload, s...), nil
}

// DeleteUser removes an account.
func (c *Client) DeleteUser(creds Credentials, username string) (RespCode, error) {
	payload, err := authPrefix(creds, 1+len(username))
	if err != nil {
		return 0, err
	}
	if payload, err = appendString(payload, username); err != nil {
		secret.Wipe(payload)
		return 0, err
	}
	return c.roundTripSimple(MsgDeleteUser, payload)
}

// ChangePassword sets a new password for an account. The new
// password is wiped before returning. The admin credentials, target
// name, and new password share one request, so maximal values of all
// four fields can exceed the wire limit even though each is
// individually in range; such requests fail before dialing.
func (c *Client) ChangePassword(creds Credentials, username string, newPassword []byte) (RespCode, error) {
	defer secret.Wipe(newPassword)
	payload, err := authPrefix(creds, 2+len(username)+len(newPassword))
	if err != nil {
		return 0, err
	}
	if err := checkUsername(username); err != nil {
		secret.Wipe(payload)
		return 0, err
	}
	if err := checkPassword(newPassword); err != nil {
		secret.Wipe(payload)
		return 0, err
	}
	payload = append(payload, uint8(len(username)), uint8(len(newPassword)))
	payload = append(payload, username...)
	payload = append(payload, newPassword...)
	return c.roundTripSimple(MsgChangePassword, payload)
}

// UnlockUser clears a failed-login lockout.
func (c *Client) UnlockUser(creds Credentials, username string) (RespCode, error) {
	payload, err := authPrefix(creds, 1+len(username))
	if err != nil {
		return 0, err
	}
	if payload, err = appendString(payload, username); err != nil {
		secret.Wipe(payload)
		return 0, err
	}
	return c.roundTripSimple(MsgUnlockUser, payload)
}

// RevokeSession deletes a session by its token prefix.
func (c *Client) RevokeSession(creds Credentials, prefix string) (RespCode, error) {
	payload, err := authPrefix(creds, 1+len(prefix))
	if err != nil {
		return 0, err
	}
	if payload, err = appendString(payload, prefix); err != nil {
		secret.Wipe(payload)
		return 0, err
	}
	return c.roundTripSimple(MsgRevokeSession, payload)
}

// RevokeUserSessions deletes every session for one account.
func (c *Client) RevokeUserSessions(creds Credentials, username string) (RespCode, error) {
	payload, err := authPrefix(creds, 1+len(username))
	if err != nil {
		return 0, err
	}
	if payload, err = appendString(payload, username); err != nil {
		secret.Wipe(payload)
		return 0, err
	}
	return c.roundTripSimple(MsgRevokeUserSessions, payload)
}

// DBBackup triggers a compressed, checksummed database backup.
func (c *Client) DBBackup(creds Credentials) (RespCode, error) {
	payload, err := authPrefix(creds, 0)
	if err != nil {
		return 0, err
	}
	return c.roundTripSimple(MsgDBBackup, payload)
}

// DBCompact vacuums the database.
func (c *Client) DBCompact(creds Credentials) (RespCode, error) {
	payload, err := authPrefix(creds, 0)
	if err != nil {
		return 0, err
	}
	return c.roundTripSimple(MsgDBCompact, payload)
}

// UnblockIP clears the login rate limiter for one client address.
func (c *Client) UnblockIP(creds Credentials, addr string) (RespCode, error) {
	payload, err := authPrefix(creds, 1+len(addr))
	if err != nil {
		return 0, err
	}
	if payload, err = appendString(payload, addr); err != nil {
		secret.Wipe(payload)
		return 0, err
	}
	return c.roundTripSimple(MsgUnblockIP, payload)
}

// ListUsers fetches all accounts.
func (c *Client) ListUsers() ([]UserItem, ListResponse, error) {
	resp, err := c.roundTripList(MsgListUsers, nil)
	if err != nil || resp.Code != RespSuccess {
		return nil, resp, err
	}
	items, err := UnpackUsers(resp.Payload)
	return items, resp, err
}

// ListSessions fetches all unexpired sessions.
func (c *Client) ListSessions() ([]SessionItem, ListResponse, error) {
	resp, err := c.roundTripList(MsgListSessions, nil)
	if err != nil || resp.Code != RespSuccess {
		return nil, resp, err
	}
	items, err := UnpackSessions(resp.Payload)
	return items, resp, err
}

// GetStats fetches database counters.
func (c *Client) GetStats() (StatsItem, ListResponse, error) {
	resp, err := c.roundTripList(MsgGetStats, nil)
	if err != nil || resp.Code != RespSuccess {
		return StatsItem{}, resp, err
	}
	stats, err := UnpackStats(resp.Payload)
	return stats, resp, err
}

// QueryLog fetches recent audit events, newest first. A zero limit
// uses the server default; an empty username matches all events.
func (c *Client) QueryLog(limit int, username string) ([]AuditItem, ListResponse, error) {
	var payload []byte
	if limit != 0 || username != "" {
		if limit < 0 || limit > 0xFFFF {
			return nil, ListResponse{}, fmt.Errorf("admin: limit %d out of range", limit)
		}
		if len(username) > maxUsernameLen {
			return nil, ListResponse{}, fmt.Errorf("admin: username too long")
		}
		payload = make([]byte, 3+len(username))
		binary.LittleEndian.PutUint16(payload[0:2], uint16(limit))
		payload[2] = uint8(len(username))
		copy(payload[3:], username)
	}
	resp, err := c.roundTripList(MsgQueryLog, payload)
	if err != nil || resp.Code != RespSuccess {
		return nil, resp, err
	}
	items, err := UnpackAuditEvents(resp.Payload)
	return items, resp, err
}

// ListBlockedIPs fetches addresses currently held by the login rate
// limiter.
func (c *Client) ListBlockedIPs() ([]BlockedIPItem, ListResponse, error) {
	resp, err := c.roundTripList(MsgListBlockedIPs, nil)
	if err != nil || resp.Code != RespSuccess {
		return nil, resp, err
	}
	items, err := UnpackBlockedIPs(resp.Payload)
	return items, resp, err
}

func checkUsername(username string) error {
	if len(username) < 1 || len(username) > maxUsernameLen {
		return fmt.Errorf("admin: username must be 1-%d characters", maxUsernameLen)
	}
	return nil
}

func checkPassword(password []byte) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return fmt.Errorf("admin: password must be %d-%d characters", minPasswordLen, maxPasswordLen)
	}
	return nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
