// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dawn-project/dawn/lib/authstore"
	"github.com/dawn-project/dawn/lib/secret"
)

// Credential field bounds, shared by CREATE_USER and the destructive-op
// auth prefix.
const (
	maxUsernameLen = 63
	minPasswordLen = 8
	maxPasswordLen = 128
)

// defaultLogLimit applies when QUERY_LOG does not name one.
const defaultLogLimit = 50

func (s *Server) handleConn(conn *net.UnixConn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	// Peer gate first: nothing is parsed for a peer we do not trust.
	cred, err := peerCred(conn)
	if err != nil {
		s.logger.Warn("admin peer credential check failed", "error", err)
		WriteSimple(conn, RespUnauthorized)
		return
	}
	if !peerAllowed(cred, s.daemonUID) {
		s.logger.Warn("admin connection rejected",
			"uid", cred.Uid, "pid", cred.Pid, "want_uid", s.daemonUID)
		WriteSimple(conn, RespUnauthorized)
		return
	}
	s.logger.Debug("admin client connected", "uid", cred.Uid, "pid", cred.Pid)

	msg, err := ReadMessage(conn)
	if err != nil {
		switch {
		case errors.Is(err, ErrVersionMismatch):
			WriteSimple(conn, RespVersionMismatch)
		case errors.Is(err, ErrPayloadTooLarge):
			WriteSimple(conn, RespFailure)
		default:
			// Short or absent message: close silently.
			s.logger.Warn("admin request unreadable", "error", err)
		}
		return
	}
	// Payloads can carry passwords and the setup token.
	defer secret.Wipe(msg.Payload)

	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	defer cancel()
	s.dispatch(ctx, conn, msg)
}

func (s *Server) dispatch(ctx context.Context, w io.Writer, msg Message) {
	switch msg.Type {
	case MsgPing:
		s.handlePing(w, msg.Payload)
	case MsgValidateSetupToken:
		s.handleValidateToken(w, msg.Payload)
	case MsgCreateUser:
		s.handleCreateUser(ctx, w, msg.Payload)
	case MsgListUsers:
		s.handleListUsers(ctx, w, msg.Payload)
	case MsgDeleteUser:
		s.handleDeleteUser(ctx, w, msg.Payload)
	case MsgChangePassword:
		s.handleChangePassword(ctx, w, msg.Payload)
	case MsgUnlockUser:
		s.handleUnlockUser(ctx, w, msg.Payload)
	case MsgListSessions:
		s.handleListSessions(ctx, w, msg.Payload)
	case MsgRevokeSession:
		s.handleRevokeSession(ctx, w, msg.Payload)
	case MsgRevokeUserSessions:
		s.handleRevokeUserSessions(ctx, w, msg.Payload)
	case MsgGetStats:
		s.handleGetStats(ctx, w, msg.Payload)
	case MsgQueryLog:
		s.handleQueryLog(ctx, w, msg.Payload)
	case MsgDBBackup:
		s.handleDBBackup(ctx, w, msg.Payload)
	case MsgDBCompact:
		s.handleDBCompact(ctx, w, msg.Payload)
	case MsgListBlockedIPs:
		s.handleListBlockedIPs(ctx, w, msg.Payload)
	case MsgUnblockIP:
		s.handleUnblockIP(ctx, w, msg.Payload)
	default:
		s.logger.Warn("unknown admin message type", "type", fmt.Sprintf("0x%02x", uint8(msg.Type)))
		WriteSimple(w, RespFailure)
	}
}

func (s *Server) handlePing(w io.Writer, payload []byte) {
	if len(payload) != 0 {
		WriteSimple(w, RespFailure)
		return
	}
	WriteSimple(w, RespSuccess)
}

// tokenRespCode maps token-manager outcomes to the wire. Every
// failure mode except rate limiting collapses to FAILURE so the
// caller cannot probe token state.
func tokenRespCode(err error) RespCode {
	if errors.Is(err, ErrTokenLockedOut) {
		return RespRateLimited
	}
	return RespFailure
}

func (s *Server) handleValidateToken(w io.Writer, payload []byte) {
	if s.tokens == nil {
		s.logger.Warn("setup token validation refused: bootstrap complete")
		WriteSimple(w, RespFailure)
		return
	}
	if err := s.tokens.Validate(payload); err != nil {
		s.logger.Warn("setup token validation failed", "error", err)
		WriteSimple(w, tokenRespCode(err))
		return
	}
	s.logger.Info("setup token validated")
	WriteSimple(w, RespSuccess)
}

func (s *Server) handleCreateUser(ctx context.Context, w io.Writer, payload []byte) {
	// Layout: token[24], username_len u8, password_len u8,
	// is_admin u8, username, password.
	const fixed = TokenLength + 3
	if len(payload) < fixed {
		WriteSimple(w, RespFailure)
		return
	}
	token := payload[:TokenLength]
	usernameLen := int(payload[TokenLength])
	passwordLen := int(payload[TokenLength+1])
	isAdmin := payload[TokenLength+2] != 0

	if usernameLen < 1 || usernameLen > maxUsernameLen {
		s.logger.Warn("create user: bad username length", "len", usernameLen)
		WriteSimple(w, RespFailure)
		return
	}
	if passwordLen < minPasswordLen || passwordLen > maxPasswordLen {
		s.logger.Warn("create user: bad password length", "len", passwordLen)
		WriteSimple(w, RespFailure)
		return
	}
	if len(payload) != fixed+usernameLen+passwordLen {
		s.logger.Warn("create user: payload length mismatch",
			"got", len(payload), "want", fixed+usernameLen+passwordLen)
		WriteSimple(w, RespFailure)
		return
	}
	username := string(payload[fixed : fixed+usernameLen])
	password := payload[fixed+usernameLen:]

	if s.tokens == nil {
		s.logger.Warn("create user refused: bootstrap complete")
		WriteSimple(w, RespFailure)
		return
	}

	var serviceErr, storeErr error
	err := s.tokens.Consume(token, func() error {
		hash, err := s.store.HashPassword(password) // wipes password
		if err != nil {
			serviceErr = err
			return err
		}
		if err := s.store.CreateUser(ctx, username, hash, isAdmin); err != nil {
			storeErr = err
			return err
		}
		return nil
	})
	switch {
	case err == nil:
	case serviceErr != nil:
		s.logger.Error("create user: hashing failed", "error", serviceErr)
		WriteSimple(w, RespServiceError)
		return
	case errors.Is(storeErr, authstore.ErrDuplicate):
		s.logger.Warn("create user: username exists", "username", username)
		WriteSimple(w, RespFailure)
		return
	case storeErr != nil:
		s.logger.Error("create user: store failed", "error", storeErr)
		WriteSimple(w, RespServiceError)
		return
	default:
		s.logger.Warn("create user: token rejected", "error", err)
		WriteSimple(w, tokenRespCode(err))
		return
	}

	s.audit(ctx, "user_created", username, map[string]string{
		"is_admin": fmt.Sprintf("%t", isAdmin),
	})
	s.logger.Info("bootstrap user created", "username", username, "is_admin", isAdmin)
	WriteSimple(w, RespSuccess)
}

// verifyAdmin authenticates the credential prefix of a destructive
// operation and returns the remaining operation-specific bytes. The
// password-verification cost is paid on every path: against the real
// hash when the named user is an admin, against the dummy hash
// otherwise, so "no such user", "not an admin", and "wrong password"
// are indistinguishable to the caller in both code and latency. The
// distinct reason is logged server-side only.
func (s *Server) verifyAdmin(ctx context.Context, payload []byte) (string, []byte, bool) {
	if len(payload) < 2 {
		return "", nil, false
	}
	usernameLen := int(payload[0])
	passwordLen := int(payload[1])
	if usernameLen < 1 || usernameLen > maxUsernameLen ||
		passwordLen < minPasswordLen || passwordLen > maxPasswordLen {
		return "", nil, false
	}
	if len(payload) < 2+usernameLen+passwordLen {
		return "", nil, false
	}
	username := string(payload[2 : 2+usernameLen])
	password := payload[2+usernameLen : 2+usernameLen+passwordLen]
	rest := payload[2+usernameLen+passwordLen:]

	user, lookupErr := s.store.GetUser(ctx, username)
	isAdmin := lookupErr == nil && user.IsAdmin

	var hash string
	if isAdmin {
		var err error
		hash, err = s.store.PasswordHash(ctx, username)
		if err != nil {
			isAdmin = false
		}
	}

	var match bool
	if isAdmin {
		match, _ = s.store.VerifyPassword(hash, password) // wipes password
	} else {
		s.store.VerifyAgainstDummy(password) // wipes password
	}

	if !match {
		switch {
		case errors.Is(lookupErr, authstore.ErrNotFound):
			s.logger.Warn("admin auth failed", "reason", "unknown user")
		case lookupErr != nil:
			s.logger.Warn("admin auth failed", "reason", "lookup error", "error", lookupErr)
		case !user.IsAdmin:
			s.logger.Warn("admin auth failed", "reason", "not an admin", "username", username)
		default:
			s.logger.Warn("admin auth failed", "reason", "wrong password", "username", username)
		}
		return "", nil, false
	}
	return username, rest, true
}

// storeRespCode maps persistence outcomes for destructive ops.
func storeRespCode(err error) RespCode {
	switch {
	case err == nil:
		return RespSuccess
	case errors.Is(err, authstore.ErrNotFound):
		return RespNotFound
	case errors.Is(err, authstore.ErrLastAdmin):
		return RespLastAdmin
	default:
		return RespServiceError
	}
}

// takeString pops one u8-length-prefixed string off b.
func takeString(b []byte) (string, []byte, bool) {
	if len(b) < 1 {
		return "", nil, false
	}
	n := int(b[0])
	if n == 0 || len(b) < 1+n {
		return "", nil, false
	}
	return string(b[1 : 1+n]), b[1+n:], true
}

func (s *Server) handleDeleteUser(ctx context.Context, w io.Writer, payload []byte) {
	admin, rest, ok := s.verifyAdmin(ctx, payload)
	if !ok {
		WriteSimple(w, RespUnauthorized)
		return
	}
	target, rest, ok := takeString(rest)
	if !ok || len(rest) != 0 {
		WriteSimple(w, RespFailure)
		return
	}

	err := s.store.DeleteUser(ctx, target)
	if err == nil {
		s.audit(ctx, "user_deleted", target, map[string]string{"by": admin})
		s.logger.Info("user deleted", "username", target, "by", admin)
	} else {
		s.logger.Warn("delete user failed", "username", target, "error", err)
	}
	WriteSimple(w, storeRespCode(err))
}

func (s *Server) handleChangePassword(ctx context.Context, w io.Writer, payload []byte) {
	admin, rest, ok := s.verifyAdmin(ctx, payload)
	if !ok {
		WriteSimple(w, RespUnauthorized)
		return
	}
	// Layout after auth: name_len u8, new_password_len u8, name,
	// new_password.
	if len(rest) < 2 {
		WriteSimple(w, RespFailure)
		return
	}
	nameLen := int(rest[0])
	passwordLen := int(rest[1])
	if nameLen < 1 || nameLen > maxUsernameLen ||
		passwordLen < minPasswordLen || passwordLen > maxPasswordLen ||
		len(rest) != 2+nameLen+passwordLen {
		WriteSimple(w, RespFailure)
		return
	}
	target := string(rest[2 : 2+nameLen])
	newPassword := rest[2+nameLen:]

	hash, err := s.store.HashPassword(newPassword) // wipes newPassword
	if err != nil {
		s.logger.Error("change password: hashing failed", "error", err)
		WriteSimple(w, RespServiceError)
		return
	}
	err = s.store.UpdatePassword(ctx, target, hash)
	if err == nil {
		s.audit(ctx, "password_changed", target, map[string]string{"by": admin})
		s.logger.Info("password changed", "username", target, "by", admin)
	} else {
		s.logger.Warn("change password failed", "username", target, "error", err)
	}
	WriteSimple(w, storeRespCode(err))
}

func (s *Server) handleUnlockUser(ctx context.Context, w io.Writer, payload []byte) {
	admin, rest, ok := s.verifyAdmin(ctx, payload)
	if !ok {
		WriteSimple(w, RespUnauthorized)
		return
	}
	target, rest, ok := takeString(rest)
	if !ok || len(rest) != 0 {
		WriteSimple(w, RespFailure)
		return
	}

	err := s.store.UnlockUser(ctx, target)
	if err == nil {
		s.audit(ctx, "user_unlocked", target, map[string]string{"by": admin})
		s.logger.Info("user unlocked", "username", target, "by", admin)
	} else {
		s.logger.Warn("unlock user failed", "username", target, "error", err)
	}
	WriteSimple(w, storeRespCode(err))
}

func (s *Server) handleRevokeSession(ctx context.Context, w io.Writer, payload []byte) {
	admin, rest, ok := s.verifyAdmin(ctx, payload)
	if !ok {
		WriteSimple(w, RespUnauthorized)
		return
	}
	prefix, rest, ok := takeString(rest)
	if !ok || len(rest) != 0 {
		WriteSimple(w, RespFailure)
		return
	}

	err := s.store.RevokeSessionByPrefix(ctx, prefix)
	if err == nil {
		s.audit(ctx, "session_revoked", "", map[string]string{"prefix": prefix, "by": admin})
		s.logger.Info("session revoked", "prefix", prefix, "by", admin)
	} else {
		s.logger.Warn("revoke session failed", "prefix", prefix, "error", err)
	}
	WriteSimple(w, storeRespCode(err))
}

func (s *Server) handleRevokeUserSessions(ctx context.Context, w io.Writer, payload []byte) {
	admin, rest, ok := s.verifyAdmin(ctx, payload)
	if !ok {
		WriteSimple(w, RespUnauthorized)
		return
	}
	target, rest, ok := takeString(rest)
	if !ok || len(rest) != 0 {
		WriteSimple(w, RespFailure)
		return
	}

	revoked, err := s.store.RevokeUserSessions(ctx, target)
	if err == nil {
		s.audit(ctx, "user_sessions_revoked", target, map[string]string{
			"count": fmt.Sprintf("%d", revoked),
			"by":    admin,
		})
		s.logger.Info("user sessions revoked", "username", target, "count", revoked, "by", admin)
	} else {
		s.logger.Warn("revoke user sessions failed", "username", target, "error", err)
	}
	WriteSimple(w, storeRespCode(err))
}

func (s *Server) handleDBBackup(ctx context.Context, w io.Writer, payload []byte) {
	admin, rest, ok := s.verifyAdmin(ctx, payload)
	if !ok {
		WriteSimple(w, RespUnauthorized)
		return
	}
	if len(rest) != 0 {
		WriteSimple(w, RespFailure)
		return
	}

	result, err := s.store.Backup(ctx, s.backupDir)
	if err != nil {
		s.logger.Error("database backup failed", "error", err)
		WriteSimple(w, RespServiceError)
		return
	}
	s.audit(ctx, "db_backup", "", map[string]string{
		"path":     result.Path,
		"checksum": result.Checksum,
		"by":       admin,
	})
	s.logger.Info("database backed up",
		"path", result.Path, "bytes", result.Bytes, "by", admin)
	WriteSimple(w, RespSuccess)
}

func (s *Server) handleDBCompact(ctx context.Context, w io.Writer, payload []byte) {
	admin, rest, ok := s.verifyAdmin(ctx, payload)
	if !ok {
		WriteSimple(w, RespUnauthorized)
		return
	}
	if len(rest) != 0 {
		WriteSimple(w, RespFailure)
		return
	}

	if err := s.store.Vacuum(ctx); err != nil {
		s.logger.Error("database compaction failed", "error", err)
		WriteSimple(w, RespServiceError)
		return
	}
	s.audit(ctx, "db_compact", "", map[string]string{"by": admin})
	s.logger.Info("database compacted", "by", admin)
	WriteSimple(w, RespSuccess)
}

func (s *Server) handleUnblockIP(ctx context.Context, w io.Writer, payload []byte) {
	admin, rest, ok := s.verifyAdmin(ctx, payload)
	if !ok {
		WriteSimple(w, RespUnauthorized)
		return
	}
	addr, rest, ok := takeString(rest)
	if !ok || len(rest) != 0 {
		WriteSimple(w, RespFailure)
		return
	}

	err := s.store.UnblockIP(ctx, addr)
	if err == nil {
		s.audit(ctx, "ip_unblocked", "", map[string]string{"address": addr, "by": admin})
		s.logger.Info("ip unblocked", "address", addr, "by", admin)
	} else {
		s.logger.Warn("unblock ip failed", "address", addr, "error", err)
	}
	WriteSimple(w, storeRespCode(err))
}

// Read-only handlers. These carry no credential prefix: reaching the
// socket at all already required uid 0 or the daemon uid.

func (s *Server) handleListUsers(ctx context.Context, w io.Writer, payload []byte) {
	if len(payload) != 0 {
		WriteList(w, RespFailure, 0, 0, nil)
		return
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		WriteList(w, RespServiceError, 0, 0, nil)
		return
	}
	now := s.clk.Now()
	p := newListPacker()
	for _, u := range users {
		p.add(packUser(u, now))
	}
	WriteList(w, RespSuccess, p.items, p.flags(), p.buf)
}

func (s *Server) handleListSessions(ctx context.Context, w io.Writer, payload []byte) {
	if len(payload) != 0 {
		WriteList(w, RespFailure, 0, 0, nil)
		return
	}
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		WriteList(w, RespServiceError, 0, 0, nil)
		return
	}
	p := newListPacker()
	for _, sess := range sessions {
		p.add(packSession(sess))
	}
	WriteList(w, RespSuccess, p.items, p.flags(), p.buf)
}

func (s *Server) handleGetStats(ctx context.Context, w io.Writer, payload []byte) {
	if len(payload) != 0 {
		WriteList(w, RespFailure, 0, 0, nil)
		return
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		WriteList(w, RespServiceError, 0, 0, nil)
		return
	}
	WriteList(w, RespSuccess, 1, 0, packStats(stats))
}

func (s *Server) handleQueryLog(ctx context.Context, w io.Writer, payload []byte) {
	// Optional payload: limit u16, username_len u8, username.
	limit := defaultLogLimit
	username := ""
	if len(payload) > 0 {
		if len(payload) < 3 {
			WriteList(w, RespFailure, 0, 0, nil)
			return
		}
		if v := int(payload[0]) | int(payload[1])<<8; v > 0 {
			limit = v
		}
		nameLen := int(payload[2])
		if len(payload) != 3+nameLen {
			WriteList(w, RespFailure, 0, 0, nil)
			return
		}
		username = string(payload[3:])
	}

	events, err := s.store.QueryEvents(ctx, username, limit)
	if err != nil {
		s.logger.Error("audit log query failed", "error", err)
		WriteList(w, RespServiceError, 0, 0, nil)
		return
	}
	p := newListPacker()
	for _, e := range events {
		p.add(packAuditEvent(e))
	}
	WriteList(w, RespSuccess, p.items, p.flags(), p.buf)
}

func (s *Server) handleListBlockedIPs(ctx context.Context, w io.Writer, payload []byte) {
	if len(payload) != 0 {
		WriteList(w, RespFailure, 0, 0, nil)
		return
	}
	blocked, err := s.store.ListBlockedIPs(ctx)
	if err != nil {
		s.logger.Error("list blocked ips failed", "error", err)
		WriteList(w, RespServiceError, 0, 0, nil)
		return
	}
	p := newListPacker()
	for _, b := range blocked {
		p.add(packBlockedIP(b))
	}
	WriteList(w, RespSuccess, p.items, p.flags(), p.buf)
}

// audit appends to the audit log on a best-effort basis: the
// operation already succeeded, so a logging failure is reported but
// does not change the response.
func (s *Server) audit(ctx context.Context, event, username string, details map[string]string) {
	if err := s.store.AppendEvent(ctx, event, username, "", details); err != nil {
		s.logger.Warn("audit append failed", "event", event, "error", err)
	}
}
