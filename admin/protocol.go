// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ProtocolVersion is the wire-format version. A header carrying any
// other value is rejected with RespVersionMismatch before its payload
// is read.
const ProtocolVersion = 0x01

// MaxPayload bounds every request payload. The largest defined
// message (CREATE_USER with maximal username and password) is 218
// bytes; 256 leaves room without permitting large allocations.
const MaxPayload = 256

// headerSize is the fixed request header: version, type, payload_len.
const headerSize = 4

// MsgType identifies a request message.
type MsgType uint8

// The full request vocabulary. Handlers dispatch over a closed switch
// on these values; adding a type without a handler is caught by the
// exhaustiveness test in handlers_test.go.
const (
	MsgPing               MsgType = 0x01
	MsgValidateSetupToken MsgType = 0x02

	MsgCreateUser     MsgType = 0x10
	MsgListUsers      MsgType = 0x11
	MsgDeleteUser     MsgType = 0x12
	MsgChangePassword MsgType = 0x13
	MsgUnlockUser     MsgType = 0x14

	MsgListSessions       MsgType = 0x20
	MsgRevokeSession      MsgType = 0x21
	MsgRevokeUserSessions MsgType = 0x22

	MsgGetStats  MsgType = 0x30
	MsgQueryLog  MsgType = 0x31
	MsgDBBackup  MsgType = 0x32
	MsgDBCompact MsgType = 0x33

	MsgListBlockedIPs MsgType = 0x40
	MsgUnblockIP      MsgType = 0x41
)

// RespCode is the outcome carried in every response.
type RespCode uint8

const (
	RespSuccess         RespCode = 0x00
	RespFailure         RespCode = 0x01
	RespRateLimited     RespCode = 0x02
	RespServiceError    RespCode = 0x03
	RespVersionMismatch RespCode = 0x04
	RespUnauthorized    RespCode = 0x05
	RespLastAdmin       RespCode = 0x06
	RespNotFound        RespCode = 0x07
)

// String names a response code for logs and CLI output.
func (c RespCode) String() string {
	switch c {
	case RespSuccess:
		return "success"
	case RespFailure:
		return "failure"
	case RespRateLimited:
		return "rate limited"
	case RespServiceError:
		return "service error"
	case RespVersionMismatch:
		return "protocol version mismatch"
	case RespUnauthorized:
		return "unauthorized"
	case RespLastAdmin:
		return "cannot remove last admin"
	case RespNotFound:
		return "not found"
	}
	return fmt.Sprintf("unknown code 0x%02x", uint8(c))
}

// List response flag bits.
const (
	// ListFlagTruncated is set when the item buffer filled before
	// every item was packed; ItemCount reports what did fit.
	ListFlagTruncated uint16 = 0x0001

	// ListFlagHasMore is reserved for a future paginated revision.
	// No current handler sets it.
	ListFlagHasMore uint16 = 0x0002
)

// Decode errors. The server maps these to response codes;
// anything else is a connection-level failure with no response.
var (
	ErrVersionMismatch = errors.New("admin: protocol version mismatch")
	ErrPayloadTooLarge = errors.New("admin: payload exceeds maximum")
)

// Message is one decoded request.
type Message struct {
	Type    MsgType
	Payload []byte
}

// ReadMessage decodes one request from r. The header is read and
// validated before any payload allocation: a bad version or an
// oversized declared length fails without reading further. Multi-byte
// fields are little-endian, matching the CLI side.
func ReadMessage(r io.Reader) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("admin: reading header: %w", err)
	}
	if header[0] != ProtocolVersion {
		return Message{}, fmt.Errorf("%w: got 0x%02x, want 0x%02x",
			ErrVersionMismatch, header[0], ProtocolVersion)
	}
	payloadLen := binary.LittleEndian.Uint16(header[2:4])
	if payloadLen > MaxPayload {
		return Message{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, payloadLen, MaxPayload)
	}

	message := Message{Type: MsgType(header[1])}
	if payloadLen > 0 {
		message.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, message.Payload); err != nil {
			return Message{}, fmt.Errorf("admin: reading payload: %w", err)
		}
	}
	return message, nil
}

// WriteMessage encodes one request to w. Used by the client side.
func WriteMessage(w io.Writer, message Message) error {
	if len(message.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(message.Payload), MaxPayload)
	}
	buf := make([]byte, headerSize+len(message.Payload))
	buf[0] = ProtocolVersion
	buf[1] = uint8(message.Type)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(message.Payload)))
	copy(buf[headerSize:], message.Payload)
	// One write per message: a short write fails the whole response.
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("admin: writing message: %w", err)
	}
	return nil
}

// simpleSize is the fixed simple-response size: version, code,
// reserved u16.
const simpleSize = 4

// listHeaderSize is the list-response header: version, code,
// payload_len, item_count, flags.
const listHeaderSize = 8

// WriteSimple sends the 4-byte simple response.
func WriteSimple(w io.Writer, code RespCode) error {
	var buf [simpleSize]byte
	buf[0] = ProtocolVersion
	buf[1] = uint8(code)
	// buf[2:4] reserved, zero.
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("admin: writing response: %w", err)
	}
	return nil
}

// ReadSimple decodes a 4-byte simple response.
func ReadSimple(r io.Reader) (RespCode, error) {
	var buf [simpleSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("admin: reading response: %w", err)
	}
	if buf[0] != ProtocolVersion {
		return 0, fmt.Errorf("%w: got 0x%02x", ErrVersionMismatch, buf[0])
	}
	return RespCode(buf[1]), nil
}

// ListResponse is a decoded list response.
type ListResponse struct {
	Code      RespCode
	ItemCount uint16
	Flags     uint16
	Payload   []byte
}

// Truncated reports whether the packer ran out of buffer space.
func (lr ListResponse) Truncated() bool { return lr.Flags&ListFlagTruncated != 0 }

// WriteList sends an 8-byte list header followed by the packed items,
// as a single write.
func WriteList(w io.Writer, code RespCode, itemCount uint16, flags uint16, payload []byte) error {
	buf := make([]byte, listHeaderSize+len(payload))
	buf[0] = ProtocolVersion
	buf[1] = uint8(code)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(payload)))
	binary.LittleEndian.PutUint16(buf[4:6], itemCount)
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	copy(buf[listHeaderSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("admin: writing list response: %w", err)
	}
	return nil
}

// ReadList decodes a list response: header, then exactly payload_len
// bytes.
func ReadList(r io.Reader) (ListResponse, error) {
	var header [listHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return ListResponse{}, fmt.Errorf("admin: reading list header: %w", err)
	}
	if header[0] != ProtocolVersion {
		return ListResponse{}, fmt.Errorf("%w: got 0x%02x", ErrVersionMismatch, header[0])
	}
	response := ListResponse{
		Code:      RespCode(header[1]),
		ItemCount: binary.LittleEndian.Uint16(header[4:6]),
		Flags:     binary.LittleEndian.Uint16(header[6:8]),
	}
	payloadLen := binary.LittleEndian.Uint16(header[2:4])
	if payloadLen > 0 {
		response.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, response.Payload); err != nil {
			return ListResponse{}, fmt.Errorf("admin: reading list payload: %w", err)
		}
	}
	return response, nil
}
