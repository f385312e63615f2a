// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Message{Type: MsgCreateUser, Payload: []byte("hello payload")}
	if err := WriteMessage(&buf, want); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Type != want.Type {
		t.Errorf("type: got 0x%02x, want 0x%02x", got.Type, want.Type)
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("payload: got %q, want %q", got.Payload, want.Payload)
	}
}

func TestMessageEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Message{Type: MsgPing}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if buf.Len() != headerSize {
		t.Fatalf("wire size: got %d, want %d", buf.Len(), headerSize)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Payload != nil {
		t.Errorf("payload: got %v, want nil", got.Payload)
	}
}

func TestReadMessageVersionMismatch(t *testing.T) {
	raw := []byte{0x02, uint8(MsgPing), 0x00, 0x00}
	_, err := ReadMessage(bytes.NewReader(raw))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("got %v, want ErrVersionMismatch", err)
	}
}

func TestReadMessageOversizedPayload(t *testing.T) {
	// Declared length 0x0200 = 512 > MaxPayload. The reader must
	// reject on the header alone; no payload bytes follow.
	raw := []byte{ProtocolVersion, uint8(MsgPing), 0x00, 0x02}
	_, err := ReadMessage(bytes.NewReader(raw))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestReadMessageTruncatedPayload(t *testing.T) {
	raw := []byte{ProtocolVersion, uint8(MsgPing), 0x10, 0x00, 0xAA}
	_, err := ReadMessage(bytes.NewReader(raw))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestWriteMessageRejectsOversized(t *testing.T) {
	err := WriteMessage(io.Discard, Message{Type: MsgPing, Payload: make([]byte, MaxPayload+1)})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestSimpleResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSimple(&buf, RespLastAdmin); err != nil {
		t.Fatalf("WriteSimple: %v", err)
	}
	if buf.Len() != simpleSize {
		t.Fatalf("wire size: got %d, want %d", buf.Len(), simpleSize)
	}
	code, err := ReadSimple(&buf)
	if err != nil {
		t.Fatalf("ReadSimple: %v", err)
	}
	if code != RespLastAdmin {
		t.Errorf("code: got %v, want %v", code, RespLastAdmin)
	}
}

func TestListResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0x01, 0x02, 0x03}
	if err := WriteList(&buf, RespSuccess, 2, ListFlagTruncated, payload); err != nil {
		t.Fatalf("WriteList: %v", err)
	}
	got, err := ReadList(&buf)
	if err != nil {
		t.Fatalf("ReadList: %v", err)
	}
	if got.Code != RespSuccess {
		t.Errorf("code: got %v, want %v", got.Code, RespSuccess)
	}
	if got.ItemCount != 2 {
		t.Errorf("item count: got %d, want 2", got.ItemCount)
	}
	if !got.Truncated() {
		t.Error("Truncated() = false, want true")
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("payload: got %v, want %v", got.Payload, payload)
	}
}

func TestListResponseLittleEndianHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteList(&buf, RespSuccess, 0x0102, 0, make([]byte, 5)); err != nil {
		t.Fatalf("WriteList: %v", err)
	}
	raw := buf.Bytes()
	if raw[2] != 0x05 || raw[3] != 0x00 {
		t.Errorf("payload_len bytes: got %02x %02x, want 05 00", raw[2], raw[3])
	}
	if raw[4] != 0x02 || raw[5] != 0x01 {
		t.Errorf("item_count bytes: got %02x %02x, want 02 01", raw[4], raw[5])
	}
}

func TestRespCodeStrings(t *testing.T) {
	for code, want := range map[RespCode]string{
		RespSuccess:      "success",
		RespUnauthorized: "unauthorized",
		RespCode(0xEE):   "unknown code 0xee",
	} {
		if got := code.String(); got != want {
			t.Errorf("String(0x%02x): got %q, want %q", uint8(code), got, want)
		}
	}
}
