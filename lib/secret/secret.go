// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package secret holds sensitive byte strings — the live setup token,
// passwords in flight — in memory that is locked against swapping,
// excluded from core dumps, and zeroed on close.
//
// The backing memory is allocated with mmap(MAP_ANONYMOUS) outside the
// Go heap, so the garbage collector never copies or relocates it.
// Close is the only way the secret leaves memory.
package secret

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a fixed-size region of locked memory holding one secret.
// It must not be copied. After Close, any read panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// New allocates a locked buffer of the given size. The region is
// mlock'd (never swapped) and marked MADV_DONTDUMP (never in core
// dumps). The caller must Close the buffer when the secret is dead.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(data)
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}

	return &Buffer{data: data}, nil
}

// FromBytes moves a secret into locked memory. The source slice is
// wiped before FromBytes returns, so the only live copy afterwards is
// inside the Buffer.
func FromBytes(source []byte) (*Buffer, error) {
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)
	Wipe(source)
	return buffer, nil
}

// Bytes returns the secret. The slice aliases the locked region: do
// not retain it past the Buffer's lifetime. Panics after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data
}

// Len returns the secret's size in bytes. Zero after Close.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	return len(b.data)
}

// Equal compares the buffer against candidate in constant time.
// Returns false, without leaking where they differ, when the lengths
// differ or the buffer is closed.
func (b *Buffer) Equal(candidate []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(candidate) != len(b.data) {
		return false
	}
	return subtle.ConstantTimeCompare(b.data, candidate) == 1
}

// Close zeroes the secret, unlocks and unmaps the region. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	Wipe(b.data)

	var firstError error
	if err := unix.Munlock(b.data); err != nil {
		firstError = fmt.Errorf("secret: munlock: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap: %w", err)
	}
	b.data = nil
	return firstError
}

// Wipe zeroes a byte slice in place. Use it on transient heap copies
// of secrets (wire payload slices, password fields) as soon as they
// are no longer needed.
func Wipe(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
