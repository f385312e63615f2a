// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/dawn-project/dawn/lib/secret"
)

// promptPassword reads a password with terminal echo disabled. When
// stdin is not a terminal (scripted use), a plain line read is used
// instead.
func promptPassword(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := promptLine(prompt)
		if err != nil {
			return nil, err
		}
		return []byte(line), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return password, nil
}

// promptPasswordTwice asks for a new password and a confirmation.
// The confirmation copy is wiped before returning.
func promptPasswordTwice(label string) ([]byte, error) {
	password, err := promptPassword(label + ": ")
	if err != nil {
		return nil, err
	}
	if len(password) < 8 || len(password) > 128 {
		secret.Wipe(password)
		return nil, fmt.Errorf("password must be 8-128 characters")
	}
	confirm, err := promptPassword(label + " (again): ")
	if err != nil {
		secret.Wipe(password)
		return nil, err
	}
	defer secret.Wipe(confirm)
	if !bytes.Equal(password, confirm) {
		secret.Wipe(password)
		return nil, fmt.Errorf("passwords do not match")
	}
	return password, nil
}
