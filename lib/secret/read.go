// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ReadFromPath reads a secret from a file. Leading and trailing
// whitespace is trimmed; an empty result is an error.
func ReadFromPath(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer Zero(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: %s is empty", path)
	}
	return NewFromBytes(trimmed)
}

// Prompt writes prompt to out and reads one line from the terminal
// behind in without echo.
func Prompt(in *os.File, out io.Writer, prompt string) (*Buffer, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("secret: %s is not a terminal", in.Name())
	}
	fmt.Fprint(out, prompt)
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return nil, fmt.Errorf("secret: reading password: %w", err)
	}
	defer Zero(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("secret: empty password")
	}
	return NewFromBytes(data)
}
