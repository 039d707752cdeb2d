// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP body reads for the JSON APIs the bot talks
// to (the Matrix homeserver, the backend) and serves (the control-plane
// API).
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON response body reads: 64 MB. A full initial
// /sync of a large account is the biggest legitimate response.
const MaxResponseSize int64 = 64 << 20

// MaxRequestSize bounds JSON request bodies accepted by the bot's own
// HTTP servers.
const MaxRequestSize int64 = 1 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body up to MaxResponseSize bytes and
// JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// DecodeRequest JSON-decodes an incoming request body into v, rejecting
// bodies larger than MaxRequestSize.
func DecodeRequest(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxRequestSize+1))
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	if int64(len(data)) > MaxRequestSize {
		return fmt.Errorf("request body exceeds %d bytes", MaxRequestSize)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for use in diagnostic messages.
// Read errors are ignored; a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(data)
}
