// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// MatrixError represents a structured error response from the Matrix homeserver.
// Callers can use errors.As to extract the structured information:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeNotFound { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN").
	Code string `json:"errcode"`
	// Message is the human-readable error description from the server.
	Message string `json:"error"`
	// RetryAfterMS is set on M_LIMIT_EXCEEDED responses.
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeRoomInUse     = "M_ROOM_IN_USE"
)

// IsMatrixError checks whether err is a *MatrixError with the given error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsTransient reports whether err is a homeserver response worth retrying
// later: rate limiting or a 5xx. Transport errors are not classified here
// because the caller knows whether it is in a loop that will retry anyway.
func IsTransient(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	return matrixErr.Code == ErrCodeLimitExceeded || matrixErr.StatusCode >= http.StatusInternalServerError
}

// RetryAfter returns the back-off a rate-limited homeserver asked for.
// ok is false when err carries no retry_after_ms.
func RetryAfter(err error) (delay time.Duration, ok bool) {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) || matrixErr.RetryAfterMS <= 0 {
		return 0, false
	}
	return time.Duration(matrixErr.RetryAfterMS) * time.Millisecond, true
}
