// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated Matrix user ID (e.g., "@ferris:example.org").
//
// The zero value is not valid; use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := parsePrefixedID(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in tests
// where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the user ID localpart without the '@' prefix or
// ':server' suffix.
func (u UserID) Localpart() string {
	if u.id == "" {
		return ""
	}
	localpart, _, _ := parsePrefixedID(u.id, '@', "user ID")
	return localpart
}

// Server returns the server name from the user ID. A bot's own server
// is where the rooms it creates get their aliases.
func (u UserID) Server() string {
	if u.id == "" {
		return ""
	}
	_, server, _ := parsePrefixedID(u.id, '@', "user ID")
	return server
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	if u.id == "" {
		return nil, fmt.Errorf("cannot marshal zero UserID")
	}
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler with validation.
func (u *UserID) UnmarshalText(data []byte) error {
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
