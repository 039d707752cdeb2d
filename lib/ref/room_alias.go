// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RoomAlias is a validated Matrix room alias (e.g., "#rustfest:example.org").
//
// The zero value is not valid; use IsZero to check.
type RoomAlias struct {
	alias string
}

// ParseRoomAlias validates and wraps a raw Matrix room alias string.
func ParseRoomAlias(raw string) (RoomAlias, error) {
	if _, _, err := parsePrefixedID(raw, '#', "room alias"); err != nil {
		return RoomAlias{}, err
	}
	return RoomAlias{alias: raw}, nil
}

// MustParseRoomAlias is like ParseRoomAlias but panics on error.
func MustParseRoomAlias(raw string) RoomAlias {
	a, err := ParseRoomAlias(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomAlias(%q): %v", raw, err))
	}
	return a
}

// NewRoomAlias builds "#<localpart>:<server>" and validates the result.
func NewRoomAlias(localpart, server string) (RoomAlias, error) {
	return ParseRoomAlias("#" + localpart + ":" + server)
}

// String returns the full room alias string.
func (a RoomAlias) String() string { return a.alias }

// IsZero reports whether the RoomAlias is the zero value (uninitialized).
func (a RoomAlias) IsZero() bool { return a.alias == "" }

// Localpart returns the alias localpart without the '#' prefix or
// ':server' suffix.
func (a RoomAlias) Localpart() string {
	if a.alias == "" {
		return ""
	}
	localpart, _, _ := parsePrefixedID(a.alias, '#', "room alias")
	return localpart
}

// Server returns the server name from the alias.
func (a RoomAlias) Server() string {
	if a.alias == "" {
		return ""
	}
	_, server, _ := parsePrefixedID(a.alias, '#', "room alias")
	return server
}

// MarshalText implements encoding.TextMarshaler.
func (a RoomAlias) MarshalText() ([]byte, error) {
	if a.alias == "" {
		return nil, fmt.Errorf("cannot marshal zero RoomAlias")
	}
	return []byte(a.alias), nil
}

// UnmarshalText implements encoding.TextUnmarshaler with validation.
func (a *RoomAlias) UnmarshalText(data []byte) error {
	parsed, err := ParseRoomAlias(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
