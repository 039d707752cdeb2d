// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RoomID is a validated Matrix room ID (e.g., "!abc123:example.org" or,
// from room version 12 on, "!31hneApxJ_1o-63DmFrpeqnkFfWppnzWso1JvH3ogLM").
//
// Room IDs are server-assigned opaque identifiers. They come from
// /sync responses, room creation, and alias resolution, and are parsed
// into this type at the boundary.
//
// The zero value is not valid; use IsZero to check.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string. Only the
// '!' sigil and a non-empty body without whitespace or control
// characters are required: newer room versions drop the ":server"
// suffix, so the body is not split.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return RoomID{}, fmt.Errorf("empty room ID")
	}
	if raw[0] != '!' {
		return RoomID{}, fmt.Errorf("room ID must start with '!': %q", raw)
	}
	if len(raw) == 1 {
		return RoomID{}, fmt.Errorf("room ID has empty body: %q", raw)
	}
	for i := 1; i < len(raw); i++ {
		if c := raw[i]; c <= ' ' || c == 0x7f {
			return RoomID{}, fmt.Errorf("invalid character %q in room ID %q", c, raw)
		}
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error. Use in tests
// where the input is known-valid.
func MustParseRoomID(raw string) RoomID {
	r, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return r
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value (uninitialized).
func (r RoomID) IsZero() bool { return r.id == "" }

// Less orders room IDs lexically. Used wherever rooms are iterated in a
// deterministic order.
func (r RoomID) Less(other RoomID) bool { return r.id < other.id }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) {
	if r.id == "" {
		return nil, fmt.Errorf("cannot marshal zero RoomID")
	}
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler with validation.
func (r *RoomID) UnmarshalText(data []byte) error {
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
