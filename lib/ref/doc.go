// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated Matrix identifier types.
//
// Identifiers arriving from the homeserver, the configuration file, chat
// commands, or the control-plane API are parsed into these types at the
// boundary. Everything past the boundary works with RoomID, UserID and
// RoomAlias values and never re-validates raw strings.
//
// All identifier types are immutable, comparable value types usable as
// map keys. They implement encoding.TextMarshaler and
// encoding.TextUnmarshaler so they round-trip through JSON (including as
// map keys in /sync responses) and YAML.
package ref
