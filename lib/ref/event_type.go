// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType is a Matrix event type string (e.g., "m.room.message").
// Unlike the identifier types it is not validated: any string the
// homeserver sends is a legal event type.
type EventType string

// String returns the event type as a plain string.
func (t EventType) String() string { return string(t) }
