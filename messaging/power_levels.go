// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"

	"github.com/waasabi/waasabi-matrix/lib/ref"
)

// AdminPowerLevel is the power level of room administrators.
const AdminPowerLevel = 100

// defaultEventLevels are the event thresholds applied when a room does
// not set them itself: room cosmetics at moderator level, room security
// and permissions at admin level.
var defaultEventLevels = map[ref.EventType]int{
	EventTypeAvatar:         50,
	EventTypeCanonicalAlias: 50,
	EventTypeEncryption:     100,
	EventTypeHistory:        100,
	EventTypeName:           50,
	EventTypePowerLevels:    100,
	EventTypeServerACL:      100,
	EventTypeTombstone:      100,
}

// GrantPowerLevels raises each user in grants to the given level in the
// room, leaving every other user's level and every existing event
// threshold untouched. Event thresholds the room has not set get the
// defaults above. The read-modify-write is not atomic; a concurrent
// power level change in the room can be lost.
func GrantPowerLevels(ctx context.Context, session Session, roomID ref.RoomID, grants map[ref.UserID]int) error {
	content, err := GetState[map[string]any](ctx, session, roomID, EventTypePowerLevels, "")
	if err != nil && !IsMatrixError(err, ErrCodeNotFound) {
		return fmt.Errorf("granting power levels: %w", err)
	}
	if content == nil {
		content = map[string]any{}
	}

	users := intMap(content["users"])
	for userID, level := range grants {
		users[userID.String()] = level
	}

	events := make(map[string]int, len(defaultEventLevels))
	for eventType, level := range defaultEventLevels {
		events[eventType.String()] = level
	}
	for eventType, level := range intMap(content["events"]) {
		events[eventType] = level
	}

	content["users"] = users
	content["events"] = events

	if _, err := session.SendStateEvent(ctx, roomID, EventTypePowerLevels, "", content); err != nil {
		return fmt.Errorf("writing power levels in %s: %w", roomID, err)
	}
	return nil
}

// intMap converts a decoded JSON object of numbers to map[string]int.
// Non-numeric values are dropped.
func intMap(value any) map[string]int {
	result := map[string]int{}
	object, ok := value.(map[string]any)
	if !ok {
		return result
	}
	for key, raw := range object {
		if number, ok := raw.(float64); ok {
			result[key] = int(number)
		}
	}
	return result
}
