// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/waasabi/waasabi-matrix/lib/ref"
)

// GetState reads a typed state event from a Matrix room:
//
//	levels, err := messaging.GetState[messaging.PowerLevels](ctx, session, roomID, messaging.EventTypePowerLevels, "")
func GetState[T any](ctx context.Context, session Session, roomID ref.RoomID, eventType ref.EventType, stateKey string) (T, error) {
	var zero T
	content, err := session.GetStateEvent(ctx, roomID, eventType, stateKey)
	if err != nil {
		return zero, fmt.Errorf("reading %s[%q] from room %s: %w", eventType, stateKey, roomID, err)
	}
	var result T
	if err := json.Unmarshal(content, &result); err != nil {
		return zero, fmt.Errorf("unmarshaling %s from room %s: %w", eventType, roomID, err)
	}
	return result, nil
}

// ResolveRoom accepts either a room ID ("!abc:server") or a room alias
// ("#name:server") and returns the room ID, resolving aliases through the
// homeserver directory.
func ResolveRoom(ctx context.Context, session Session, roomIDOrAlias string) (ref.RoomID, error) {
	raw := strings.TrimSpace(roomIDOrAlias)
	if strings.HasPrefix(raw, "#") {
		alias, err := ref.ParseRoomAlias(raw)
		if err != nil {
			return ref.RoomID{}, err
		}
		return session.ResolveAlias(ctx, alias)
	}
	return ref.ParseRoomID(raw)
}
