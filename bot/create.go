// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/waasabi/waasabi-matrix/lib/ref"
	"github.com/waasabi/waasabi-matrix/messaging"
)

// RoomSpec describes a room the bot creates for the conference.
type RoomSpec struct {
	// Alias is the alias localpart; a leading '#' and any ':server' suffix
	// are stripped.
	Alias  string
	Name   string
	Topic  string
	Invite []ref.UserID
}

// AliasLocalpart normalizes a user-supplied alias to its localpart.
func AliasLocalpart(alias string) string {
	alias = strings.TrimPrefix(strings.TrimSpace(alias), "#")
	if index := strings.IndexByte(alias, ':'); index >= 0 {
		alias = alias[:index]
	}
	return alias
}

// CreateRoom creates a private, invite-only room whose history is
// visible to members and which guests may join once invited.
func CreateRoom(ctx context.Context, session messaging.Session, spec RoomSpec) (ref.RoomID, error) {
	localpart := AliasLocalpart(spec.Alias)
	if localpart == "" {
		return ref.RoomID{}, fmt.Errorf("room alias is required")
	}
	if strings.TrimSpace(spec.Name) == "" {
		return ref.RoomID{}, fmt.Errorf("room name is required")
	}

	response, err := session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Name:       spec.Name,
		Topic:      spec.Topic,
		Alias:      localpart,
		Visibility: "private",
		Invite:     spec.Invite,
		InitialState: []messaging.StateEvent{
			{Type: messaging.EventTypeGuestAccess, Content: map[string]string{"guest_access": "can_join"}},
			{Type: messaging.EventTypeJoinRules, Content: map[string]string{"join_rule": "invite"}},
			{Type: messaging.EventTypeHistory, Content: map[string]string{"history_visibility": "shared"}},
		},
	})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("creating room #%s: %w", localpart, err)
	}
	return response.RoomID, nil
}
