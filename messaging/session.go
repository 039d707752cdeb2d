// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"

	"github.com/waasabi/waasabi-matrix/lib/ref"
)

// Session is the set of authenticated Matrix operations the bot uses.
// *DirectSession is the production implementation; tests substitute
// in-memory fakes.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID of the session.
	UserID() ref.UserID

	// Close releases any resources held by the session. Idempotent.
	Close() error

	// WhoAmI validates the session and returns the user ID.
	WhoAmI(ctx context.Context) (ref.UserID, error)

	// Sync performs a /sync request. With SetTimeout and a non-empty
	// Since, the homeserver holds the request open up to Timeout ms and
	// returns an empty batch if nothing happened.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)

	// JoinRoom joins a room by room ID. Returns the room ID.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// InviteUser invites a user to a room.
	InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error

	// SendMessage sends an m.room.message event. Returns the event ID.
	SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (string, error)

	// SendEvent sends an event of any type to a room. Returns the event ID.
	SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (string, error)

	// SendStateEvent sets a state event in a room. Returns the event ID.
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (string, error)

	// GetStateEvent fetches a state event's content as raw JSON. Returns
	// a *MatrixError with ErrCodeNotFound when the event is not set.
	GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error)

	// CreateRoom creates a new room.
	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)

	// ResolveAlias resolves a room alias to a room ID.
	ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)
}

var _ Session = (*DirectSession)(nil)
