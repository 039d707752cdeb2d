// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/waasabi/waasabi-matrix/lib/ref"
)

// Event types the bot reads or writes.
const (
	EventTypeMessage        ref.EventType = "m.room.message"
	EventTypeMember         ref.EventType = "m.room.member"
	EventTypeName           ref.EventType = "m.room.name"
	EventTypeTopic          ref.EventType = "m.room.topic"
	EventTypeCanonicalAlias ref.EventType = "m.room.canonical_alias"
	EventTypePowerLevels    ref.EventType = "m.room.power_levels"
	EventTypeJoinRules      ref.EventType = "m.room.join_rules"
	EventTypeGuestAccess    ref.EventType = "m.room.guest_access"
	EventTypeHistory        ref.EventType = "m.room.history_visibility"
	EventTypeAvatar         ref.EventType = "m.room.avatar"
	EventTypeEncryption     ref.EventType = "m.room.encryption"
	EventTypeServerACL      ref.EventType = "m.room.server_acl"
	EventTypeTombstone      ref.EventType = "m.room.tombstone"
)

// LoginRequest is the body of POST /login for m.login.password.
type LoginRequest struct {
	Type                     string          `json:"type"`
	Identifier               LoginIdentifier `json:"identifier"`
	Password                 string          `json:"password"`
	DeviceID                 string          `json:"device_id,omitempty"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

// LoginIdentifier identifies the account for password login.
type LoginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// CreateRoomRequest holds parameters for creating a Matrix room.
type CreateRoomRequest struct {
	Name         string       `json:"name,omitempty"`
	Topic        string       `json:"topic,omitempty"`
	Alias        string       `json:"room_alias_name,omitempty"` // local alias without # or :server
	Visibility   string       `json:"visibility,omitempty"`      // "public" or "private"
	Preset       string       `json:"preset,omitempty"`
	Invite       []ref.UserID `json:"invite,omitempty"`
	InitialState []StateEvent `json:"initial_state,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// StateEvent is a state event for room creation.
type StateEvent struct {
	Type     ref.EventType `json:"type"`
	StateKey string        `json:"state_key"`
	Content  any           `json:"content"`
}

// MessageContent is the content body of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// NewTextMessage creates a plain m.text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}

// Event is a Matrix room event as delivered by /sync.
type Event struct {
	EventID        string         `json:"event_id,omitempty"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts,omitempty"`
	Content        map[string]any `json:"content"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// IsState reports whether the event carries a state key.
func (e Event) IsState() bool { return e.StateKey != nil }

// ContentString returns a string field of the content, or "" and false
// when the field is absent or not a string.
func (e Event) ContentString(key string) (string, bool) {
	value, ok := e.Content[key].(string)
	return value, ok
}

// SyncOptions controls a /sync request.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds
	SetTimeout bool   // send the timeout parameter (distinguishes "not set" from 0)
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection holds per-room sync data keyed by membership.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a room the user was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch,omitempty"`
	Limited   bool    `json:"limited,omitempty"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// InviteRequest holds the user ID to invite to a room.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// SendEventResponse is returned by SendEvent and SendStateEvent.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}
