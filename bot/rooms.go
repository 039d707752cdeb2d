// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"log/slog"
	"slices"

	"github.com/waasabi/waasabi-matrix/lib/ref"
	"github.com/waasabi/waasabi-matrix/messaging"
)

// RoomInfo is the bot's view of a joined room. Absent fields are nil and
// encode as JSON null.
type RoomInfo struct {
	ID    ref.RoomID `json:"id"`
	Name  *string    `json:"name"`
	Alias *string    `json:"alias"`
	Topic *string    `json:"topic"`
}

// StateChange is a parsed room state event. The concrete types are
// CanonicalAliasChange, NameChange, TopicChange, MembershipChange and
// IgnoredState.
type StateChange interface {
	stateChange()
}

// CanonicalAliasChange sets or clears the room's canonical alias.
type CanonicalAliasChange struct{ Alias *string }

// NameChange sets or clears the room name.
type NameChange struct{ Name *string }

// TopicChange sets or clears the room topic.
type TopicChange struct{ Topic *string }

// MembershipChange records a member's new membership state.
type MembershipChange struct {
	User       ref.UserID
	Membership string
}

// IgnoredState is any state event the store does not track.
type IgnoredState struct{ Type ref.EventType }

func (CanonicalAliasChange) stateChange() {}
func (NameChange) stateChange()           {}
func (TopicChange) stateChange()          {}
func (MembershipChange) stateChange()     {}
func (IgnoredState) stateChange()         {}

// ParseStateEvent classifies a state event. An empty name or alias
// clears the field. A topic is cleared only when the key is missing;
// an empty topic string is kept.
func ParseStateEvent(event messaging.Event) StateChange {
	switch event.Type {
	case messaging.EventTypeCanonicalAlias:
		return CanonicalAliasChange{Alias: nonEmpty(event.ContentString("alias"))}
	case messaging.EventTypeName:
		return NameChange{Name: nonEmpty(event.ContentString("name"))}
	case messaging.EventTypeTopic:
		topic, ok := event.ContentString("topic")
		if !ok {
			return TopicChange{}
		}
		return TopicChange{Topic: &topic}
	case messaging.EventTypeMember:
		membership, _ := event.ContentString("membership")
		user := event.Sender
		if event.StateKey != nil {
			if stateKeyUser, err := ref.ParseUserID(*event.StateKey); err == nil {
				user = stateKeyUser
			}
		}
		return MembershipChange{User: user, Membership: membership}
	default:
		return IgnoredState{Type: event.Type}
	}
}

func nonEmpty(value string, ok bool) *string {
	if !ok || value == "" {
		return nil
	}
	return &value
}

// RoomStateStore maps room IDs to RoomInfo. It is owned by the sync
// loop and is not safe for concurrent use.
type RoomStateStore struct {
	rooms       map[ref.RoomID]*RoomInfo
	roster      *AdminRoster
	onAdminJoin func(roomID ref.RoomID, admin ref.UserID)
	logger      *slog.Logger
}

// NewRoomStateStore returns an empty store. onAdminJoin is called when a
// member event shows a roster user joining a room; it may be nil.
func NewRoomStateStore(roster *AdminRoster, onAdminJoin func(ref.RoomID, ref.UserID), logger *slog.Logger) *RoomStateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomStateStore{
		rooms:       make(map[ref.RoomID]*RoomInfo),
		roster:      roster,
		onAdminJoin: onAdminJoin,
		logger:      logger,
	}
}

// Ensure creates an empty RoomInfo for roomID if none exists. Reports
// whether one was created.
func (s *RoomStateStore) Ensure(roomID ref.RoomID) bool {
	if _, ok := s.rooms[roomID]; ok {
		return false
	}
	s.rooms[roomID] = &RoomInfo{ID: roomID}
	return true
}

// Get returns a copy of the RoomInfo for roomID.
func (s *RoomStateStore) Get(roomID ref.RoomID) (RoomInfo, bool) {
	info, ok := s.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	return info.clone(), true
}

// Len returns the number of known rooms.
func (s *RoomStateStore) Len() int { return len(s.rooms) }

// Apply folds a state change into the room, creating the RoomInfo if
// needed. Reports whether the room's name, alias or topic changed.
// Membership and ignored changes never report a change.
func (s *RoomStateStore) Apply(roomID ref.RoomID, change StateChange) bool {
	s.Ensure(roomID)
	info := s.rooms[roomID]

	switch change := change.(type) {
	case CanonicalAliasChange:
		return replace(&info.Alias, change.Alias)
	case NameChange:
		return replace(&info.Name, change.Name)
	case TopicChange:
		return replace(&info.Topic, change.Topic)
	case MembershipChange:
		if change.Membership == "join" && s.roster != nil && s.roster.Contains(change.User.String()) && s.onAdminJoin != nil {
			s.logger.Info("admin joined room", "room_id", roomID, "user_id", change.User)
			s.onAdminJoin(roomID, change.User)
		}
		return false
	case IgnoredState:
		s.logger.Debug("ignoring state event", "room_id", roomID, "type", change.Type)
		return false
	default:
		s.logger.Debug("ignoring unknown state change", "room_id", roomID, "change", change)
		return false
	}
}

func replace(field **string, value *string) bool {
	if equalOptional(*field, value) {
		return false
	}
	*field = cloneOptional(value)
	return true
}

func (r RoomInfo) clone() RoomInfo {
	return RoomInfo{
		ID:    r.ID,
		Name:  cloneOptional(r.Name),
		Alias: cloneOptional(r.Alias),
		Topic: cloneOptional(r.Topic),
	}
}

func cloneOptional(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Snapshot returns copies of every RoomInfo sorted by room ID. The
// copies share no memory with the store.
func (s *RoomStateStore) Snapshot() []RoomInfo {
	rooms := make([]RoomInfo, 0, len(s.rooms))
	for _, info := range s.rooms {
		rooms = append(rooms, info.clone())
	}
	slices.SortFunc(rooms, func(a, b RoomInfo) int { return compareRoomIDs(a.ID, b.ID) })
	return rooms
}
