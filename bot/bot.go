// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/waasabi/waasabi-matrix/backend"
	"github.com/waasabi/waasabi-matrix/lib/ref"
	"github.com/waasabi/waasabi-matrix/messaging"
)

// DefaultPollTimeout is how long each /sync long-poll may wait for events.
const DefaultPollTimeout = 30 * time.Second

// Config holds the parameters for New.
type Config struct {
	// Session is the bot's Matrix session.
	Session messaging.Session

	// Submitter runs side effects; normally a *dispatch.Dispatcher.
	Submitter Submitter

	// Sink receives relayed messages and room lists. Nil disables relaying.
	Sink backend.Sink

	// Roster is the admin roster, shared with the control-plane API.
	Roster *AdminRoster

	// PollTimeout bounds each long-poll. Zero means DefaultPollTimeout.
	PollTimeout time.Duration

	// InviteAttempts is the retry budget for failed joins. Zero means
	// DefaultInviteAttempts.
	InviteAttempts int

	// ReceivedBy and IntegrationsKind shape backend payloads; see NewRelay.
	ReceivedBy       string
	IntegrationsKind string

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Bot is the sync driver and the state it owns.
type Bot struct {
	session     messaging.Session
	userID      ref.UserID
	pollTimeout time.Duration
	logger      *slog.Logger

	roster  *AdminRoster
	store   *RoomStateStore
	invites *InviteRetryQueue
	router  *CommandRouter
	relay   *Relay

	// escalated dedupes admin-join grants within one batch.
	escalated map[ref.RoomID]bool
}

// New validates config and builds a Bot.
func New(config Config) (*Bot, error) {
	if config.Session == nil {
		return nil, errors.New("bot: Session is required")
	}
	if config.Submitter == nil {
		return nil, errors.New("bot: Submitter is required")
	}
	userID := config.Session.UserID()
	if userID.IsZero() {
		return nil, errors.New("bot: session has no user ID")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	roster := config.Roster
	if roster == nil {
		roster = NewAdminRoster(nil)
	}
	pollTimeout := config.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}

	b := &Bot{
		session:     config.Session,
		userID:      userID,
		pollTimeout: pollTimeout,
		logger:      logger,
		roster:      roster,
		invites:     NewInviteRetryQueue(config.Session, config.InviteAttempts, logger),
		router:      NewCommandRouter(config.Session, roster, config.Submitter, logger),
		relay:       NewRelay(config.Sink, config.Submitter, config.ReceivedBy, config.IntegrationsKind, logger),
	}
	b.store = NewRoomStateStore(roster, b.adminJoined, logger)
	return b, nil
}

// Roster returns the admin roster.
func (b *Bot) Roster() *AdminRoster { return b.roster }

// Rooms returns a snapshot of the known rooms. Only call from the
// goroutine running Run, or after Run has returned.
func (b *Bot) Rooms() []RoomInfo { return b.store.Snapshot() }

// Run performs the initial sync and then long-polls until ctx is
// cancelled (returning nil) or a sync fails (returning the error). Sync
// failures are fatal: the process supervisor restarts the bot.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("starting initial sync", "user_id", b.userID)
	initial, err := b.session.Sync(ctx, messaging.SyncOptions{})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("bot: initial sync: %w", err)
	}
	b.ProcessBatch(ctx, initial, true)
	b.logger.Info("initial sync complete", "rooms", b.store.Len(), "pending_invites", b.invites.Len())

	since := initial.NextBatch
	for {
		response, err := b.session.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    int(b.pollTimeout / time.Millisecond),
			SetTimeout: true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bot: sync: %w", err)
		}
		b.ProcessBatch(ctx, response, false)
		since = response.NextBatch
	}
}

// ProcessBatch applies one /sync response. With catchUp set (the
// initial sync), timeline messages are history: their state is applied
// but they are neither relayed nor run as commands.
func (b *Bot) ProcessBatch(ctx context.Context, response *messaging.SyncResponse, catchUp bool) {
	b.escalated = make(map[ref.RoomID]bool)
	changed := false

	joinedNow := make(map[ref.RoomID]bool)
	for _, roomID := range b.invites.Retry(ctx) {
		joinedNow[roomID] = true
		if b.store.Ensure(roomID) {
			changed = true
		}
	}

	for _, roomID := range sortedRoomIDs(response.Rooms.Invite) {
		if joinedNow[roomID] {
			continue
		}
		if b.invites.Invite(ctx, roomID) && b.store.Ensure(roomID) {
			changed = true
		}
	}

	for _, roomID := range sortedRoomIDs(response.Rooms.Join) {
		room := response.Rooms.Join[roomID]
		if b.store.Ensure(roomID) {
			changed = true
		}
		for _, event := range room.State.Events {
			if b.store.Apply(roomID, ParseStateEvent(event)) {
				changed = true
			}
		}
		for _, event := range room.Timeline.Events {
			if event.IsState() {
				if b.store.Apply(roomID, ParseStateEvent(event)) {
					changed = true
				}
				continue
			}
			if event.Type != messaging.EventTypeMessage || catchUp {
				continue
			}
			b.handleMessage(roomID, event)
		}
	}

	if changed {
		b.relay.PublishRooms(b.store.Snapshot())
	}
}

func (b *Bot) handleMessage(roomID ref.RoomID, event messaging.Event) {
	room, _ := b.store.Get(roomID)
	b.relay.RelayMessage(room, event)

	if event.Sender == b.userID {
		return
	}
	if msgtype, _ := event.ContentString("msgtype"); msgtype != "m.text" {
		return
	}
	body, _ := event.ContentString("body")
	b.router.Handle(roomID, event.Sender, body)
}

func (b *Bot) adminJoined(roomID ref.RoomID, _ ref.UserID) {
	if b.escalated[roomID] {
		return
	}
	b.escalated[roomID] = true
	b.router.GrantAdmins(roomID)
}

func sortedRoomIDs[V any](rooms map[ref.RoomID]V) []ref.RoomID {
	roomIDs := make([]ref.RoomID, 0, len(rooms))
	for roomID := range rooms {
		roomIDs = append(roomIDs, roomID)
	}
	slices.SortFunc(roomIDs, compareRoomIDs)
	return roomIDs
}
