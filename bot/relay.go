// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"log/slog"

	"github.com/waasabi/waasabi-matrix/backend"
	"github.com/waasabi/waasabi-matrix/lib/ref"
	"github.com/waasabi/waasabi-matrix/messaging"
)

// DefaultReceivedBy identifies the bot in backend payloads.
const DefaultReceivedBy = "ferris-bot"

// ChatMessage is the backend payload for one room message.
type ChatMessage struct {
	ReceivedBy     string          `json:"received_by"`
	Channel        ref.RoomID      `json:"channel"`
	ChannelName    *string         `json:"channel_name"`
	ChannelDetails ChannelDetails  `json:"channel_details"`
	Sender         ref.UserID      `json:"sender"`
	SenderDetails  any             `json:"sender_details"`
	Message        *string         `json:"message"`
	MessageDetails messaging.Event `json:"message_details"`
}

// ChannelDetails carries room metadata beyond the name.
type ChannelDetails struct {
	Alias *string `json:"alias"`
}

// RoomList is the backend payload announcing the bot's rooms.
type RoomList struct {
	ReceivedBy string     `json:"received_by"`
	Rooms      []RoomInfo `json:"rooms"`
}

// Relay forwards chat activity to the backend through the dispatcher.
// A nil sink disables relaying.
type Relay struct {
	sink             backend.Sink
	submit           Submitter
	receivedBy       string
	integrationsKind string
	logger           *slog.Logger
}

// NewRelay returns a Relay. Empty receivedBy and integrationsKind take
// the defaults.
func NewRelay(sink backend.Sink, submit Submitter, receivedBy, integrationsKind string, logger *slog.Logger) *Relay {
	if receivedBy == "" {
		receivedBy = DefaultReceivedBy
	}
	if integrationsKind == "" {
		integrationsKind = backend.DefaultIntegrationsKind
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		sink:             sink,
		submit:           submit,
		receivedBy:       receivedBy,
		integrationsKind: integrationsKind,
		logger:           logger,
	}
}

// messageBody returns the body of text-like messages.
func messageBody(event messaging.Event) *string {
	msgtype, _ := event.ContentString("msgtype")
	switch msgtype {
	case "m.text", "m.notice", "m.emote":
		if body, ok := event.ContentString("body"); ok {
			return &body
		}
	}
	return nil
}

// NewChatMessage builds the payload for event as seen in room.
func (r *Relay) NewChatMessage(room RoomInfo, event messaging.Event) ChatMessage {
	return ChatMessage{
		ReceivedBy:     r.receivedBy,
		Channel:        room.ID,
		ChannelName:    room.Name,
		ChannelDetails: ChannelDetails{Alias: room.Alias},
		Sender:         event.Sender,
		Message:        messageBody(event),
		MessageDetails: event,
	}
}

// RelayMessage submits a post of event, carrying the room's metadata as
// it was when the message was read.
func (r *Relay) RelayMessage(room RoomInfo, event messaging.Event) {
	if r.sink == nil {
		return
	}
	payload := r.NewChatMessage(room, event)
	r.submit.Submit(backend.KindChatMessage, func(ctx context.Context) error {
		return r.sink.Post(ctx, backend.KindChatMessage, payload)
	})
}

// PublishRooms submits a post of the full room list.
func (r *Relay) PublishRooms(rooms []RoomInfo) {
	if r.sink == nil {
		return
	}
	payload := RoomList{ReceivedBy: r.receivedBy, Rooms: rooms}
	r.logger.Debug("publishing room list", "rooms", len(rooms))
	r.submit.Submit(r.integrationsKind, func(ctx context.Context) error {
		return r.sink.Post(ctx, r.integrationsKind, payload)
	})
}
