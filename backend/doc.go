// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend delivers bot events to the conference backend.
//
// A Sink accepts an event kind and a JSON-encodable payload. Client is
// the primary sink: a Strapi-style REST backend that authenticates with
// a JWT from POST auth/local and accepts each kind as POST <kind>.
// MQTTSink mirrors the same events onto an MQTT broker for live
// dashboards. Fanout combines several sinks.
//
// Callers hand Sink.Post to a dispatch.Dispatcher; nothing in this
// package retries beyond a single re-login on an expired token.
package backend

import "context"

// Event kinds posted by the bot. The kind doubles as the REST path
// segment on the backend.
const (
	KindChatMessage = "chat-messages"

	// DefaultIntegrationsKind is where the aggregated room list goes.
	DefaultIntegrationsKind = "event-manager/integrations"
)

// Sink receives events relayed from chat.
type Sink interface {
	Post(ctx context.Context, kind string, payload any) error
}
