// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package bot is the conference chat bot.
//
// Bot.Run owns the /sync long-poll loop. Each batch is processed in a
// fixed order: invite retries, new invites, then joined rooms sorted by
// room ID (state section before timeline). State events update the
// RoomStateStore; room messages are relayed to the backend and, when
// sent by an admin, parsed as commands.
//
// Everything that talks to the outside world after the batch is read
// (command replies, permission changes, backend posts) is handed to a
// Submitter, normally a dispatch.Dispatcher. The sync loop never waits
// on those tasks. Join attempts are the exception: they run inline
// because their outcome decides whether the room enters the store.
//
// The RoomStateStore and InviteRetryQueue belong to the sync loop
// goroutine. The AdminRoster is shared with the control-plane API and
// carries its own lock.
package bot

import (
	"github.com/waasabi/waasabi-matrix/lib/dispatch"
)

// Submitter accepts fire-and-forget side effects. *dispatch.Dispatcher
// implements it.
type Submitter interface {
	Submit(name string, task dispatch.Task)
}

var _ Submitter = (*dispatch.Dispatcher)(nil)
