// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"log/slog"
	"slices"

	"github.com/waasabi/waasabi-matrix/lib/ref"
	"github.com/waasabi/waasabi-matrix/messaging"
)

// DefaultInviteAttempts is the number of retries a failed join gets.
const DefaultInviteAttempts = 3

// Joiner joins rooms. messaging.Session satisfies it.
type Joiner interface {
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)
}

// InviteRetryQueue tracks rooms whose join failed. Each entry gets a
// fixed number of further attempts, one per sync batch. Owned by the
// sync loop; not safe for concurrent use.
type InviteRetryQueue struct {
	joiner   Joiner
	attempts int
	pending  map[ref.RoomID]int
	logger   *slog.Logger
}

// NewInviteRetryQueue returns an empty queue giving each failed join
// attempts retries. attempts <= 0 means DefaultInviteAttempts.
func NewInviteRetryQueue(joiner Joiner, attempts int, logger *slog.Logger) *InviteRetryQueue {
	if attempts <= 0 {
		attempts = DefaultInviteAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InviteRetryQueue{
		joiner:   joiner,
		attempts: attempts,
		pending:  make(map[ref.RoomID]int),
		logger:   logger,
	}
}

// Invite handles a newly seen invite by attempting the join now. A
// failed join queues the room with a full retry budget; a repeat
// invite for a queued room resets that budget. Reports whether the bot
// joined.
func (q *InviteRetryQueue) Invite(ctx context.Context, roomID ref.RoomID) bool {
	_, queued := q.pending[roomID]
	if _, err := q.joiner.JoinRoom(ctx, roomID); err != nil {
		q.pending[roomID] = q.attempts
		q.logger.Warn("join failed, will retry",
			append(joinErrorAttrs(err),
				"room_id", roomID,
				"attempts_remaining", q.attempts,
				"requeued", queued,
			)...,
		)
		return false
	}
	delete(q.pending, roomID)
	q.logger.Info("joined room", "room_id", roomID)
	return true
}

// joinErrorAttrs describes a join failure for logging. Homeserver rate
// limits and 5xx responses are flagged transient, with the server's
// requested back-off when it sent one.
func joinErrorAttrs(err error) []any {
	attrs := []any{"error", err, "transient", messaging.IsTransient(err)}
	if delay, ok := messaging.RetryAfter(err); ok {
		attrs = append(attrs, "retry_after", delay)
	}
	return attrs
}

// Retry makes one more join attempt for every queued room, in room ID
// order, and returns the rooms joined. An entry is dropped after
// success or after its last attempt fails.
func (q *InviteRetryQueue) Retry(ctx context.Context) []ref.RoomID {
	if len(q.pending) == 0 {
		return nil
	}
	roomIDs := make([]ref.RoomID, 0, len(q.pending))
	for roomID := range q.pending {
		roomIDs = append(roomIDs, roomID)
	}
	slices.SortFunc(roomIDs, compareRoomIDs)

	var joined []ref.RoomID
	for _, roomID := range roomIDs {
		remaining := q.pending[roomID] - 1
		_, err := q.joiner.JoinRoom(ctx, roomID)
		switch {
		case err == nil:
			delete(q.pending, roomID)
			joined = append(joined, roomID)
			q.logger.Info("joined room on retry", "room_id", roomID)
		case remaining <= 0:
			delete(q.pending, roomID)
			q.logger.Warn("giving up on invite", append(joinErrorAttrs(err), "room_id", roomID)...)
		default:
			q.pending[roomID] = remaining
			q.logger.Debug("join retry failed",
				append(joinErrorAttrs(err),
					"room_id", roomID,
					"attempts_remaining", remaining,
				)...,
			)
		}
	}
	return joined
}

// Remaining returns the retries left for roomID and whether it is queued.
func (q *InviteRetryQueue) Remaining(roomID ref.RoomID) (int, bool) {
	remaining, ok := q.pending[roomID]
	return remaining, ok
}

// Len returns the number of queued rooms.
func (q *InviteRetryQueue) Len() int { return len(q.pending) }

func compareRoomIDs(a, b ref.RoomID) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
