// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/waasabi/waasabi-matrix/lib/ref"
	"github.com/waasabi/waasabi-matrix/messaging"
)

func TestInviteJoinsImmediately(t *testing.T) {
	session := newFakeSession()
	queue := NewInviteRetryQueue(session, 3, testLogger())

	if !queue.Invite(context.Background(), roomOne) {
		t.Fatal("Invite() = false for a room that accepts the join")
	}
	if queue.Len() != 0 {
		t.Errorf("Len() = %d after a successful join", queue.Len())
	}
}

func TestInviteRetryEventuallySucceeds(t *testing.T) {
	// Initial join fails, then two retries fail, then the third retry
	// succeeds.
	session := newFakeSession()
	session.joinFailures[roomOne] = 3
	queue := NewInviteRetryQueue(session, 3, testLogger())
	ctx := context.Background()

	if queue.Invite(ctx, roomOne) {
		t.Fatal("Invite() = true for a failing join")
	}
	for tick := 1; tick <= 2; tick++ {
		if joined := queue.Retry(ctx); len(joined) != 0 {
			t.Fatalf("tick %d joined %v", tick, joined)
		}
		remaining, ok := queue.Remaining(roomOne)
		if !ok || remaining != 3-tick {
			t.Fatalf("tick %d: Remaining() = %d, %v; want %d, true", tick, remaining, ok, 3-tick)
		}
	}

	joined := queue.Retry(ctx)
	if len(joined) != 1 || joined[0] != roomOne {
		t.Fatalf("third tick joined %v, want [%s]", joined, roomOne)
	}
	if _, ok := queue.Remaining(roomOne); ok {
		t.Error("room still queued after a successful join")
	}
}

func TestInviteRetryGivesUpAfterBudget(t *testing.T) {
	for budget := 1; budget <= 4; budget++ {
		session := newFakeSession()
		session.joinFailures[roomOne] = 100
		queue := NewInviteRetryQueue(session, budget, testLogger())
		ctx := context.Background()

		queue.Invite(ctx, roomOne)
		for tick := 1; tick < budget; tick++ {
			queue.Retry(ctx)
			if queue.Len() != 1 {
				t.Fatalf("budget %d: room dropped after %d failed retries", budget, tick)
			}
		}
		queue.Retry(ctx)
		if queue.Len() != 0 {
			t.Errorf("budget %d: room still queued after %d failed retries", budget, budget)
		}
		// One initial attempt plus one per retry.
		if got := len(session.Calls()); got != budget+1 {
			t.Errorf("budget %d: %d join attempts, want %d", budget, got, budget+1)
		}
	}
}

func TestInviteRepeatResetsBudget(t *testing.T) {
	session := newFakeSession()
	session.joinFailures[roomOne] = 100
	queue := NewInviteRetryQueue(session, 3, testLogger())
	ctx := context.Background()

	queue.Invite(ctx, roomOne)
	queue.Retry(ctx)
	queue.Retry(ctx)
	if remaining, _ := queue.Remaining(roomOne); remaining != 1 {
		t.Fatalf("Remaining() = %d before re-invite, want 1", remaining)
	}
	attempts := len(session.Calls())

	if queue.Invite(ctx, roomOne) {
		t.Fatal("re-invite of a failing room reported a join")
	}
	if remaining, _ := queue.Remaining(roomOne); remaining != 3 {
		t.Errorf("Remaining() = %d after re-invite, want 3", remaining)
	}
	if got := len(session.Calls()); got != attempts+1 {
		t.Errorf("re-invite made %d join attempts, want 1", got-attempts)
	}
}

func TestInviteRepeatJoinsQueuedRoom(t *testing.T) {
	session := newFakeSession()
	session.joinFailures[roomOne] = 1
	queue := NewInviteRetryQueue(session, 3, testLogger())
	ctx := context.Background()

	if queue.Invite(ctx, roomOne) {
		t.Fatal("first Invite() = true for a failing join")
	}
	if !queue.Invite(ctx, roomOne) {
		t.Fatal("re-invite did not join a room that now accepts the join")
	}
	if queue.Len() != 0 {
		t.Errorf("Len() = %d after the re-invite joined", queue.Len())
	}
	if joined := queue.Retry(ctx); len(joined) != 0 {
		t.Errorf("Retry() joined %v after the room was already joined", joined)
	}
	want := []string{"join " + roomOne.String(), "join " + roomOne.String()}
	if got := session.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

type rateLimitedJoiner struct{}

func (rateLimitedJoiner) JoinRoom(context.Context, ref.RoomID) (ref.RoomID, error) {
	return ref.RoomID{}, &messaging.MatrixError{
		Code:         messaging.ErrCodeLimitExceeded,
		Message:      "Too many requests",
		RetryAfterMS: 2500,
		StatusCode:   http.StatusTooManyRequests,
	}
}

func TestInviteFailureLogsBackOff(t *testing.T) {
	var output bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&output, &slog.HandlerOptions{Level: slog.LevelDebug}))
	queue := NewInviteRetryQueue(rateLimitedJoiner{}, 1, logger)
	ctx := context.Background()

	queue.Invite(ctx, roomOne)
	queue.Retry(ctx)

	logged := output.String()
	for _, want := range []string{
		"msg=\"join failed, will retry\"",
		"msg=\"giving up on invite\"",
		"transient=true",
		"retry_after=2.5s",
	} {
		if !strings.Contains(logged, want) {
			t.Errorf("log output missing %q:\n%s", want, logged)
		}
	}
}

func TestInviteRetryOrder(t *testing.T) {
	session := newFakeSession()
	session.joinFailures[roomTwo] = 1
	session.joinFailures[roomOne] = 1
	queue := NewInviteRetryQueue(session, 3, testLogger())
	ctx := context.Background()

	queue.Invite(ctx, roomTwo)
	queue.Invite(ctx, roomOne)
	joined := queue.Retry(ctx)

	if len(joined) != 2 || joined[0] != roomOne || joined[1] != roomTwo {
		t.Errorf("Retry() joined %v, want rooms in ID order", joined)
	}
}
