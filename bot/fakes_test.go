// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/waasabi/waasabi-matrix/lib/dispatch"
	"github.com/waasabi/waasabi-matrix/lib/ref"
	"github.com/waasabi/waasabi-matrix/messaging"
)

var (
	botUser   = ref.MustParseUserID("@ferris:conf.example")
	adminUser = ref.MustParseUserID("@alice:conf.example")
	otherUser = ref.MustParseUserID("@mallory:evil.example")
	roomOne   = ref.MustParseRoomID("!one:conf.example")
	roomTwo   = ref.MustParseRoomID("!two:conf.example")
)

var errJoinRefused = errors.New("join refused")

// fakeSession is an in-memory messaging.Session recording every call
// in order as a short string ("join !r:s", "send !r:s PONG!", ...).
type fakeSession struct {
	mu sync.Mutex

	userID ref.UserID
	calls  []string

	// joinFailures counts remaining failures per room before a join
	// succeeds. Rooms absent from the map join on the first try.
	joinFailures map[ref.RoomID]int

	// state holds raw state content keyed by "room|type|state_key".
	state map[string]json.RawMessage

	created  []messaging.CreateRoomRequest
	aliases  map[ref.RoomAlias]ref.RoomID
	messages []sentMessage

	// syncs are returned in order. Once exhausted, Sync returns syncErr
	// if set; otherwise it calls exhausted (if set) and blocks until
	// the context is done.
	syncs       []*messaging.SyncResponse
	syncOptions []messaging.SyncOptions
	syncErr     error
	exhausted   func()
}

type sentMessage struct {
	RoomID ref.RoomID
	Body   string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		userID:       botUser,
		joinFailures: make(map[ref.RoomID]int),
		state:        make(map[string]json.RawMessage),
		aliases:      make(map[ref.RoomAlias]ref.RoomID),
	}
}

var _ messaging.Session = (*fakeSession)(nil)

func stateKey(roomID ref.RoomID, eventType ref.EventType, key string) string {
	return roomID.String() + "|" + string(eventType) + "|" + key
}

func (s *fakeSession) record(format string, args ...any) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *fakeSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSession) Messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.messages...)
}

// PowerLevels decodes the power levels last written to roomID.
func (s *fakeSession) PowerLevels(t *testing.T, roomID ref.RoomID) map[string]any {
	t.Helper()
	s.mu.Lock()
	raw, ok := s.state[stateKey(roomID, messaging.EventTypePowerLevels, "")]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no power levels written to %s", roomID)
	}
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		t.Fatalf("decoding power levels: %v", err)
	}
	return content
}

func (s *fakeSession) UserID() ref.UserID { return s.userID }

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) WhoAmI(context.Context) (ref.UserID, error) { return s.userID, nil }

func (s *fakeSession) Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error) {
	s.mu.Lock()
	s.syncOptions = append(s.syncOptions, options)
	if len(s.syncs) > 0 {
		response := s.syncs[0]
		s.syncs = s.syncs[1:]
		s.mu.Unlock()
		return response, nil
	}
	syncErr, exhausted := s.syncErr, s.exhausted
	s.mu.Unlock()

	if syncErr != nil {
		return nil, syncErr
	}
	if exhausted != nil {
		exhausted()
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSession) JoinRoom(_ context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("join %s", roomID)
	if remaining := s.joinFailures[roomID]; remaining > 0 {
		s.joinFailures[roomID] = remaining - 1
		return ref.RoomID{}, errJoinRefused
	}
	return roomID, nil
}

func (s *fakeSession) InviteUser(_ context.Context, roomID ref.RoomID, userID ref.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("invite %s %s", roomID, userID)
	return nil
}

func (s *fakeSession) SendMessage(_ context.Context, roomID ref.RoomID, content messaging.MessageContent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("send %s %s", roomID, content.Body)
	s.messages = append(s.messages, sentMessage{RoomID: roomID, Body: content.Body})
	return fmt.Sprintf("$event%d", len(s.calls)), nil
}

func (s *fakeSession) SendEvent(_ context.Context, roomID ref.RoomID, eventType ref.EventType, _ any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("event %s %s", roomID, eventType)
	return fmt.Sprintf("$event%d", len(s.calls)), nil
}

func (s *fakeSession) SendStateEvent(_ context.Context, roomID ref.RoomID, eventType ref.EventType, key string, content any) (string, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("state %s %s", roomID, eventType)
	s.state[stateKey(roomID, eventType, key)] = raw
	return fmt.Sprintf("$event%d", len(s.calls)), nil
}

func (s *fakeSession) GetStateEvent(_ context.Context, roomID ref.RoomID, eventType ref.EventType, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.state[stateKey(roomID, eventType, key)]
	if !ok {
		return nil, &messaging.MatrixError{
			Code:       messaging.ErrCodeNotFound,
			Message:    "Event not found.",
			StatusCode: http.StatusNotFound,
		}
	}
	return raw, nil
}

func (s *fakeSession) CreateRoom(_ context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("create %s", request.Alias)
	s.created = append(s.created, request)
	roomID := ref.MustParseRoomID(fmt.Sprintf("!created%d:conf.example", len(s.created)))
	return &messaging.CreateRoomResponse{RoomID: roomID}, nil
}

func (s *fakeSession) ResolveAlias(_ context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("resolve %s", alias)
	roomID, ok := s.aliases[alias]
	if !ok {
		return ref.RoomID{}, &messaging.MatrixError{Code: messaging.ErrCodeNotFound, StatusCode: http.StatusNotFound}
	}
	return roomID, nil
}

// recordingSubmitter queues tasks instead of running them, so tests can
// inspect what was submitted before executing it.
type recordingSubmitter struct {
	names []string
	tasks []dispatch.Task
}

func (s *recordingSubmitter) Submit(name string, task dispatch.Task) {
	s.names = append(s.names, name)
	s.tasks = append(s.tasks, task)
}

// runAll executes and clears every queued task in submission order,
// failing the test on the first error.
func (s *recordingSubmitter) runAll(t *testing.T) {
	t.Helper()
	tasks := s.tasks
	s.tasks = nil
	for index, task := range tasks {
		if err := task(context.Background()); err != nil {
			t.Fatalf("task %d (%s): %v", index, s.names[index], err)
		}
	}
}

type post struct {
	Kind    string
	Payload any
}

type recordingSink struct {
	mu    sync.Mutex
	posts []post
}

func (s *recordingSink) Post(_ context.Context, kind string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, post{Kind: kind, Payload: payload})
	return nil
}

func (s *recordingSink) Posts() []post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]post(nil), s.posts...)
}

func stateEvent(eventType ref.EventType, key string, sender ref.UserID, content map[string]any) messaging.Event {
	return messaging.Event{
		EventID:  "$state",
		Type:     eventType,
		Sender:   sender,
		StateKey: &key,
		Content:  content,
	}
}

func textEvent(sender ref.UserID, body string) messaging.Event {
	return messaging.Event{
		EventID: "$text",
		Type:    messaging.EventTypeMessage,
		Sender:  sender,
		Content: map[string]any{"msgtype": "m.text", "body": body},
	}
}

func stringPointer(value string) *string { return &value }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
