// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/waasabi/waasabi-matrix/lib/clock"
	"github.com/waasabi/waasabi-matrix/lib/secret"
)

var epoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func mintToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "bot",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

// mockBackend records logins and posted bodies. rejectNext makes the
// next authenticated request fail with 401.
type mockBackend struct {
	t          *testing.T
	token      string
	mu         sync.Mutex
	logins     int
	posts      []map[string]any
	rejectNext bool
	failWith   int
}

func (m *mockBackend) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if request.URL.Path == "/auth/local" {
		var body loginRequest
		json.NewDecoder(request.Body).Decode(&body)
		if body.Identifier != "bot" || body.Password != "hunter2" {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		m.logins++
		json.NewEncoder(writer).Encode(loginResponse{JWT: m.token})
		return
	}

	if request.URL.Path != "/chat-messages" {
		m.t.Errorf("unexpected path %s", request.URL.Path)
	}
	if request.Header.Get("User-Agent") != "ferris-bot/test" {
		m.t.Errorf("User-Agent = %q", request.Header.Get("User-Agent"))
	}
	if request.Header.Get("Authorization") != "Bearer "+m.token || m.rejectNext {
		m.rejectNext = false
		writer.WriteHeader(http.StatusUnauthorized)
		return
	}
	if m.failWith != 0 {
		writer.WriteHeader(m.failWith)
		writer.Write([]byte("broken"))
		return
	}
	var body map[string]any
	json.NewDecoder(request.Body).Decode(&body)
	m.posts = append(m.posts, body)
	writer.Write([]byte(`{}`))
}

func (m *mockBackend) counts() (logins, posts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins, len(m.posts)
}

func (m *mockBackend) rejectNextRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = true
}

func newTestClient(t *testing.T, backend *mockBackend, clk clock.Clock) *Client {
	t.Helper()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{
		Host:       server.URL + "/",
		Identifier: "bot",
		Password:   testBuffer(t, "hunter2"),
		UserAgent:  "ferris-bot/test",
		Clock:      clk,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPostLogsInOnce(t *testing.T) {
	fake := clock.Fake(epoch)
	backend := &mockBackend{t: t, token: mintToken(t, epoch.Add(time.Hour))}
	client := newTestClient(t, backend, fake)

	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	for range 2 {
		if err := client.Post(context.Background(), KindChatMessage, map[string]string{"message": "hi"}); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	logins, posts := backend.counts()
	if logins != 1 || posts != 2 {
		t.Errorf("logins = %d, posts = %d; want 1, 2", logins, posts)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.posts[0]["message"] != "hi" {
		t.Errorf("posts = %v", backend.posts)
	}
}

func TestPostRefreshesExpiringToken(t *testing.T) {
	fake := clock.Fake(epoch)
	backend := &mockBackend{t: t, token: mintToken(t, epoch.Add(10*time.Minute))}
	client := newTestClient(t, backend, fake)

	if err := client.Post(context.Background(), KindChatMessage, map[string]string{}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if logins, _ := backend.counts(); logins != 1 {
		t.Fatalf("logins = %d after first Post, want 1", logins)
	}

	fake.Advance(9*time.Minute + 30*time.Second)
	if err := client.Post(context.Background(), KindChatMessage, map[string]string{}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if logins, _ := backend.counts(); logins != 2 {
		t.Errorf("logins = %d after nearing expiry, want 2", logins)
	}
}

func TestPostRetriesOnceAfter401(t *testing.T) {
	backend := &mockBackend{t: t, token: "opaque-token"}
	client := newTestClient(t, backend, clock.Fake(epoch))
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	backend.rejectNextRequest()
	if err := client.Post(context.Background(), KindChatMessage, map[string]string{}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if logins, posts := backend.counts(); logins != 2 || posts != 1 {
		t.Errorf("logins = %d, posts = %d; want 2, 1", logins, posts)
	}
}

func TestPostReportsStatusError(t *testing.T) {
	backend := &mockBackend{t: t, token: "opaque-token", failWith: http.StatusInternalServerError}
	client := newTestClient(t, backend, clock.Fake(epoch))

	err := client.Post(context.Background(), KindChatMessage, map[string]string{})
	if !IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("Post error = %v, want 500 StatusError", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	backend := &mockBackend{t: t, token: "opaque-token"}
	server := httptest.NewServer(backend)
	defer server.Close()

	client, err := NewClient(ClientConfig{
		Host:       server.URL,
		Identifier: "bot",
		Password:   testBuffer(t, "wrong"),
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Login(context.Background()); !IsStatus(err, http.StatusBadRequest) {
		t.Errorf("Login error = %v, want 400 StatusError", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	expiresAt := epoch.Add(time.Hour)
	if got := tokenExpiry(mintToken(t, expiresAt)); !got.Equal(expiresAt) {
		t.Errorf("tokenExpiry = %v, want %v", got, expiresAt)
	}
	if got := tokenExpiry("not-a-jwt"); !got.IsZero() {
		t.Errorf("tokenExpiry(opaque) = %v, want zero", got)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{Identifier: "bot", Password: testBuffer(t, "x")}); err == nil {
		t.Error("NewClient accepted an empty host")
	}
	if _, err := NewClient(ClientConfig{Host: "http://localhost"}); err == nil {
		t.Error("NewClient accepted missing credentials")
	}
}
