// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/waasabi/waasabi-matrix/bot"
	"github.com/waasabi/waasabi-matrix/lib/netutil"
	"github.com/waasabi/waasabi-matrix/lib/ref"
	"github.com/waasabi/waasabi-matrix/lib/secret"
	"github.com/waasabi/waasabi-matrix/messaging"
)

//go:embed index.md
var indexMarkdown []byte

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Config holds the parameters for New.
type Config struct {
	// Listen is the host:port Run binds.
	Listen string

	// Session performs the Matrix calls.
	Session messaging.Session

	// Roster supplies the invite list for new rooms.
	Roster *bot.AdminRoster

	// Secret is the shared api_key. The server does not take ownership.
	Secret *secret.Buffer

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Server is the control-plane HTTP server.
type Server struct {
	listen  string
	session messaging.Session
	roster  *bot.AdminRoster
	secret  *secret.Buffer
	logger  *slog.Logger
	index   []byte
	router  chi.Router
}

// New validates config and renders the index page.
func New(config Config) (*Server, error) {
	if config.Session == nil {
		return nil, errors.New("api: Session is required")
	}
	if config.Roster == nil {
		return nil, errors.New("api: Roster is required")
	}
	if config.Secret == nil || config.Secret.Len() == 0 {
		return nil, errors.New("api: Secret is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	index, err := renderIndex(indexMarkdown)
	if err != nil {
		return nil, fmt.Errorf("api: rendering index page: %w", err)
	}

	s := &Server{
		listen:  config.Listen,
		session: config.Session,
		roster:  config.Roster,
		secret:  config.Secret,
		logger:  logger,
		index:   index,
	}
	s.router = s.routes()
	return s, nil
}

func renderIndex(source []byte) ([]byte, error) {
	markdown := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var body bytes.Buffer
	body.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>waasabi-matrix</title></head><body>\n")
	if err := markdown.Convert(source, &body); err != nil {
		return nil, err
	}
	body.WriteString("</body></html>\n")
	return body.Bytes(), nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(netutil.MaxRequestSize))

	r.Get("/", s.handleIndex)
	r.Post("/invite", s.handleInvite)
	r.Post("/room", s.handleCreateRoom)
	return r
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("api: listening on %s: %w", s.listen, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener. It closes listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()
	s.logger.Info("control API listening", "address", listener.Addr().String())

	select {
	case err := <-serveErr:
		return fmt.Errorf("api: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutting down: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serving: %w", err)
	}
	s.logger.Info("control API stopped")
	return nil
}

// InviteRequest is the body of POST /invite.
type InviteRequest struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
	APIKey string `json:"api_key"`
}

// CreateRoomRequest is the body of POST /room.
type CreateRoomRequest struct {
	APIKey string  `json:"api_key"`
	Alias  string  `json:"alias"`
	Name   string  `json:"name"`
	Topic  *string `json:"topic,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(s.index)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var request InviteRequest
	if !s.decode(w, r, &request) || !s.authorize(w, r, request.APIKey) {
		return
	}

	userID, err := ref.ParseUserID(strings.TrimSpace(request.UserID))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateRoom(request.RoomID); err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("invite requested", "user_id", userID, "room", request.RoomID)

	roomID, err := messaging.ResolveRoom(r.Context(), s.session, request.RoomID)
	if err != nil {
		s.logger.Error("resolving room for invite", "room", request.RoomID, "error", err)
		s.fail(w, r, http.StatusInternalServerError, "resolving room failed")
		return
	}
	if err := s.session.InviteUser(r.Context(), roomID, userID); err != nil {
		s.logger.Error("inviting user", "room_id", roomID, "user_id", userID, "error", err)
		s.fail(w, r, http.StatusInternalServerError, "invite failed")
		return
	}
	render.JSON(w, r, statusResponse{Status: "ok"})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var request CreateRoomRequest
	if !s.decode(w, r, &request) || !s.authorize(w, r, request.APIKey) {
		return
	}
	if bot.AliasLocalpart(request.Alias) == "" || strings.TrimSpace(request.Name) == "" {
		s.fail(w, r, http.StatusBadRequest, "alias and name are required")
		return
	}
	s.logger.Info("room creation requested", "alias", request.Alias, "name", request.Name)

	spec := bot.RoomSpec{
		Alias:  request.Alias,
		Name:   request.Name,
		Invite: s.roster.UserIDs(s.logger),
	}
	if request.Topic != nil {
		spec.Topic = *request.Topic
	}
	roomID, err := bot.CreateRoom(r.Context(), s.session, spec)
	if err != nil {
		s.logger.Error("creating room", "alias", request.Alias, "error", err)
		s.fail(w, r, http.StatusInternalServerError, "room creation failed")
		return
	}
	s.logger.Info("room created", "room_id", roomID, "alias", request.Alias)
	render.JSON(w, r, statusResponse{Status: "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := netutil.DecodeRequest(r.Body, v); err != nil {
		s.logger.Debug("rejecting malformed request", "path", r.URL.Path, "error", err)
		s.fail(w, r, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, apiKey string) bool {
	if !s.secret.Equal([]byte(apiKey)) {
		s.logger.Warn("rejecting request with wrong api_key", "path", r.URL.Path, "remote", r.RemoteAddr)
		s.fail(w, r, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: message})
}

// validateRoom checks that raw is a well-formed room ID or alias.
func validateRoom(raw string) error {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "#") {
		_, err := ref.ParseRoomAlias(raw)
		return err
	}
	_, err := ref.ParseRoomID(raw)
	return err
}
