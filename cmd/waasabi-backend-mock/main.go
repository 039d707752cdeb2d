// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// waasabi-backend-mock is a stand-in for the event backend during local
// development. POST /auth/local accepts any credentials and returns a
// signed JWT valid for 24 hours. Every other request is logged with its
// body and answered 200.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"

	"github.com/waasabi/waasabi-matrix/lib/clock"
	"github.com/waasabi/waasabi-matrix/lib/netutil"
	"github.com/waasabi/waasabi-matrix/lib/process"
	"github.com/waasabi/waasabi-matrix/lib/version"
)

const (
	binaryName = "waasabi-backend-mock"

	// tokenLifetime is the exp of every minted JWT.
	tokenLifetime = 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var listen string
	var verbose bool

	flagSet := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", "127.0.0.1:3300", "address to listen on")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print(binaryName)
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		return fmt.Errorf("generating signing key: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              listen,
		Handler:           newMockBackend(logger, signingKey, clock.Real()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	logger.Info("mock backend listening", "address", listen)

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	JWT  string            `json:"jwt"`
	User map[string]string `json:"user"`
}

// newMockBackend returns the mock's handler. Tokens are signed with key
// and expire tokenLifetime after clk's current time.
func newMockBackend(logger *slog.Logger, key []byte, clk clock.Clock) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/auth/local", func(w http.ResponseWriter, r *http.Request) {
		var request loginRequest
		if err := netutil.DecodeRequest(r.Body, &request); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "malformed login request"})
			return
		}
		now := clk.Now()
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   request.Identifier,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		}).SignedString(key)
		if err != nil {
			logger.Error("signing token", "error", err)
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "signing failed"})
			return
		}
		logger.Info("login", "identifier", request.Identifier)
		render.JSON(w, r, loginResponse{JWT: token, User: map[string]string{"username": request.Identifier}})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		body, err := netutil.ReadResponse(http.MaxBytesReader(w, r.Body, netutil.MaxRequestSize))
		if err != nil {
			logger.Warn("reading request body", "path", r.URL.Path, "error", err)
		}
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"authorized", validBearer(r, key, clk),
			"body", string(body),
		)
		w.WriteHeader(http.StatusOK)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("request", "method", r.Method, "path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// validBearer reports whether the request carries a token this mock
// signed. The mock answers 200 either way; the result is only logged.
func validBearer(r *http.Request, key []byte, clk clock.Clock) bool {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	_, err := jwt.Parse(header[len(prefix):], func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(clk.Now))
	return err == nil
}
