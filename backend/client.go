// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/waasabi/waasabi-matrix/lib/clock"
	"github.com/waasabi/waasabi-matrix/lib/netutil"
	"github.com/waasabi/waasabi-matrix/lib/secret"
)

// refreshMargin is how long before the JWT's expiry the client logs in
// again instead of sending a request that would be rejected.
const refreshMargin = time.Minute

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsStatus reports whether err is a *StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

// ClientConfig holds configuration for a backend Client.
type ClientConfig struct {
	// Host is the backend base URL (e.g., "http://127.0.0.1:3300").
	Host string
	// Identifier and Password are the credentials for auth/local. The
	// caller keeps ownership of Password.
	Identifier string
	Password   *secret.Buffer
	// UserAgent is sent on every request.
	UserAgent string
	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
	// Clock decides when the JWT is about to expire. Nil means clock.Real().
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client posts events to a Strapi-compatible backend.
type Client struct {
	baseURL    string
	identifier string
	password   *secret.Buffer
	userAgent  string
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger

	mu        sync.Mutex
	token     *secret.Buffer
	expiresAt time.Time
}

var _ Sink = (*Client)(nil)

// NewClient validates config and returns a Client. It does not log in;
// call Login to fail fast on bad credentials.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Host == "" {
		return nil, errors.New("backend: Host is required")
	}
	if _, err := url.Parse(config.Host); err != nil {
		return nil, fmt.Errorf("backend: invalid Host %q: %w", config.Host, err)
	}
	if config.Identifier == "" || config.Password == nil {
		return nil, errors.New("backend: Identifier and Password are required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.Host, "/"),
		identifier: config.Identifier,
		password:   config.Password,
		userAgent:  config.UserAgent,
		httpClient: httpClient,
		clock:      clk,
		logger:     logger,
	}, nil
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	JWT string `json:"jwt"`
}

// Login exchanges the configured credentials for a JWT.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	body, err := c.do(ctx, "auth/local", nil, loginRequest{
		Identifier: c.identifier,
		Password:   c.password.String(),
	})
	if err != nil {
		return fmt.Errorf("backend: login failed: %w", err)
	}

	var response loginResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("backend: failed to parse login response: %w", err)
	}
	if response.JWT == "" {
		return errors.New("backend: login response has no jwt")
	}

	token, err := secret.NewFromString(response.JWT)
	if err != nil {
		return fmt.Errorf("backend: protecting jwt: %w", err)
	}
	if c.token != nil {
		c.token.Close()
	}
	c.token = token
	c.expiresAt = tokenExpiry(response.JWT)

	c.logger.Info("logged in to backend", "identifier", c.identifier, "expires_at", c.expiresAt)
	return nil
}

// tokenExpiry returns the exp claim of a JWT, or the zero time if the
// token is opaque or carries no expiry. The signature is not checked:
// the backend is the only party that can, and an invalid token surfaces
// as a 401 anyway.
func tokenExpiry(raw string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Post sends payload as JSON to <host>/<kind>. Logs in again first when
// the JWT is missing or about to expire, and once more on a 401.
func (c *Client) Post(ctx context.Context, kind string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil || (!c.expiresAt.IsZero() && c.clock.Now().Add(refreshMargin).After(c.expiresAt)) {
		if err := c.loginLocked(ctx); err != nil {
			return err
		}
	}

	_, err := c.do(ctx, kind, c.token, payload)
	if IsStatus(err, http.StatusUnauthorized) {
		c.logger.Info("backend rejected jwt, logging in again", "kind", kind)
		if loginErr := c.loginLocked(ctx); loginErr != nil {
			return loginErr
		}
		_, err = c.do(ctx, kind, c.token, payload)
	}
	if err != nil {
		return fmt.Errorf("backend: posting %s: %w", kind, err)
	}
	c.logger.Debug("posted to backend", "kind", kind)
	return nil
}

// Close releases the JWT memory.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return nil
	}
	err := c.token.Close()
	c.token = nil
	return err
}

func (c *Client) do(ctx context.Context, path string, token *secret.Buffer, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	requestURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		request.Header.Set("User-Agent", c.userAgent)
	}
	if token != nil {
		request.Header.Set("Authorization", "Bearer "+token.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &StatusError{
			Method:     http.MethodPost,
			Path:       path,
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body),
		}
	}
	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", path, err)
	}
	return body, nil
}
