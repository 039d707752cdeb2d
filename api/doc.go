// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package api serves the bot's control-plane HTTP API.
//
// Two endpoints let trusted services act through the bot: POST /invite
// invites a user into a room and POST /room creates a room inviting
// every admin. Each request carries the shared secret in its api_key
// field; the comparison is constant-time. GET / serves a short HTML
// description of the API rendered from embedded Markdown.
//
// Handlers call the Matrix session synchronously and report its result;
// they do not use the dispatcher.
package api
