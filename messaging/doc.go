// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a small Matrix client-server API client.
//
// It covers what a bot needs: password login, long-poll /sync, joining and
// inviting, sending messages and state events, reading state, creating
// rooms, and resolving aliases. Client holds the homeserver URL and HTTP
// transport; Login returns a DirectSession that carries the access token
// in a secret.Buffer.
//
// Non-2xx responses are returned as *MatrixError so that callers can
// branch on the Matrix errcode with errors.As or IsMatrixError.
package messaging
