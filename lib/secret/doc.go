// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds credentials outside the Go heap.
//
// The bot carries three kinds of secret material for its whole lifetime:
// the Matrix password and access token, the backend password and JWT,
// and the shared key that guards the control-plane API. Each lives in a
// Buffer backed by an anonymous mmap region that is locked into RAM
// where the process is allowed to, excluded from core dumps, and zeroed
// on Close.
package secret
