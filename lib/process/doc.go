// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds binary entrypoint helpers. Each main() is a
// thin wrapper around run() that hands its error to [Fatal]; a non-nil
// error from run() always means exit code 1.
package process
