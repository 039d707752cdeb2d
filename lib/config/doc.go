// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the bot's configuration file.
//
// Configuration comes from a single file named by a --config flag (via
// [LoadFile]) or the WAASABI_CONFIG environment variable (via [Load]).
// There is no discovery and no search path. YAML is the native format;
// files ending in .json or .jsonc are accepted after comments and
// trailing commas are stripped.
//
// Secrets are the only values the environment may override:
// WAASABI_MATRIX_PASSWORD, WAASABI_BACKEND_PASSWORD and
// WAASABI_API_SECRET. They are read from the process environment
// first, then from a dotenv file (by default .env next to the config
// file, if present). Each secret may instead name a file holding it
// (password_file, secret_file); [OpenSecret] resolves either form into
// a [secret.Buffer].
//
// Key exports:
//
//   - [Config] -- sections Matrix, API, Backend, Dispatcher, Sync
//   - [Default] -- a Config with every default filled in
//   - [Load] and [LoadFile] -- the two entry points
//   - [Config.Validate] -- reports every problem at once
package config
