// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/waasabi/waasabi-matrix/lib/config"
)

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer
	logger, err := newLogger(&out, "json", false)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown", "room_id", "!a:b")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want only the info record: %q", len(lines), out.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if record["msg"] != "shown" || record["room_id"] != "!a:b" {
		t.Errorf("record = %v", record)
	}

	out.Reset()
	logger, err = newLogger(&out, "text", true)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("visible")
	if !strings.Contains(out.String(), "msg=visible") {
		t.Errorf("verbose text logger dropped debug: %q", out.String())
	}

	if _, err := newLogger(&out, "xml", false); err == nil {
		t.Error("newLogger accepted an unknown format")
	}
}

// stdinFile returns a regular file, which is never a terminal.
func stdinFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { file.Close() })
	return file
}

func TestOpenSecrets(t *testing.T) {
	passwordFile := filepath.Join(t.TempDir(), "backend")
	if err := os.WriteFile(passwordFile, []byte("from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Matrix.Password = "matrix-pw"
	cfg.Backend.PasswordFile = passwordFile
	cfg.API.Secret = "api-key"

	secrets, err := openSecrets(cfg, stdinFile(t), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("openSecrets: %v", err)
	}
	defer secrets.Close()

	if secrets.matrixPassword.String() != "matrix-pw" {
		t.Errorf("matrix password = %q", secrets.matrixPassword.String())
	}
	if secrets.backendPassword.String() != "from-file" {
		t.Errorf("backend password = %q", secrets.backendPassword.String())
	}
	if !secrets.apiSecret.Equal([]byte("api-key")) {
		t.Error("api secret mismatch")
	}
	if secrets.mqttPassword != nil {
		t.Error("mqtt password set without configuration")
	}
}

func TestOpenSecretsNeedsMatrixPasswordWithoutTerminal(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Password = "pw"
	cfg.API.Secret = "key"

	_, err := openSecrets(cfg, stdinFile(t), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), config.EnvMatrixPassword) {
		t.Errorf("openSecrets() = %v, want an error naming %s", err, config.EnvMatrixPassword)
	}
}
