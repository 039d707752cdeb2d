// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	if got, want := UserAgent("ferris-bot"), "ferris-bot/"+Version; got != want {
		t.Errorf("UserAgent = %q, want %q", got, want)
	}
}

func TestFullContainsInfo(t *testing.T) {
	if !strings.HasPrefix(Full(), Info()) {
		t.Errorf("Full() = %q does not start with Info()", Full())
	}
}
