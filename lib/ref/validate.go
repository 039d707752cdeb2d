// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// parsePrefixedID splits a Matrix identifier of the form
// <sigil><localpart>:<server> into its parts.
func parsePrefixedID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if identifier == "" {
		return "", "", fmt.Errorf("empty %s", kind)
	}
	if identifier[0] != sigil {
		return "", "", fmt.Errorf("%s must start with '%c': %q", kind, sigil, identifier)
	}
	colonIndex := strings.IndexByte(identifier, ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("%s missing ':server' suffix: %q", kind, identifier)
	}
	localpart = identifier[1:colonIndex]
	server = identifier[colonIndex+1:]
	if localpart == "" {
		return "", "", fmt.Errorf("%s has empty localpart: %q", kind, identifier)
	}
	if err := validateServer(server); err != nil {
		return "", "", fmt.Errorf("%s %q: %w", kind, identifier, err)
	}
	return localpart, server, nil
}

// validateServer checks a server name (host with optional port). Only
// structural problems are rejected; DNS validity is the homeserver's
// concern.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("empty server name")
	}
	for i := 0; i < len(server); i++ {
		switch c := server[i]; {
		case c <= ' ', c == '/', c == '#', c == '!', c == '@', c == 0x7f:
			return fmt.Errorf("invalid character %q in server name", c)
		}
	}
	return nil
}
