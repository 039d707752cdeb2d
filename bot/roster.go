// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/waasabi/waasabi-matrix/lib/ref"
)

// AdminRoster is the ordered set of users allowed to run commands.
// Entries are compared as exact strings. The roster only grows: !op adds
// to it and nothing removes from it.
type AdminRoster struct {
	mu    sync.RWMutex
	users []string
}

// NewAdminRoster returns a roster seeded with users, dropping duplicates
// and keeping first-seen order.
func NewAdminRoster(users []string) *AdminRoster {
	roster := &AdminRoster{}
	for _, user := range users {
		roster.Add(user)
	}
	return roster
}

// Contains reports whether user is an admin.
func (r *AdminRoster) Contains(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.users, user)
}

// Add appends user unless already present. Reports whether it was added.
func (r *AdminRoster) Add(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user == "" || slices.Contains(r.users, user) {
		return false
	}
	r.users = append(r.users, user)
	return true
}

// List returns a copy of the roster in insertion order.
func (r *AdminRoster) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.users)
}

// String joins the roster with ", " for chat replies.
func (r *AdminRoster) String() string {
	return strings.Join(r.List(), ", ")
}

// UserIDs returns the roster entries that parse as Matrix user IDs.
// An admin added with a malformed ID stays in the roster (so ?op shows
// it) but cannot be invited or granted power.
func (r *AdminRoster) UserIDs(logger *slog.Logger) []ref.UserID {
	users := r.List()
	userIDs := make([]ref.UserID, 0, len(users))
	for _, user := range users {
		userID, err := ref.ParseUserID(user)
		if err != nil {
			logger.Warn("skipping malformed admin user ID", "user", user, "error", err)
			continue
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs
}
