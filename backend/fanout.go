// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
)

// Fanout posts every event to each sink in order. One sink failing does
// not stop delivery to the others; the errors are joined.
type Fanout []Sink

var _ Sink = Fanout(nil)

// Post implements Sink.
func (f Fanout) Post(ctx context.Context, kind string, payload any) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Post(ctx, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
