// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time operations the bot waits on so that
// rate limiting, token expiry, and timeouts can be tested without real
// sleeps.
//
// Production code receives Real(). Tests construct Fake(epoch), start
// the code under test, call WaitForTimers to synchronize with the
// goroutine that registers a wait, then Advance to release it:
//
//	fake := clock.Fake(time.Unix(0, 0))
//	go worker(fake)
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second)
package clock
