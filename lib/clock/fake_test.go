// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowStandsStill(t *testing.T) {
	fake := Fake(epoch)
	if !fake.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", fake.Now(), epoch)
	}
	fake.Advance(90 * time.Second)
	if want := epoch.Add(90 * time.Second); !fake.Now().Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", fake.Now(), want)
	}
}

func TestFakeAfterFiresOnDeadline(t *testing.T) {
	fake := Fake(epoch)
	channel := fake.After(time.Second)

	fake.Advance(999 * time.Millisecond)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}
	if fake.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", fake.PendingCount())
	}

	fake.Advance(time.Millisecond)
	select {
	case fired := <-channel:
		if want := epoch.Add(time.Second); !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after firing, want 0", fake.PendingCount())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := Fake(epoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) was not ready immediately")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("After(0) registered a waiter")
	}
}

func TestFakeSleepWithWaitForTimers(t *testing.T) {
	fake := Fake(epoch)
	done := make(chan struct{})
	go func() {
		fake.Sleep(5 * time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}
