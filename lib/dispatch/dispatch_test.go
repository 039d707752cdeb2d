// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/waasabi/waasabi-matrix/lib/clock"
	"github.com/waasabi/waasabi-matrix/lib/testutil"
)

var epoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, perMinute, burst int, clk clock.Clock) *Dispatcher {
	t.Helper()
	dispatcher, err := New(Config{
		RatePerMinute: perMinute,
		Burst:         burst,
		Clock:         clk,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return dispatcher
}

// startDispatcher runs the dispatcher until the test ends.
func startDispatcher(t *testing.T, dispatcher *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-dispatcher.Done()
	})
}

func TestTasksRunInSubmissionOrder(t *testing.T) {
	dispatcher := newTestDispatcher(t, 6000, 100, clock.Fake(epoch))
	order := make(chan int, 20)
	for index := range 20 {
		dispatcher.Submit("record", func(context.Context) error {
			order <- index
			return nil
		})
	}
	startDispatcher(t, dispatcher)

	for want := range 20 {
		if got := testutil.RequireReceive(t, order, 5*time.Second, "task %d", want); got != want {
			t.Fatalf("task %d ran at position %d", got, want)
		}
	}
}

func TestConcurrentProducersShareOneOrder(t *testing.T) {
	const producers, perProducer = 8, 50
	dispatcher := newTestDispatcher(t, 600000, producers*perProducer, clock.Fake(epoch))
	startDispatcher(t, dispatcher)

	// Submission order is recorded under the same lock as Submit, so it
	// is exactly the order the queue received.
	var submitMu sync.Mutex
	var submitted []string
	var executed []string
	finished := make(chan struct{}, producers*perProducer)

	var producing sync.WaitGroup
	for producer := range producers {
		producing.Add(1)
		go func() {
			defer producing.Done()
			for sequence := range perProducer {
				tag := fmt.Sprintf("%d/%d", producer, sequence)
				submitMu.Lock()
				submitted = append(submitted, tag)
				dispatcher.Submit("record", func(context.Context) error {
					executed = append(executed, tag)
					finished <- struct{}{}
					return nil
				})
				submitMu.Unlock()
			}
		}()
	}
	producing.Wait()

	for index := range producers * perProducer {
		testutil.RequireReceive(t, finished, 5*time.Second, "task %d", index)
	}
	submitMu.Lock()
	defer submitMu.Unlock()
	if !slices.Equal(executed, submitted) {
		t.Fatalf("execution order differs from submission order:\nsubmitted %v\nexecuted  %v", submitted, executed)
	}
}

func TestTokenBucketSpacesStarts(t *testing.T) {
	fake := clock.Fake(epoch)
	dispatcher := newTestDispatcher(t, 60, 1, fake)
	started := make(chan time.Time, 3)
	for range 3 {
		dispatcher.Submit("stamp", func(context.Context) error {
			started <- fake.Now()
			return nil
		})
	}
	startDispatcher(t, dispatcher)

	first := testutil.RequireReceive(t, started, 5*time.Second, "first task")
	if !first.Equal(epoch) {
		t.Errorf("first task started at %v, want %v", first, epoch)
	}

	for step := 1; step <= 2; step++ {
		fake.WaitForTimers(1)
		testutil.RequireNoReceive(t, started, 20*time.Millisecond, "task %d before its token", step)
		fake.Advance(time.Second)
		got := testutil.RequireReceive(t, started, 5*time.Second, "task %d", step)
		if want := epoch.Add(time.Duration(step) * time.Second); !got.Equal(want) {
			t.Errorf("task %d started at %v, want %v", step, got, want)
		}
	}
}

func TestRateNeverExceedsQuotaPlusBurst(t *testing.T) {
	const quota = 60
	fake := clock.Fake(epoch)
	dispatcher := newTestDispatcher(t, quota, 0, fake)

	var executed atomic.Int64
	for range 10 * quota {
		dispatcher.Submit("count", func(context.Context) error {
			executed.Add(1)
			return nil
		})
	}
	startDispatcher(t, dispatcher)

	// The full bucket drains first, then the worker waits for a refill.
	// The first minute therefore admits burst plus refill; the Q per
	// minute bound holds for every minute after the initial burst.
	fake.WaitForTimers(1)
	if got := executed.Load(); got != quota {
		t.Fatalf("executed %d tasks from a full bucket, want %d", got, quota)
	}

	for second := 1; second <= 60; second++ {
		fake.Advance(time.Second)
		fake.WaitForTimers(1)
	}
	if got := executed.Load(); got != 2*quota {
		t.Errorf("executed %d tasks after one minute, want %d", got, 2*quota)
	}

	for second := 1; second <= 60; second++ {
		fake.Advance(time.Second)
		fake.WaitForTimers(1)
	}
	if got := executed.Load(); got != 3*quota {
		t.Errorf("executed %d tasks after two minutes, want %d", got, 3*quota)
	}
	if got := dispatcher.Len(); got != 10*quota-3*quota {
		t.Errorf("Len() = %d, want %d", got, 7*quota)
	}
}

func TestFailuresAndPanicsAreContained(t *testing.T) {
	dispatcher := newTestDispatcher(t, 6000, 10, clock.Fake(epoch))
	survived := make(chan string, 1)

	dispatcher.Submit("panics", func(context.Context) error { panic("boom") })
	dispatcher.Submit("fails", func(context.Context) error { return errors.New("backend down") })
	dispatcher.Submit("succeeds", func(context.Context) error {
		survived <- "ok"
		return nil
	})
	startDispatcher(t, dispatcher)

	testutil.RequireReceive(t, survived, 5*time.Second, "task after panic and failure")
}

func TestCloseDrainsThenStops(t *testing.T) {
	dispatcher := newTestDispatcher(t, 6000, 10, clock.Fake(epoch))
	var executed atomic.Int64
	for range 3 {
		dispatcher.Submit("count", func(context.Context) error {
			executed.Add(1)
			return nil
		})
	}
	dispatcher.Close()
	dispatcher.Submit("late", func(context.Context) error {
		t.Error("task submitted after Close ran")
		return nil
	})

	result := make(chan error, 1)
	go func() { result <- dispatcher.Run(context.Background()) }()

	if err := testutil.RequireReceive(t, result, 5*time.Second, "Run after Close"); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if executed.Load() != 3 {
		t.Errorf("executed %d tasks, want 3", executed.Load())
	}
	testutil.RequireClosed(t, dispatcher.Done(), time.Second, "Done after Run")
}

func TestCancelStopsWaitingWorker(t *testing.T) {
	fake := clock.Fake(epoch)
	dispatcher := newTestDispatcher(t, 60, 1, fake)
	dispatcher.Submit("first", func(context.Context) error { return nil })
	dispatcher.Submit("second", func(context.Context) error {
		t.Error("task ran after cancellation")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- dispatcher.Run(ctx) }()

	fake.WaitForTimers(1)
	cancel()
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Run after cancel"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	dispatcher.Submit("after", func(context.Context) error {
		t.Error("task submitted after Run returned ran")
		return nil
	})
	if dispatcher.Len() != 0 {
		t.Errorf("Len() = %d after stop, want 0", dispatcher.Len())
	}
}

func TestRunTwice(t *testing.T) {
	dispatcher := newTestDispatcher(t, 60, 1, clock.Fake(epoch))
	dispatcher.Close()
	if err := dispatcher.Run(context.Background()); err != nil {
		t.Fatalf("first Run = %v", err)
	}
	if err := dispatcher.Run(context.Background()); err == nil {
		t.Error("second Run succeeded")
	}
}

func TestNewRejectsNegativeRate(t *testing.T) {
	if _, err := New(Config{RatePerMinute: -1}); err == nil {
		t.Error("New accepted a negative rate")
	}
}
