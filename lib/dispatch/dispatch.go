// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch runs fire-and-forget side effects on a single
// background worker behind a token bucket.
//
// Producers call Submit, which never blocks: tasks are appended to an
// unbounded FIFO queue. One consumer goroutine (Run) takes a token from
// the bucket, dequeues the next task, and runs it to completion before
// taking the next token. Tasks therefore start in submission order and
// never overlap, and the start rate never exceeds the configured quota
// beyond the bucket's burst.
//
// A task's error is logged and discarded. A task's panic is recovered,
// logged, and the worker moves on to the next task.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/waasabi/waasabi-matrix/lib/clock"
)

// DefaultRatePerMinute is the quota used when Config.RatePerMinute is zero.
const DefaultRatePerMinute = 60

// Task is a unit of fire-and-forget work. The context is the one passed
// to Run; it is cancelled when the dispatcher is shutting down.
type Task func(ctx context.Context) error

// Config holds the parameters for New.
type Config struct {
	// RatePerMinute is the steady-state number of task starts per minute.
	RatePerMinute int

	// Burst is the token bucket capacity. Zero means RatePerMinute, so an
	// idle dispatcher can absorb a full minute's quota at once.
	Burst int

	// Clock drives token waits. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives task failures. Nil means slog.Default().
	Logger *slog.Logger
}

// Dispatcher is a rate-limited single-consumer task queue. Submit is safe
// from any goroutine.
type Dispatcher struct {
	limiter *rate.Limiter
	clock   clock.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	queue   []namedTask
	closed  bool
	pending chan struct{}

	running atomic.Bool
	done    chan struct{}
}

type namedTask struct {
	name string
	run  Task
}

// New creates a Dispatcher. Call Run to start the consumer.
func New(config Config) (*Dispatcher, error) {
	if config.RatePerMinute < 0 || config.Burst < 0 {
		return nil, fmt.Errorf("dispatch: rate and burst must not be negative (rate=%d, burst=%d)", config.RatePerMinute, config.Burst)
	}
	perMinute := config.RatePerMinute
	if perMinute == 0 {
		perMinute = DefaultRatePerMinute
	}
	burst := config.Burst
	if burst == 0 {
		burst = perMinute
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dispatcher := &Dispatcher{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
		clock:   clk,
		logger:  logger,
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	return dispatcher, nil
}

// Submit enqueues a task and returns immediately. The name appears in
// failure logs. After Close, or once Run has returned, the task is
// dropped with a warning.
func (d *Dispatcher) Submit(name string, task Task) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping task", "task", name)
		return
	}
	d.queue = append(d.queue, namedTask{name: name, run: task})
	d.mu.Unlock()

	select {
	case d.pending <- struct{}{}:
	default:
	}
}

// Len returns the number of tasks waiting to start.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting tasks. Run keeps draining what is already queued
// and returns once the queue is empty. Idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	select {
	case d.pending <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Run is the consumer loop. It returns nil after Close once the queue is
// drained, or ctx.Err() when ctx is cancelled (tasks still queued are
// dropped). Run may only be called once.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("dispatch: Run called twice")
	}
	defer close(d.done)
	defer func() {
		d.mu.Lock()
		d.closed = true
		dropped := len(d.queue)
		d.queue = nil
		d.mu.Unlock()
		if dropped > 0 {
			d.logger.Warn("dispatcher stopped with tasks queued", "dropped", dropped)
		}
	}()

	for {
		if err := d.waitForToken(ctx); err != nil {
			return err
		}
		task, ok, err := d.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		d.execute(ctx, task)
	}
}

// waitForToken blocks until the bucket yields one token.
func (d *Dispatcher) waitForToken(ctx context.Context) error {
	now := d.clock.Now()
	reservation := d.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return errors.New("dispatch: token bucket cannot grant a single token")
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	select {
	case <-d.clock.After(delay):
		return nil
	case <-ctx.Done():
		reservation.CancelAt(d.clock.Now())
		return ctx.Err()
	}
}

// next dequeues the oldest task, waiting for one to arrive. ok is false
// once the dispatcher is closed and the queue is empty.
func (d *Dispatcher) next(ctx context.Context) (task namedTask, ok bool, err error) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			task = d.queue[0]
			d.queue[0] = namedTask{}
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return task, true, nil
		}
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return namedTask{}, false, nil
		}

		select {
		case <-d.pending:
		case <-ctx.Done():
			return namedTask{}, false, ctx.Err()
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, task namedTask) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("dispatched task panicked", "task", task.name, "panic", recovered)
		}
	}()
	if err := task.run(ctx); err != nil {
		d.logger.Warn("dispatched task failed", "task", task.name, "error", err)
	}
}
