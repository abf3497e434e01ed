package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"ai_consultant/logger"
	"ai_consultant/metrics"
)

var ErrDispatcherClosed = errors.New("job dispatcher is shutting down")

// Dispatcher runs report jobs in the background, detached from the request
// that queued them. At most concurrency jobs run at once and each one gets
// its own deadline.
type Dispatcher struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(concurrency int, timeout time.Duration, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
		log:     log.With("jobs"),
		metrics: m,
		base:    base,
		cancel:  cancel,
	}
}

// Go queues fn. It returns ErrDispatcherClosed once Shutdown has started.
func (d *Dispatcher) Go(name, sessionID string, fn func(ctx context.Context) error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.base, 1); err != nil {
			d.log.Warn("job dropped before start").Str("job", name).Str("session_id", sessionID).Err(err).Send()
			return
		}
		defer d.sem.Release(1)
		d.run(name, sessionID, fn)
	}()
	return nil
}

func (d *Dispatcher) run(name, sessionID string, fn func(ctx context.Context) error) {
	done := d.metrics.TrackJob()
	defer done()

	ctx := d.base
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("job panicked").Str("job", name).Str("session_id", sessionID).Interface("panic", r).Send()
		}
	}()

	if err := fn(ctx); err != nil {
		d.log.Error("job failed").
			Str("job", name).
			Str("session_id", sessionID).
			Dur("duration", time.Since(start)).
			Err(err).
			Send()
		return
	}
	d.log.Info("job finished").
		Str("job", name).
		Str("session_id", sessionID).
		Dur("duration", time.Since(start)).
		Send()
}

// Draining reports whether Shutdown has been called.
func (d *Dispatcher) Draining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Shutdown stops accepting jobs and waits for running ones. When ctx ends
// first the remaining jobs are cancelled and ctx's error is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-finished
		return fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}
}
