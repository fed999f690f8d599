package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrorSink receives every error a detached job run returns or panics with.
type ErrorSink func(jobID uuid.UUID, err error)

// LogErrorSink is the default sink.
func LogErrorSink(jobID uuid.UUID, err error) {
	slog.Error("job run failed", "job_id", jobID, "error", err)
}

// RunFunc processes a single job.
type RunFunc func(ctx context.Context, jobID uuid.UUID) error

// shutdownGrace bounds the wait for runs to unwind once Shutdown has cancelled them.
const shutdownGrace = 5 * time.Second

// Dispatcher runs jobs on detached goroutines. Runs outlive the request that
// started them and end only on completion or Shutdown.
type Dispatcher struct {
	run  RunFunc
	sink ErrorSink

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewDispatcher(run RunFunc, sink ErrorSink) *Dispatcher {
	if sink == nil {
		sink = LogErrorSink
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{run: run, sink: sink, base: base, cancel: cancel}
}

// Dispatch starts a run for jobID without waiting for it. It reports false
// once Shutdown has begun.
func (d *Dispatcher) Dispatch(jobID uuid.UUID) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		slog.Warn("dispatch after shutdown ignored", "job_id", jobID)
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.sink(jobID, fmt.Errorf("panic: %v", r))
			}
		}()

		if err := d.run(d.base, jobID); err != nil {
			d.sink(jobID, err)
		}
	}()
	return true
}

// Shutdown stops accepting work and waits for in-flight runs. When ctx ends
// first, runs are cancelled and given a short grace period to record their state.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
	}

	d.cancel()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
	}
	return ctx.Err()
}
