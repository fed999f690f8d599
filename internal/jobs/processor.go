// Package jobs runs AI jobs in the background: it claims a PENDING job,
// executes it under a deadline, records the outcome and schedules retries.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/internal/cache"
	"github.com/kiranshivaraju/scenarist/internal/config"
	"github.com/kiranshivaraju/scenarist/internal/store"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

const (
	statusTTL = 30 * time.Minute
	// timeoutWriteBudget bounds the store write issued when a deadline fires.
	timeoutWriteBudget = 10 * time.Second
)

// Processor owns the job state machine. All decisions are taken from a fresh
// read of the job, and every write is a conditional transition, so concurrent
// or repeated runs of the same job are safe.
type Processor struct {
	store    store.Store
	cache    cache.Cache
	executor Executor
	timeout  time.Duration
	backoff  Backoff

	dispatcher *Dispatcher
	scheduler  *Scheduler
	retry      RetryScheduler
}

// Option configures a Processor.
type Option func(*Processor)

// WithRetryScheduler replaces the timer-based retry scheduler.
func WithRetryScheduler(rs RetryScheduler) Option {
	return func(p *Processor) { p.retry = rs }
}

// WithErrorSink routes detached run errors somewhere other than the log.
func WithErrorSink(sink ErrorSink) Option {
	return func(p *Processor) { p.dispatcher.sink = sink }
}

// NewProcessor wires a processor with its own dispatcher and scheduler.
// ca may be nil, in which case no status mirror is kept.
func NewProcessor(st store.Store, ca cache.Cache, exec Executor, cfg config.JobsConfig, opts ...Option) *Processor {
	p := &Processor{
		store:    st,
		cache:    ca,
		executor: exec,
		timeout:  cfg.Timeout,
		backoff:  Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
	}
	p.dispatcher = NewDispatcher(p.Process, nil)
	p.scheduler = NewScheduler(func(id uuid.UUID) { p.dispatcher.Dispatch(id) })
	p.retry = p.scheduler

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dispatch starts processing jobID in the background.
func (p *Processor) Dispatch(jobID uuid.UUID) {
	p.dispatcher.Dispatch(jobID)
}

// PendingRetries returns the number of armed retry timers.
func (p *Processor) PendingRetries() int {
	return p.scheduler.Pending()
}

// Shutdown disarms retry timers and waits for in-flight runs.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.scheduler.Stop()
	return p.dispatcher.Shutdown(ctx)
}

// Process runs one attempt of jobID. Job failures are recorded on the job and
// do not produce an error; the returned error reports infrastructure faults
// such as an unreachable store.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut, timeoutRecorded atomic.Bool
	deadline := time.AfterFunc(p.timeout, func() {
		timedOut.Store(true)
		// Record the timeout before unwinding the run so a result racing
		// the deadline finds the job already FAILED.
		wctx, wcancel := context.WithTimeout(context.Background(), timeoutWriteBudget)
		defer wcancel()
		if err := p.recordTimeout(wctx, jobID); err != nil {
			slog.Warn("job timeout not recorded, retrying after run unwinds", "job_id", jobID, "error", err)
		} else {
			timeoutRecorded.Store(true)
		}
		cancel()
	})
	defer deadline.Stop()

	job, err := p.store.GetJob(runCtx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("job vanished before processing", "job_id", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != models.JobStatusPending {
		slog.Debug("job not pending, skipping run", "job_id", jobID, "status", job.Status)
		return nil
	}

	job, err = p.store.TransitionJob(runCtx, jobID, models.JobStatusPending, models.JobStatusProcessing)
	if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrNotFound) {
		// Another run claimed it.
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	p.mirror(jobID, models.JobStatusProcessing)
	slog.Info("job started", "job_id", jobID, "type", job.Type, "retry_count", job.RetryCount)

	result, execErr := p.executor.Execute(runCtx, job)

	// Outcome writes must land even if the dispatcher is shutting down.
	writeCtx := context.WithoutCancel(ctx)

	if timedOut.Load() {
		// The deadline owns the outcome; a result arriving after it is dropped.
		if timeoutRecorded.Load() {
			return nil
		}
		return p.recordTimeout(writeCtx, jobID)
	}

	if execErr == nil {
		_, err := p.store.TransitionJob(writeCtx, jobID, models.JobStatusProcessing, models.JobStatusCompleted,
			store.WithResult(result))
		if errors.Is(err, store.ErrStatusConflict) {
			slog.Warn("job finished after losing the race", "job_id", jobID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		p.mirror(jobID, models.JobStatusCompleted)
		slog.Info("job completed", "job_id", jobID, "type", job.Type)
		return nil
	}

	if ctx.Err() != nil {
		return p.requeueInterrupted(writeCtx, job, execErr)
	}
	return p.handleFailure(writeCtx, job, execErr)
}

func (p *Processor) handleFailure(ctx context.Context, job *models.Job, execErr error) error {
	class := Classify(execErr)
	msg := execErr.Error()

	if class.Retryable() && job.RetryCount < job.MaxRetries {
		delay := p.backoff.Delay(job.RetryCount)
		_, err := p.store.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusPending,
			store.WithRetryCount(job.RetryCount+1), store.WithErrorMessage(msg))
		if errors.Is(err, store.ErrStatusConflict) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		p.mirror(job.ID, models.JobStatusPending)
		slog.Warn("job failed, retry scheduled",
			"job_id", job.ID,
			"class", class.String(),
			"retry_count", job.RetryCount+1,
			"max_retries", job.MaxRetries,
			"delay_ms", delay.Milliseconds(),
			"error", msg,
		)
		p.retry.Schedule(job.ID, delay)
		return nil
	}

	_, err := p.store.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed,
		store.WithErrorMessage(msg))
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	p.mirror(job.ID, models.JobStatusFailed)
	slog.Error("job failed",
		"job_id", job.ID,
		"class", class.String(),
		"retry_count", job.RetryCount,
		"error", msg,
	)
	return nil
}

// requeueInterrupted puts a job whose run was cancelled by shutdown back to
// PENDING without consuming a retry.
func (p *Processor) requeueInterrupted(ctx context.Context, job *models.Job, execErr error) error {
	_, err := p.store.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusPending,
		store.WithErrorMessage("interrupted: "+execErr.Error()))
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("requeue interrupted job: %w", err)
	}
	p.mirror(job.ID, models.JobStatusPending)
	slog.Warn("job interrupted by shutdown", "job_id", job.ID)
	return nil
}

// recordTimeout fails the job only if it is still PROCESSING. A job that
// already left PROCESSING is not an error.
func (p *Processor) recordTimeout(ctx context.Context, jobID uuid.UUID) error {
	_, err := p.store.TransitionJob(ctx, jobID, models.JobStatusProcessing, models.JobStatusFailed,
		store.WithErrorMessage(ErrJobTimeout.Error()))
	switch {
	case err == nil:
		p.mirror(jobID, models.JobStatusFailed)
		slog.Error("job timed out", "job_id", jobID, "timeout", p.timeout.String())
		return nil
	case errors.Is(err, store.ErrStatusConflict), errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("record job timeout: %w", err)
	}
}

// ResumePending re-dispatches PENDING jobs untouched for olderThan and fails
// PROCESSING jobs older than the job timeout, whose deadline timers died with
// the previous process. It returns the number of jobs resumed.
func (p *Processor) ResumePending(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()

	stuck, err := p.store.ListStaleJobs(ctx, models.JobStatusProcessing, now.Add(-p.timeout))
	if err != nil {
		return 0, fmt.Errorf("list stale processing jobs: %w", err)
	}
	for _, j := range stuck {
		_, err := p.store.TransitionJob(ctx, j.ID, models.JobStatusProcessing, models.JobStatusFailed,
			store.WithErrorMessage(ErrJobTimeout.Error()))
		if errors.Is(err, store.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("fail stale job %s: %w", j.ID, err)
		}
		p.mirror(j.ID, models.JobStatusFailed)
	}

	pending, err := p.store.ListStaleJobs(ctx, models.JobStatusPending, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list stale pending jobs: %w", err)
	}
	for _, j := range pending {
		p.dispatcher.Dispatch(j.ID)
	}

	slog.Info("resumed orphaned jobs", "pending", len(pending), "timed_out", len(stuck))
	return len(pending), nil
}

func (p *Processor) mirror(jobID uuid.UUID, status models.JobStatus) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetJobStatus(context.Background(), jobID, status, statusTTL); err != nil {
		slog.Warn("job status mirror failed", "job_id", jobID, "status", status, "error", err)
	}
}
