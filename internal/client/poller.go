package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval = 2 * time.Second
	fetchConcurrency    = 8
)

// JobInfo ties an in-flight job to the placeholder item it will fill.
type JobInfo struct {
	ItemID      string
	TargetTab   models.Tab
	LoadingItem models.Item
}

// ErrorContent renders the markdown that replaces a placeholder whose job
// failed.
func ErrorContent(msg string) string {
	return "# エラー\n\n" + msg
}

// Tracked is the set of jobs a client session considers in flight.
type Tracked struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]JobInfo
}

func NewTracked() *Tracked {
	return &Tracked{jobs: make(map[uuid.UUID]JobInfo)}
}

// Track adds jobID. It reports false, leaving the existing entry untouched,
// when jobID is already tracked.
func (t *Tracked) Track(jobID uuid.UUID, info JobInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[jobID]; ok {
		return false
	}
	t.jobs[jobID] = info
	return true
}

// Untrack removes jobID and reports whether it was present.
func (t *Tracked) Untrack(jobID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[jobID]; !ok {
		return false
	}
	delete(t.jobs, jobID)
	return true
}

func (t *Tracked) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Get returns the info recorded for jobID.
func (t *Tracked) Get(jobID uuid.UUID) (JobInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.jobs[jobID]
	return info, ok
}

func (t *Tracked) snapshot() map[uuid.UUID]JobInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uuid.UUID]JobInfo, len(t.jobs))
	for id, info := range t.jobs {
		out[id] = info
	}
	return out
}

// JobFetcher reads the current state of one job.
type JobFetcher interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// CompleteFunc receives the generated markdown of a COMPLETED job.
type CompleteFunc func(ctx context.Context, jobID uuid.UUID, info JobInfo, result string)

// ErrorFunc receives the error message of a FAILED or CANCELLED job.
type ErrorFunc func(ctx context.Context, jobID uuid.UUID, info JobInfo, message string)

// Poller checks every tracked job once per tick and resolves the ones that
// reached a terminal state. It holds no job state of its own.
type Poller struct {
	fetcher    JobFetcher
	interval   time.Duration
	onComplete CompleteFunc
	onError    ErrorFunc
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the tick interval. Non-positive values are ignored.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func NewPoller(fetcher JobFetcher, onComplete CompleteFunc, onError ErrorFunc, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:    fetcher,
		interval:   DefaultPollInterval,
		onComplete: onComplete,
		onError:    onError,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type fetchResult struct {
	id   uuid.UUID
	info JobInfo
	job  *models.Job
	err  error
}

// Tick fetches every tracked job concurrently, then applies the outcomes one
// by one. A job leaves tracked before its callback runs, so each job fires at
// most one callback even if Tick overlaps itself. If ctx ends mid-tick nothing
// is dropped and ctx's error is returned.
func (p *Poller) Tick(ctx context.Context, tracked *Tracked) error {
	jobs := tracked.snapshot()
	if len(jobs) == 0 {
		return nil
	}

	results := make([]fetchResult, 0, len(jobs))
	for id, info := range jobs {
		results = append(results, fetchResult{id: id, info: info})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := range results {
		r := &results[i]
		g.Go(func() error {
			r.job, r.err = p.fetcher.GetJob(gctx, r.id)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	for _, r := range results {
		p.apply(ctx, tracked, r)
	}
	return nil
}

func (p *Poller) apply(ctx context.Context, tracked *Tracked, r fetchResult) {
	if r.err != nil {
		if retryLater(r.err) {
			slog.Debug("job status fetch deferred", "job_id", r.id, "error", r.err)
			return
		}
		if tracked.Untrack(r.id) {
			level := slog.LevelWarn
			if errors.Is(r.err, ErrNotFound) {
				level = slog.LevelInfo
			}
			slog.Log(ctx, level, "job status fetch failed, no longer tracking", "job_id", r.id, "error", r.err)
		}
		return
	}

	switch r.job.Status {
	case models.JobStatusCompleted:
		if tracked.Untrack(r.id) && p.onComplete != nil {
			p.onComplete(ctx, r.id, r.info, r.job.ResultText())
		}
	case models.JobStatusFailed:
		msg := "unknown error"
		if r.job.Error != nil && *r.job.Error != "" {
			msg = *r.job.Error
		}
		if tracked.Untrack(r.id) && p.onError != nil {
			p.onError(ctx, r.id, r.info, msg)
		}
	case models.JobStatusCancelled:
		if tracked.Untrack(r.id) && p.onError != nil {
			p.onError(ctx, r.id, r.info, "cancelled")
		}
	}
}

// retryLater reports whether a fetch failure says nothing about the job
// itself: the server throttled the poll or had a fault of its own. The job
// stays tracked and is fetched again on the next tick.
func retryLater(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
}

// Run ticks until ctx ends or nothing is left to track. The first tick runs
// immediately.
func (p *Poller) Run(ctx context.Context, tracked *Tracked) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Tick(ctx, tracked); err != nil {
			return err
		}
		if tracked.Len() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
