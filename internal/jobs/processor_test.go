package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/internal/jobs"
	"github.com/kiranshivaraju/scenarist/internal/store"
	"github.com/kiranshivaraju/scenarist/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusCache records the status mirror; the other Cache methods are unused here.
type statusCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]models.JobStatus
}

func newStatusCache() *statusCache {
	return &statusCache{statuses: make(map[uuid.UUID]models.JobStatus)}
}

func (c *statusCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *statusCache) Get(_ context.Context, _ string) ([]byte, bool, error)          { return nil, false, nil }
func (c *statusCache) Delete(_ context.Context, _ string) error                       { return nil }
func (c *statusCache) Ping(_ context.Context) error                                   { return nil }
func (c *statusCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

func (c *statusCache) SetJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = status
	return nil
}

func (c *statusCache) GetJobStatus(_ context.Context, id uuid.UUID) (models.JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[id]
	return s, ok, nil
}

const videoInput = `{"url":"https://youtu.be/abc","mode":"style"}`

func TestProcess_SuccessWalksPendingProcessingCompleted(t *testing.T) {
	st := newMemStore()
	ca := newStatusCache()
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		return contentResult("分析結果"), nil
	}}
	p := jobs.NewProcessor(st, ca, exec, testJobsConfig())
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)

	require.NoError(t, p.Process(context.Background(), job.ID))

	assert.Equal(t, []models.JobStatus{
		models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted,
	}, st.statusHistory(job.ID))

	got := mustGetJob(t, st, job.ID)
	assert.Equal(t, "分析結果", got.ResultText())
	assert.Nil(t, got.Error)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	mirrored, ok, _ := ca.GetJobStatus(context.Background(), job.ID)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, mirrored)
}

func TestProcess_RetryableFailureSchedulesRetry(t *testing.T) {
	st := newMemStore()
	rs := &recordingScheduler{}
	attempt := 0
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		attempt++
		if attempt == 1 {
			return nil, fmt.Errorf("analyze video: %w", &models.ProviderError{StatusCode: 503, Message: "overloaded"})
		}
		return contentResult("ok"), nil
	}}
	p := jobs.NewProcessor(st, nil, exec, testJobsConfig(), jobs.WithRetryScheduler(rs))
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)

	require.NoError(t, p.Process(context.Background(), job.ID))

	requeued := mustGetJob(t, st, job.ID)
	assert.Equal(t, models.JobStatusPending, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)
	require.NotNil(t, requeued.Error)
	assert.Contains(t, *requeued.Error, "overloaded")

	calls := rs.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, job.ID, calls[0].jobID)
	assert.Equal(t, time.Second, calls[0].delay)

	// The scheduled retry runs the job again.
	require.NoError(t, p.Process(context.Background(), job.ID))

	done := mustGetJob(t, st, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, done.RetryCount)
	assert.Nil(t, done.Error)
	assert.Equal(t, "ok", done.ResultText())
}

func TestProcess_BackoffGrowsWithRetryCount(t *testing.T) {
	st := newMemStore()
	rs := &recordingScheduler{}
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		return nil, fmt.Errorf("%w: connection refused", models.ErrProviderNetwork)
	}}
	p := jobs.NewProcessor(st, nil, exec, testJobsConfig(), jobs.WithRetryScheduler(rs))
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)

	for i := 0; i < 4; i++ {
		require.NoError(t, p.Process(context.Background(), job.ID))
	}

	calls := rs.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, time.Second, calls[0].delay)
	assert.Equal(t, 2*time.Second, calls[1].delay)
	assert.Equal(t, 4*time.Second, calls[2].delay)

	got := mustGetJob(t, st, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
}

func TestProcess_RetriesExhaustedWithRealScheduler(t *testing.T) {
	st := newMemStore()
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		return nil, &models.ProviderError{StatusCode: 502, Message: "bad gateway"}
	}}
	cfg := testJobsConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	p := jobs.NewProcessor(st, nil, exec, cfg)
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)

	p.Dispatch(job.ID)

	require.Eventually(t, func() bool {
		return mustGetJob(t, st, job.ID).Status == models.JobStatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	got := mustGetJob(t, st, job.ID)
	assert.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "bad gateway")
	assert.Equal(t, 4, exec.Calls())
	assert.Equal(t, 0, p.PendingRetries())

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestProcess_ZeroMaxRetriesFailsImmediately(t *testing.T) {
	st := newMemStore()
	rs := &recordingScheduler{}
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		return nil, &models.ProviderError{StatusCode: 500}
	}}
	p := jobs.NewProcessor(st, nil, exec, testJobsConfig(), jobs.WithRetryScheduler(rs))
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 0)

	require.NoError(t, p.Process(context.Background(), job.ID))

	assert.Equal(t, models.JobStatusFailed, mustGetJob(t, st, job.ID).Status)
	assert.Empty(t, rs.Calls())
}

func TestProcess_NonRetryableFailsWithoutRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", fmt.Errorf("%w: url is required", models.ErrInvalidInput)},
		{"client error", &models.ProviderError{StatusCode: 401, Message: "no auth"}},
		{"unknown", errors.New("model refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			rs := &recordingScheduler{}
			exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
				return nil, tt.err
			}}
			p := jobs.NewProcessor(st, nil, exec, testJobsConfig(), jobs.WithRetryScheduler(rs))
			job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)

			require.NoError(t, p.Process(context.Background(), job.ID))

			got := mustGetJob(t, st, job.ID)
			assert.Equal(t, models.JobStatusFailed, got.Status)
			assert.Equal(t, 0, got.RetryCount)
			require.NotNil(t, got.Error)
			assert.Equal(t, tt.err.Error(), *got.Error)
			assert.Empty(t, rs.Calls())
			assert.Equal(t, 1, exec.Calls())
		})
	}
}

func TestProcess_TimeoutFailsJob(t *testing.T) {
	st := newMemStore()
	rs := &recordingScheduler{}
	exec := &funcExecutor{fn: func(ctx context.Context, _ *models.Job) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cfg := testJobsConfig()
	cfg.Timeout = 30 * time.Millisecond
	p := jobs.NewProcessor(st, nil, exec, cfg, jobs.WithRetryScheduler(rs))
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)

	require.NoError(t, p.Process(context.Background(), job.ID))

	got := mustGetJob(t, st, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "Job timeout", *got.Error)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, rs.Calls())
}

func TestProcess_LateResultDoesNotOverwriteTimeout(t *testing.T) {
	st := newMemStore()
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		time.Sleep(80 * time.Millisecond)
		return contentResult("too late"), nil
	}}
	cfg := testJobsConfig()
	cfg.Timeout = 20 * time.Millisecond
	p := jobs.NewProcessor(st, nil, exec, cfg)
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)

	require.NoError(t, p.Process(context.Background(), job.ID))

	got := mustGetJob(t, st, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "Job timeout", *got.Error)
	assert.Empty(t, got.Result)
}

func TestProcess_CompletionBeforeDeadlineStaysCompleted(t *testing.T) {
	st := newMemStore()
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		return contentResult("fast"), nil
	}}
	cfg := testJobsConfig()
	cfg.Timeout = 40 * time.Millisecond
	p := jobs.NewProcessor(st, nil, exec, cfg)
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)

	require.NoError(t, p.Process(context.Background(), job.ID))
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, models.JobStatusCompleted, mustGetJob(t, st, job.ID).Status)
}

func TestProcess_SkipsJobThatIsNotPending(t *testing.T) {
	st := newMemStore()
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		return contentResult("x"), nil
	}}
	p := jobs.NewProcessor(st, nil, exec, testJobsConfig())
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)
	_, err := st.TransitionJob(context.Background(), job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), job.ID))

	assert.Equal(t, 0, exec.Calls())
	assert.Equal(t, models.JobStatusProcessing, mustGetJob(t, st, job.ID).Status)
}

func TestProcess_MissingJob(t *testing.T) {
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		return nil, nil
	}}
	p := jobs.NewProcessor(newMemStore(), nil, exec, testJobsConfig())

	assert.NoError(t, p.Process(context.Background(), uuid.New()))
	assert.Equal(t, 0, exec.Calls())
}

func TestProcess_ConcurrentRunsExecuteOnce(t *testing.T) {
	st := newMemStore()
	release := make(chan struct{})
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		<-release
		return contentResult("once"), nil
	}}
	p := jobs.NewProcessor(st, nil, exec, testJobsConfig())
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Process(context.Background(), job.ID))
		}()
	}
	require.Eventually(t, func() bool { return exec.Calls() >= 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, exec.Calls())
	assert.Equal(t, models.JobStatusCompleted, mustGetJob(t, st, job.ID).Status)
}

func TestProcess_ShutdownInterruptionRequeuesWithoutRetry(t *testing.T) {
	st := newMemStore()
	rs := &recordingScheduler{}
	started := make(chan struct{})
	exec := &funcExecutor{fn: func(ctx context.Context, _ *models.Job) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := jobs.NewProcessor(st, nil, exec, testJobsConfig(), jobs.WithRetryScheduler(rs))
	job := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Process(ctx, job.ID) }()
	<-started
	cancel()
	require.NoError(t, <-errc)

	got := mustGetJob(t, st, job.ID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "interrupted")
	assert.Empty(t, rs.Calls())
}

func TestProcessor_ErrorSinkReceivesInfrastructureFaults(t *testing.T) {
	st := &failingGetStore{memStore: newMemStore(), err: errors.New("connection refused")}
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) { return nil, nil }}

	got := make(chan error, 1)
	p := jobs.NewProcessor(st, nil, exec, testJobsConfig(),
		jobs.WithErrorSink(func(_ uuid.UUID, err error) { got <- err }))

	p.Dispatch(uuid.New())
	select {
	case err := <-got:
		assert.ErrorContains(t, err, "connection refused")
	case <-time.After(time.Second):
		t.Fatal("sink not called")
	}
	require.NoError(t, p.Shutdown(context.Background()))
}

type failingGetStore struct {
	*memStore
	err error
}

func (f *failingGetStore) GetJob(_ context.Context, _ uuid.UUID) (*models.Job, error) {
	return nil, f.err
}

func TestResumePending(t *testing.T) {
	st := newMemStore()
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		return contentResult("resumed"), nil
	}}
	p := jobs.NewProcessor(st, nil, exec, testJobsConfig())

	stalePending := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)
	freshPending := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)
	stuck := seedJob(t, st, models.JobTypeAnalyzeVideo, videoInput, 3)
	_, err := st.TransitionJob(context.Background(), stuck.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)

	st.mu.Lock()
	st.jobs[stalePending.ID].UpdatedAt = time.Now().Add(-10 * time.Minute)
	st.jobs[stuck.ID].UpdatedAt = time.Now().Add(-10 * time.Minute)
	st.mu.Unlock()

	n, err := p.ResumePending(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stuckNow := mustGetJob(t, st, stuck.ID)
	assert.Equal(t, models.JobStatusFailed, stuckNow.Status)
	require.NotNil(t, stuckNow.Error)
	assert.Equal(t, "Job timeout", *stuckNow.Error)

	require.Eventually(t, func() bool {
		return mustGetJob(t, st, stalePending.ID).Status == models.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, models.JobStatusPending, mustGetJob(t, st, freshPending.ID).Status)
}

// hookStore calls before ahead of every transition; a non-nil return fails it.
type hookStore struct {
	*memStore
	before func(id uuid.UUID, from, to models.JobStatus) error
}

func (h *hookStore) TransitionJob(ctx context.Context, id uuid.UUID, from, to models.JobStatus, opts ...store.JobUpdateOption) (*models.Job, error) {
	if err := h.before(id, from, to); err != nil {
		return nil, err
	}
	return h.memStore.TransitionJob(ctx, id, from, to, opts...)
}

// force moves a job behind the processor's back, as a concurrent writer would.
func (m *memStore) force(id uuid.UUID, status models.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = status
}

func blockUntilDone(ctx context.Context, _ *models.Job) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProcess_TimeoutWriteFailureIsRetriedAfterRun(t *testing.T) {
	mem := newMemStore()
	var attempts atomic.Int32
	st := &hookStore{memStore: mem, before: func(_ uuid.UUID, _, to models.JobStatus) error {
		if to == models.JobStatusFailed && attempts.Add(1) == 1 {
			return errors.New("connection reset by peer")
		}
		return nil
	}}
	cfg := testJobsConfig()
	cfg.Timeout = 20 * time.Millisecond
	p := jobs.NewProcessor(st, nil, &funcExecutor{fn: blockUntilDone}, cfg)
	job := seedJob(t, mem, models.JobTypeAnalyzeVideo, videoInput, 3)

	require.NoError(t, p.Process(context.Background(), job.ID))

	got := mustGetJob(t, mem, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "Job timeout", *got.Error)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestProcess_TimeoutWriteOutageReachesSink(t *testing.T) {
	mem := newMemStore()
	st := &hookStore{memStore: mem, before: func(_ uuid.UUID, _, to models.JobStatus) error {
		if to == models.JobStatusFailed {
			return errors.New("connection refused")
		}
		return nil
	}}
	cfg := testJobsConfig()
	cfg.Timeout = 20 * time.Millisecond

	got := make(chan error, 1)
	p := jobs.NewProcessor(st, nil, &funcExecutor{fn: blockUntilDone}, cfg,
		jobs.WithErrorSink(func(_ uuid.UUID, err error) { got <- err }))
	job := seedJob(t, mem, models.JobTypeAnalyzeVideo, videoInput, 3)

	p.Dispatch(job.ID)
	select {
	case err := <-got:
		assert.ErrorContains(t, err, "record job timeout")
		assert.ErrorContains(t, err, "connection refused")
	case <-time.After(time.Second):
		t.Fatal("sink not called")
	}
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestProcess_LateSuccessAfterFailedTimeoutWriteStillFails(t *testing.T) {
	mem := newMemStore()
	var attempts atomic.Int32
	st := &hookStore{memStore: mem, before: func(_ uuid.UUID, _, to models.JobStatus) error {
		if to == models.JobStatusFailed && attempts.Add(1) == 1 {
			return errors.New("connection reset by peer")
		}
		return nil
	}}
	exec := &funcExecutor{fn: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
		time.Sleep(60 * time.Millisecond)
		return contentResult("too late"), nil
	}}
	cfg := testJobsConfig()
	cfg.Timeout = 20 * time.Millisecond
	p := jobs.NewProcessor(st, nil, exec, cfg)
	job := seedJob(t, mem, models.JobTypeAnalyzeVideo, videoInput, 3)

	require.NoError(t, p.Process(context.Background(), job.ID))

	got := mustGetJob(t, mem, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Empty(t, got.Result)
}

func TestRequeueInterrupted_NoMirrorAfterConflict(t *testing.T) {
	mem := newMemStore()
	st := &hookStore{memStore: mem, before: func(id uuid.UUID, from, to models.JobStatus) error {
		if from == models.JobStatusProcessing && to == models.JobStatusPending {
			mem.force(id, models.JobStatusFailed)
		}
		return nil
	}}
	ca := newStatusCache()
	started := make(chan struct{})
	exec := &funcExecutor{fn: func(ctx context.Context, _ *models.Job) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := jobs.NewProcessor(st, ca, exec, testJobsConfig())
	job := seedJob(t, mem, models.JobTypeAnalyzeVideo, videoInput, 3)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Process(ctx, job.ID) }()
	<-started
	cancel()
	require.NoError(t, <-errc)

	assert.Equal(t, models.JobStatusFailed, mustGetJob(t, mem, job.ID).Status)
	mirrored, ok, _ := ca.GetJobStatus(context.Background(), job.ID)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusProcessing, mirrored)
}

func TestResumePending_NoMirrorAfterConflict(t *testing.T) {
	mem := newMemStore()
	st := &hookStore{memStore: mem, before: func(id uuid.UUID, from, to models.JobStatus) error {
		if from == models.JobStatusProcessing && to == models.JobStatusFailed {
			mem.force(id, models.JobStatusCompleted)
		}
		return nil
	}}
	ca := newStatusCache()
	p := jobs.NewProcessor(st, ca, &funcExecutor{fn: blockUntilDone}, testJobsConfig())

	stuck := seedJob(t, mem, models.JobTypeAnalyzeVideo, videoInput, 3)
	mem.mu.Lock()
	mem.jobs[stuck.ID].Status = models.JobStatusProcessing
	mem.jobs[stuck.ID].UpdatedAt = time.Now().Add(-10 * time.Minute)
	mem.mu.Unlock()

	_, err := p.ResumePending(context.Background(), time.Minute)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, mustGetJob(t, mem, stuck.ID).Status)
	_, ok, _ := ca.GetJobStatus(context.Background(), stuck.ID)
	assert.False(t, ok)
	require.NoError(t, p.Shutdown(context.Background()))
}
