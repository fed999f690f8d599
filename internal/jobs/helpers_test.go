package jobs_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/internal/config"
	"github.com/kiranshivaraju/scenarist/internal/store"
	"github.com/kiranshivaraju/scenarist/pkg/models"
	"github.com/stretchr/testify/require"
)

// --- in-memory store ---

type memStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.Job
	history map[uuid.UUID][]models.JobStatus
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[uuid.UUID]*models.Job),
		history: make(map[uuid.UUID][]models.JobStatus),
	}
}

func (m *memStore) Ping(_ context.Context) error { return nil }

func (m *memStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	m.history[job.ID] = append(m.history[job.ID], job.Status)
	return nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) ListJobs(_ context.Context, status models.JobStatus) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Job{}
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListStaleJobs(_ context.Context, status models.JobStatus, cutoff time.Time) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Job{}
	for _, j := range m.jobs {
		if j.Status == status && j.UpdatedAt.Before(cutoff) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) TransitionJob(_ context.Context, id uuid.UUID, from, to models.JobStatus, opts ...store.JobUpdateOption) (*models.Job, error) {
	if !from.CanTransition(to) {
		return nil, store.ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if j.Status != from {
		return nil, store.ErrStatusConflict
	}
	store.ApplyJobUpdate(j, to, time.Now().UTC(), opts...)
	m.history[id] = append(m.history[id], to)
	cp := *j
	return &cp, nil
}

func (m *memStore) statusHistory(id uuid.UUID) []models.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.JobStatus(nil), m.history[id]...)
}

func (m *memStore) CreateItem(_ context.Context, _ *models.Item) error { return nil }
func (m *memStore) GetItem(_ context.Context, _ models.Tab, _ string) (*models.Item, error) {
	return nil, store.ErrNotFound
}
func (m *memStore) ListItems(_ context.Context, _ models.Tab) ([]*models.Item, error) {
	return []*models.Item{}, nil
}
func (m *memStore) UpdateItem(_ context.Context, _ *models.Item) error         { return nil }
func (m *memStore) DeleteItem(_ context.Context, _ models.Tab, _ string) error { return nil }
func (m *memStore) CreateChatMessage(_ context.Context, _ *models.ChatMessage) error {
	return nil
}
func (m *memStore) ListChatMessages(_ context.Context) ([]*models.ChatMessage, error) {
	return []*models.ChatMessage{}, nil
}
func (m *memStore) ClearChatMessages(_ context.Context) error { return nil }

var _ store.Store = (*memStore)(nil)

// --- executors and schedulers ---

type funcExecutor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, job *models.Job) (json.RawMessage, error)
}

func (f *funcExecutor) Execute(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, job)
}

func (f *funcExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type scheduledRetry struct {
	jobID uuid.UUID
	delay time.Duration
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []scheduledRetry
}

func (r *recordingScheduler) Schedule(jobID uuid.UUID, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, scheduledRetry{jobID: jobID, delay: delay})
}

func (r *recordingScheduler) Calls() []scheduledRetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scheduledRetry(nil), r.calls...)
}

// --- fixtures ---

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{
		Timeout:     5 * time.Second,
		MaxRetries:  3,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
	}
}

func seedJob(t *testing.T, st *memStore, typ models.JobType, input string, maxRetries int) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:         uuid.New(),
		Type:       typ,
		Status:     models.JobStatusPending,
		Input:      json.RawMessage(input),
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func mustGetJob(t *testing.T, st *memStore, id uuid.UUID) *models.Job {
	t.Helper()
	j, err := st.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func contentResult(s string) json.RawMessage {
	b, _ := json.Marshal(models.AnalysisOutput{Content: s})
	return b
}
