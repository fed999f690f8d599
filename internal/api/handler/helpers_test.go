package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/internal/cache"
	"github.com/kiranshivaraju/scenarist/internal/store"
	"github.com/kiranshivaraju/scenarist/pkg/models"
	"github.com/stretchr/testify/require"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type mockStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*models.Job
	items map[string]*models.Item
	chat  []*models.ChatMessage
	err   error

	listItemCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:  make(map[uuid.UUID]*models.Job),
		items: make(map[string]*models.Item),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return s.err }

func (s *mockStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if j, ok := s.jobs[id]; ok {
		return j, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListJobs(_ context.Context, status models.JobStatus) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Job{}
	for _, j := range s.jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *mockStore) ListStaleJobs(_ context.Context, _ models.JobStatus, _ time.Time) ([]*models.Job, error) {
	return []*models.Job{}, nil
}

func (s *mockStore) TransitionJob(_ context.Context, _ uuid.UUID, _, _ models.JobStatus, _ ...store.JobUpdateOption) (*models.Job, error) {
	return nil, errors.New("not used by handlers")
}

func (s *mockStore) CreateItem(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *mockStore) GetItem(_ context.Context, kind models.Tab, id string) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; ok && it.Kind == kind {
		cp := *it
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListItems(_ context.Context, kind models.Tab) ([]*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listItemCalls++
	out := []*models.Item{}
	for _, it := range s.items {
		if it.Kind == kind {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *mockStore) UpdateItem(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[item.ID]; !ok || it.Kind != item.Kind {
		return store.ErrNotFound
	}
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *mockStore) DeleteItem(_ context.Context, kind models.Tab, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; !ok || it.Kind != kind {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *mockStore) CreateChatMessage(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = append(s.chat, msg)
	return nil
}

func (s *mockStore) ListChatMessages(_ context.Context) ([]*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.ChatMessage{}, s.chat...), nil
}

func (s *mockStore) ClearChatMessages(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = nil
	return nil
}

var _ store.Store = (*mockStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type mockCache struct {
	mu       sync.Mutex
	values   map[string][]byte
	statuses map[uuid.UUID]models.JobStatus
}

func newMockCache() *mockCache {
	return &mockCache{values: make(map[string][]byte), statuses: make(map[uuid.UUID]models.JobStatus)}
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *mockCache) Ping(_ context.Context) error { return nil }

func (c *mockCache) SetJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = status
	return nil
}

func (c *mockCache) GetJobStatus(_ context.Context, id uuid.UUID) (models.JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[id]
	return s, ok, nil
}

func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

func (c *mockCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok
}

var _ cache.Cache = (*mockCache)(nil)

// ─── mock dispatcher ─────────────────────────────────────────────────────────

type mockDispatcher struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (d *mockDispatcher) Dispatch(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
}

func (d *mockDispatcher) dispatched() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uuid.UUID(nil), d.ids...)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error.Code
}
