package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/kiranshivaraju/scenarist/pkg/models"
)

// MockProvider satisfies models.CompletionProvider for testing and for running
// the server without network access (AI_PROVIDER=mock).
type MockProvider struct {
	Name_        string
	CompleteFunc func(ctx context.Context, req models.CompletionRequest) (string, error)
	StreamFunc   func(ctx context.Context, req models.CompletionRequest, onChunk func(string) error) error

	mu    sync.Mutex
	calls []models.CompletionRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	m.record(req)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "", nil
}

func (m *MockProvider) Stream(ctx context.Context, req models.CompletionRequest, onChunk func(string) error) error {
	m.record(req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req, onChunk)
	}
	return nil
}

func (m *MockProvider) record(req models.CompletionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
}

// Calls returns every request received so far, in order.
func (m *MockProvider) Calls() []models.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// NewMockProvider returns a MockProvider with canned markdown responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		CompleteFunc: func(_ context.Context, req models.CompletionRequest) (string, error) {
			return "# Mock response\n\nGenerated by the mock provider for model " + req.Model + ".", nil
		},
		StreamFunc: func(_ context.Context, _ models.CompletionRequest, onChunk func(string) error) error {
			for _, word := range strings.SplitAfter("This is a mock streamed reply.", " ") {
				if err := onChunk(word); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// NewScriptedProvider returns a MockProvider whose Complete answers with
// responses in order. Once exhausted it keeps returning the last one.
func NewScriptedProvider(responses ...string) *MockProvider {
	var (
		mu sync.Mutex
		i  int
	)
	return &MockProvider{
		Name_: "mock-scripted",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(responses) == 0 {
				return "", nil
			}
			r := responses[min(i, len(responses)-1)]
			i++
			return r, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (string, error) {
			return "", err
		},
		StreamFunc: func(_ context.Context, _ models.CompletionRequest, _ func(string) error) error {
			return err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		CompleteFunc: func(ctx context.Context, _ models.CompletionRequest) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
		StreamFunc: func(ctx context.Context, _ models.CompletionRequest, _ func(string) error) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
}

// Compile-time check that MockProvider implements CompletionProvider.
var _ models.CompletionProvider = (*MockProvider)(nil)
