// Package client talks to the scenarist HTTP API and keeps placeholder items
// in sync with the jobs producing their content.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

// Sentinel errors for API client failures.
var (
	ErrUnreachable = errors.New("scenarist server unreachable")
	ErrTimeout     = errors.New("scenarist request timeout")
	ErrNotFound    = errors.New("not found")
)

// APIError is a non-2xx reply carrying the server's error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("scenarist api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("scenarist api: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

var tabPaths = map[models.Tab]string{
	models.TabStyle:    "styles",
	models.TabSources:  "sources",
	models.TabScenario: "scenarios",
}

// Client is a thin typed wrapper over /api/v1.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitJobRequest is the body of POST /api/v1/jobs. A nil MaxRetries takes
// the server default.
type SubmitJobRequest struct {
	Type       models.JobType  `json:"type"`
	Input      json.RawMessage `json:"input"`
	MaxRetries *int            `json:"maxRetries,omitempty"`
}

// SubmittedJob is the acknowledgement of a submission.
type SubmittedJob struct {
	JobID     uuid.UUID        `json:"jobId"`
	Status    models.JobStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (*SubmittedJob, error) {
	var out SubmittedJob
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var out models.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs returns jobs in status, or every job when status is empty.
func (c *Client) ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	path := "/api/v1/jobs"
	if status != "" {
		path += "?" + url.Values{"status": {string(status)}}.Encode()
	}
	var out []*models.Job
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListItems(ctx context.Context, tab models.Tab) ([]*models.Item, error) {
	path, err := itemsPath(tab)
	if err != nil {
		return nil, err
	}
	var out []*models.Item
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateItem(ctx context.Context, tab models.Tab, item *models.Item) (*models.Item, error) {
	path, err := itemsPath(tab)
	if err != nil {
		return nil, err
	}
	var out models.Item
	if err := c.do(ctx, http.MethodPost, path, item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ItemPatch names the fields of an item to overwrite. Nil fields keep their
// stored values.
type ItemPatch struct {
	ID       string  `json:"id"`
	Name     *string `json:"name,omitempty"`
	Content  *string `json:"content,omitempty"`
	Selected *bool   `json:"selected,omitempty"`
	Loading  *bool   `json:"loading,omitempty"`
}

func (c *Client) UpdateItem(ctx context.Context, tab models.Tab, patch ItemPatch) (*models.Item, error) {
	path, err := itemsPath(tab)
	if err != nil {
		return nil, err
	}
	var out models.Item
	if err := c.do(ctx, http.MethodPut, path, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func itemsPath(tab models.Tab) (string, error) {
	p, ok := tabPaths[tab]
	if !ok {
		return "", fmt.Errorf("unknown tab %q", tab)
	}
	return "/api/v1/" + p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req, body != nil)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	// A body that is not an envelope still yields a status-only APIError.
	_ = json.NewDecoder(resp.Body).Decode(&envelope)

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	}
	return apiErr
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
