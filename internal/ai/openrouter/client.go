// Package openrouter talks to OpenAI-compatible chat completion endpoints.
// OpenRouter is the primary target; Ollama's /v1 API is served by the same client.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/scenarist/pkg/models"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	maxErrorBody = 4096
)

// Config holds client configuration.
type Config struct {
	// Name is reported by Name(); defaults to "openrouter".
	Name    string
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// RequestsPerMinute throttles outbound calls. Zero disables throttling.
	RequestsPerMinute int
}

// Client implements models.CompletionProvider.
type Client struct {
	name       string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new client. Defaults are applied for empty fields.
func NewClient(cfg Config) *Client {
	if cfg.Name == "" {
		cfg.Name = "openrouter"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	c := &Client{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// --- Wire types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	Plugins  []plugin      `json:"plugins,omitempty"`
}

// wireMessage.Content is a plain JSON string for text-only messages and an
// array of contentPart otherwise.
type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	VideoURL *urlRef   `json:"video_url,omitempty"`
	File     *filePart `json:"file,omitempty"`
}

type urlRef struct {
	URL string `json:"url"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type plugin struct {
	ID  string     `json:"id"`
	PDF *pdfPlugin `json:"pdf,omitempty"`
}

type pdfPlugin struct {
	Engine string `json:"engine"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

func (c *Client) buildRequest(req models.CompletionRequest, stream bool) (chatRequest, error) {
	out := chatRequest{Model: req.Model, Stream: stream}
	for _, m := range req.Messages {
		content, err := encodeContent(m.Parts)
		if err != nil {
			return chatRequest{}, err
		}
		out.Messages = append(out.Messages, wireMessage{Role: m.Role, Content: content})
	}
	if req.FileParser {
		out.Plugins = []plugin{{ID: "file-parser", PDF: &pdfPlugin{Engine: "pdf-text"}}}
	}
	return out, nil
}

func encodeContent(parts []models.Part) (json.RawMessage, error) {
	if len(parts) == 1 && parts[0].Kind == models.PartText {
		return json.Marshal(parts[0].Text)
	}

	wire := make([]contentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case models.PartText:
			wire = append(wire, contentPart{Type: "text", Text: p.Text})
		case models.PartVideo:
			wire = append(wire, contentPart{Type: "video_url", VideoURL: &urlRef{URL: p.URL}})
		case models.PartFile:
			wire = append(wire, contentPart{Type: "file", File: &filePart{Filename: p.Filename, FileData: p.FileData}})
		default:
			return nil, fmt.Errorf("unsupported content part %q", p.Kind)
		}
	}
	return json.Marshal(wire)
}

// Complete sends a non-streaming chat completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	body, err := c.buildRequest(req, false)
	if err != nil {
		return "", err
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", decodeError(ctx, err)
	}
	if out.Error != nil {
		return "", out.Error.toProviderError()
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", models.ErrInvalidResponse)
	}

	text := out.Choices[0].Message.Content
	slog.Debug("completion received", "provider", c.name, "model", req.Model, "content_length", len(text))
	return text, nil
}

// Stream sends a streaming chat completion and calls onChunk for every
// non-empty content delta, in order.
func (c *Client) Stream(ctx context.Context, req models.CompletionRequest, onChunk func(string) error) error {
	body, err := c.buildRequest(req, true)
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Blank lines separate events; ":" lines are keep-alive comments.
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("%w: stream chunk: %v", models.ErrInvalidResponse, err)
		}
		if chunk.Error != nil {
			return chunk.Error.toProviderError()
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onChunk(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: reading stream: %v", models.ErrProviderNetwork, err)
	}
	return nil
}

// post sends body to /chat/completions. A non-nil response always has status 200.
func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	httpReq.Header.Set("X-Title", "scenarist")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Caller cancellation is not a provider fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", models.ErrProviderNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		perr := &models.ProviderError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
		slog.Warn("ai provider error", "provider", c.name, "model", body.Model, "status", resp.StatusCode)
		return nil, perr
	}
	return resp, nil
}

// decodeError separates a malformed body from a transport failure while the
// body was being read. Only the former is the provider's fault; the latter is
// retried like any other network error.
func decodeError(ctx context.Context, err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	default:
		return fmt.Errorf("%w: reading response: %v", models.ErrProviderNetwork, err)
	}
}

func errorMessage(raw []byte) string {
	var env struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// toProviderError maps an in-body error object. OpenRouter reports numeric
// HTTP-like codes; anything else is treated as a server fault.
func (e *apiError) toProviderError() error {
	status := http.StatusBadGateway
	if code, ok := e.Code.(float64); ok && code >= 400 && code <= 599 {
		status = int(code)
	}
	return &models.ProviderError{StatusCode: status, Message: e.Message}
}

var _ models.CompletionProvider = (*Client)(nil)
