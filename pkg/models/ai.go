// Package models contains shared data models used across the scenarist codebase.
package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrProviderNetwork marks a transport failure talking to a completion
// provider: connection reset, refused, DNS or an i/o timeout.
var ErrProviderNetwork = errors.New("ai provider network error")

// ErrInvalidResponse is returned when a provider answers 200 with a body that
// cannot be decoded or holds no choices.
var ErrInvalidResponse = errors.New("ai provider returned invalid response")

// ProviderError is a non-success HTTP answer from a completion provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ai provider returned status %d: %s", e.StatusCode, e.Message)
}

// IsServerError reports whether the provider failed on its side (5xx).
func (e *ProviderError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode <= 599
}

// CompletionProvider is the core interface that all LLM integrations must implement.
// Callers inject this interface and never reach a provider client directly.
type CompletionProvider interface {
	// Complete sends a non-streaming request and returns the full response text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Stream sends a streaming request and calls onChunk for every text delta.
	// Returning an error from onChunk aborts the stream with that error.
	Stream(ctx context.Context, req CompletionRequest, onChunk func(string) error) error
	// Name returns the provider identifier (e.g., "openrouter", "ollama").
	Name() string
}

// CompletionRequest is the input to a completion call.
type CompletionRequest struct {
	Model    string
	Messages []Message
	// FileParser asks the provider to parse attached PDF documents server-side.
	FileParser bool
}

// Message is one chat message made of ordered content parts.
type Message struct {
	Role  string
	Parts []Part
}

// PartKind discriminates the content of a Part.
type PartKind string

const (
	PartText  PartKind = "text"
	PartVideo PartKind = "video_url"
	PartFile  PartKind = "file"
)

// Part is a single piece of message content.
type Part struct {
	Kind     PartKind
	Text     string // PartText
	URL      string // PartVideo
	Filename string // PartFile
	FileData string // PartFile, data URI
}

// TextMessage builds a message containing a single text part.
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []Part{{Kind: PartText, Text: text}}}
}

// Text concatenates the text parts of m.
func (m Message) Text() string {
	var s string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			s += p.Text
		}
	}
	return s
}
