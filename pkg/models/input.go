package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput marks a job payload that does not match its declared type.
// Jobs failing with it are never retried.
var ErrInvalidInput = errors.New("invalid job input")

// AnalysisMode selects between extracting a creator's style and summarising content.
type AnalysisMode string

const (
	ModeStyle  AnalysisMode = "style"
	ModeSource AnalysisMode = "source"
)

func (m AnalysisMode) valid() bool { return m == ModeStyle || m == ModeSource }

// PDFMimeType is the only binary document type sent as a file attachment.
const PDFMimeType = "application/pdf"

// JobInput is the typed payload of a job. The set of implementations is closed:
// AnalyzeVideoInput, AnalyzeFileInput and GenerateScenarioInput.
type JobInput interface {
	JobType() JobType
	sealed()
}

// AnalyzeVideoInput is the payload of ANALYZE_VIDEO.
type AnalyzeVideoInput struct {
	URL  string       `json:"url"`
	Mode AnalysisMode `json:"mode"`
}

// AnalyzeFileInput is the payload of ANALYZE_FILE. Either FileData (a base64
// data URI) or Content (already extracted text) must be set.
type AnalyzeFileInput struct {
	Mode     AnalysisMode `json:"mode"`
	Content  string       `json:"content,omitempty"`
	FileData string       `json:"fileData,omitempty"`
	FileType string       `json:"fileType,omitempty"`
	Filename string       `json:"filename,omitempty"`
}

// IsDocument reports whether the payload carries a binary document attachment.
func (in AnalyzeFileInput) IsDocument() bool {
	return in.FileData != "" && in.FileType == PDFMimeType
}

// ContextEntry is a style or source excerpt offered to scenario generation.
type ContextEntry struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Selected bool   `json:"selected"`
}

// GenerateScenarioInput is the payload of GENERATE_SCENARIO.
type GenerateScenarioInput struct {
	Styles      []ContextEntry `json:"styles"`
	Sources     []ContextEntry `json:"sources"`
	ChatHistory []ChatMessage  `json:"chatHistory"`
}

func (AnalyzeVideoInput) JobType() JobType     { return JobTypeAnalyzeVideo }
func (AnalyzeFileInput) JobType() JobType      { return JobTypeAnalyzeFile }
func (GenerateScenarioInput) JobType() JobType { return JobTypeGenerateScenario }

func (AnalyzeVideoInput) sealed()     {}
func (AnalyzeFileInput) sealed()      {}
func (GenerateScenarioInput) sealed() {}

// DecodeJobInput parses raw into the payload type declared by t and checks its
// shape. Every failure wraps ErrInvalidInput.
func DecodeJobInput(t JobType, raw json.RawMessage) (JobInput, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input for %s", ErrInvalidInput, t)
	}

	switch t {
	case JobTypeAnalyzeVideo:
		var in AnalyzeVideoInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, t, err)
		}
		if strings.TrimSpace(in.URL) == "" {
			return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidInput, t)
		}
		if !in.Mode.valid() {
			return nil, fmt.Errorf("%w: %s: mode must be style or source, got %q", ErrInvalidInput, t, in.Mode)
		}
		return in, nil

	case JobTypeAnalyzeFile:
		var in AnalyzeFileInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, t, err)
		}
		if !in.Mode.valid() {
			return nil, fmt.Errorf("%w: %s: mode must be style or source, got %q", ErrInvalidInput, t, in.Mode)
		}
		// fileData of a non-document type falls back to content.
		if !in.IsDocument() && in.Content == "" {
			return nil, fmt.Errorf("%w: %s: fileData or content is required", ErrInvalidInput, t)
		}
		return in, nil

	case JobTypeGenerateScenario:
		var in GenerateScenarioInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, t, err)
		}
		return in, nil

	default:
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidInput, t)
	}
}
