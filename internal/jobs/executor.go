package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/scenarist/internal/ai"
	"github.com/kiranshivaraju/scenarist/internal/prompts"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

const defaultPDFName = "document.pdf"

// Executor turns a job's input into its result. It performs no retries; the
// Processor owns retry and timeout policy.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) (json.RawMessage, error)
}

// TaskExecutor runs job types against a completion provider.
type TaskExecutor struct {
	provider models.CompletionProvider
	models   ai.Models
}

func NewTaskExecutor(provider models.CompletionProvider, m ai.Models) *TaskExecutor {
	return &TaskExecutor{provider: provider, models: m}
}

// Execute decodes the job input and dispatches on its type. Malformed input
// fails with models.ErrInvalidInput before any provider call.
func (e *TaskExecutor) Execute(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	in, err := models.DecodeJobInput(job.Type, job.Input)
	if err != nil {
		return nil, err
	}

	switch in := in.(type) {
	case models.AnalyzeVideoInput:
		content, err := e.analyzeVideo(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("analyze video: %w", err)
		}
		return json.Marshal(models.AnalysisOutput{Content: content})

	case models.AnalyzeFileInput:
		content, err := e.analyzeFile(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("analyze file: %w", err)
		}
		return json.Marshal(models.AnalysisOutput{Content: content})

	case models.GenerateScenarioInput:
		scenario, err := e.generateScenario(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("generate scenario: %w", err)
		}
		return json.Marshal(models.ScenarioOutput{Scenario: scenario})

	default:
		return nil, fmt.Errorf("%w: unhandled input %T", models.ErrInvalidInput, in)
	}
}

func (e *TaskExecutor) analyzeVideo(ctx context.Context, in models.AnalyzeVideoInput) (string, error) {
	return e.provider.Complete(ctx, models.CompletionRequest{
		Model: e.models.Video,
		Messages: []models.Message{{
			Role: "user",
			Parts: []models.Part{
				{Kind: models.PartText, Text: prompts.AnalyzeVideo(in.Mode)},
				{Kind: models.PartVideo, URL: in.URL},
			},
		}},
	})
}

func (e *TaskExecutor) analyzeFile(ctx context.Context, in models.AnalyzeFileInput) (string, error) {
	if in.IsDocument() {
		filename := in.Filename
		if filename == "" {
			filename = defaultPDFName
		}
		return e.provider.Complete(ctx, models.CompletionRequest{
			Model:      e.models.Chat,
			FileParser: true,
			Messages: []models.Message{{
				Role: "user",
				Parts: []models.Part{
					{Kind: models.PartText, Text: prompts.AnalyzeDocument(in.Mode)},
					{Kind: models.PartFile, Filename: filename, FileData: in.FileData},
				},
			}},
		})
	}

	return e.provider.Complete(ctx, models.CompletionRequest{
		Model:    e.models.Chat,
		Messages: []models.Message{models.TextMessage("user", prompts.AnalyzeText(in.Mode, in.Content))},
	})
}

// generateScenario makes two sequential calls: a draft, then a refinement
// whose prompt embeds the draft. A failed refinement fails the whole task.
func (e *TaskExecutor) generateScenario(ctx context.Context, in models.GenerateScenarioInput) (string, error) {
	styles := prompts.FormatEntries(in.Styles)
	sources := prompts.FormatEntries(in.Sources)
	chat := prompts.FormatChat(in.ChatHistory)

	draft, err := e.provider.Complete(ctx, models.CompletionRequest{
		Model:    e.models.Scenario,
		Messages: []models.Message{models.TextMessage("user", prompts.ScenarioDraft(styles, sources, chat))},
	})
	if err != nil {
		return "", fmt.Errorf("draft: %w", err)
	}

	final, err := e.provider.Complete(ctx, models.CompletionRequest{
		Model:    e.models.Scenario,
		Messages: []models.Message{models.TextMessage("user", prompts.ScenarioRefine(styles, sources, chat, draft))},
	})
	if err != nil {
		return "", fmt.Errorf("refine: %w", err)
	}
	return final, nil
}

var _ Executor = (*TaskExecutor)(nil)
