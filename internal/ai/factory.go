package ai

import (
	"fmt"

	"github.com/kiranshivaraju/scenarist/internal/ai/mock"
	"github.com/kiranshivaraju/scenarist/internal/ai/ollama"
	"github.com/kiranshivaraju/scenarist/internal/ai/openrouter"
	"github.com/kiranshivaraju/scenarist/internal/ai/vllm"
	"github.com/kiranshivaraju/scenarist/internal/config"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

// NewProvider constructs the appropriate completion provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.CompletionProvider, error) {
	switch cfg.Provider {
	case "openrouter":
		return openrouter.NewClient(openrouter.Config{
			APIKey:            cfg.OpenRouter.APIKey,
			BaseURL:           cfg.OpenRouter.BaseURL,
			Timeout:           cfg.HTTPTimeout,
			RequestsPerMinute: cfg.RequestsPerMinute,
		}), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.HTTPTimeout), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, cfg.HTTPTimeout, cfg.RequestsPerMinute), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("%w %q: must be one of openrouter, ollama, vllm, mock", ErrUnknownProvider, cfg.Provider)
	}
}

// Models names the model used for each kind of call.
type Models struct {
	Chat     string
	Video    string
	Scenario string
}

// ModelsFor resolves per-call models. Self-hosted backends serve a single
// model for everything; other providers use the OpenRouter model settings.
func ModelsFor(cfg config.AIConfig) Models {
	switch cfg.Provider {
	case "ollama":
		return Models{Chat: cfg.Ollama.Model, Video: cfg.Ollama.Model, Scenario: cfg.Ollama.Model}
	case "vllm":
		return Models{Chat: cfg.VLLM.Model, Video: cfg.VLLM.Model, Scenario: cfg.VLLM.Model}
	}
	return Models{
		Chat:     cfg.OpenRouter.ChatModel,
		Video:    cfg.OpenRouter.VideoModel,
		Scenario: cfg.OpenRouter.ScenarioModel,
	}
}
