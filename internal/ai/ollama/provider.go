// Package ollama serves completions from a local Ollama instance through its
// OpenAI-compatible /v1 API.
package ollama

import (
	"time"

	"github.com/kiranshivaraju/scenarist/internal/ai/openrouter"
	"github.com/kiranshivaraju/scenarist/internal/config"
)

// NewProvider returns a completion client pointed at Ollama. Ollama ignores
// the API key and plugins, so none are set.
func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *openrouter.Client {
	return openrouter.NewClient(openrouter.Config{
		Name:    "ollama",
		BaseURL: cfg.BaseURL,
		Timeout: timeout,
	})
}
