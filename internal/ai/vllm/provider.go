// Package vllm serves completions from a self-hosted vLLM server through its
// OpenAI-compatible API.
package vllm

import (
	"time"

	"github.com/kiranshivaraju/scenarist/internal/ai/openrouter"
	"github.com/kiranshivaraju/scenarist/internal/config"
)

// NewProvider returns a completion client pointed at vLLM. The API key is
// only sent when the server was started with --api-key.
func NewProvider(cfg config.VLLMConfig, timeout time.Duration, requestsPerMinute int) *openrouter.Client {
	return openrouter.NewClient(openrouter.Config{
		Name:              "vllm",
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Timeout:           timeout,
		RequestsPerMinute: requestsPerMinute,
	})
}
