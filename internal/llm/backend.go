package llm

import (
	"context"
	"fmt"

	"github.com/mixelka/cvharvest/internal/config"
)

// Backend is one text-generation provider. New providers implement this
// interface and register in NewBackend; nothing else in the pipeline knows
// which provider is in use.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}

// NewBackend selects a concrete backend from the configured provider.
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}

	switch cfg.LLMProvider {
	case "gemini":
		return NewGemini(ctx, cfg.LLMAPIKey, cfg.LLMModel)
	case "openrouter":
		return NewOpenRouter(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.LLMProvider)
	}
}
