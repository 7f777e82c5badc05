package provider

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"aiweather/internal/config"
)

// ErrUnknownProvider is returned when a model names a backend no client
// implements.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry maps backend name to its client.
type Registry map[string]Provider

// Build constructs clients for every backend referenced by an enabled
// model. Backends no enabled model uses are not instantiated.
func Build(cfg *config.Config, logger *zap.Logger) (Registry, error) {
	needed := make(map[string]bool)
	for _, m := range cfg.EnabledModels() {
		needed[m.Provider] = true
	}

	registry := make(Registry, len(needed))
	for name := range needed {
		switch name {
		case "ollama":
			registry[name] = NewOllamaClient(cfg.Ollama, logger)
		case "openai":
			registry[name] = NewOpenAIClient(cfg.OpenAI, logger)
		case "anthropic":
			registry[name] = NewAnthropicClient(cfg.Anthropic, logger)
		case "gemini":
			client, err := NewGeminiClient(cfg.Gemini, logger)
			if err != nil {
				return nil, fmt.Errorf("gemini provider: %w", err)
			}
			registry[name] = client
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
	}

	return registry, nil
}
