package services

import (
	"fmt"
	"log/slog"

	"github.com/jwebster45206/boothill-gm/internal/config"
	"github.com/jwebster45206/boothill-gm/pkg/engine"
)

// NewLLMService builds the provider selected in cfg. It returns nil when no
// provider is configured.
func NewLLMService(cfg *config.Config, logger *slog.Logger) (LLMService, error) {
	if cfg.APIConfig() == nil {
		return nil, nil
	}
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		return NewAnthropicService(cfg.AnthropicAPIKey, cfg.ModelName, logger), nil
	case config.ProviderOpenAI:
		return NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ModelName, logger), nil
	case config.ProviderOllama:
		svc, err := NewOllamaService(cfg.OllamaURL, cfg.ModelName, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}

// NewAIClient wraps llm for the decision engine. A nil llm yields a nil
// client, which makes the engine fall back to templated decisions.
func NewAIClient(llm LLMService, cfg *config.Config, observer LLMObserver, logger *slog.Logger) engine.AIClient {
	if llm == nil {
		return nil
	}
	return NewCaller(llm, cfg.LLMProvider, cfg.LLMRateLimit, observer, logger)
}
