package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/config"
)

// Providers accepted in oracle.provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// NewClientFromConfig builds the chat client for the configured provider.
// It returns (nil, nil) when no provider is configured.
func NewClientFromConfig(cfg config.OracleConfig, logger *zap.Logger) (LLMClient, error) {
	clientCfg := &Config{Endpoint: cfg.BaseURL, Model: cfg.Model, APIKey: cfg.APIKey}

	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		client, err := NewClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil
	case ProviderAnthropic:
		client, err := NewAnthropicClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}

// NewEmbedderFromConfig builds the OpenAI-compatible embedding client used
// to embed document search text.
func NewEmbedderFromConfig(cfg config.SearchConfig, logger *zap.Logger) (Embedder, error) {
	client, err := NewClient(&Config{
		Endpoint: cfg.EmbeddingBaseURL,
		Model:    cfg.EmbeddingModel,
		APIKey:   cfg.EmbeddingAPIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}
