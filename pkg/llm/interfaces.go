// Package llm provides OpenAI-compatible and Anthropic chat clients plus the
// resilience pieces (circuit breaker, worker pool, error classification)
// shared by everything that calls a model.
package llm

import (
	"context"
)

// LLMClient is a chat completion client. Use this interface for dependency
// injection so tests can substitute MockLLMClient.
type LLMClient interface {
	// GenerateResponse runs one chat completion.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error)
}

// GenerateResponseResult is a completion with token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

var (
	_ LLMClient = (*Client)(nil)
	_ Embedder  = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
)
