// Package llm provides completion and embedding clients for the supported
// model providers.
package llm

import (
	"context"
	"fmt"
)

// StreamCallback is called for each token during streaming. Returning an
// error aborts the stream.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM. Role is "user" or
// "assistant".
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openingTurn stands in for the visitor when a request carries no user
// turn, for providers that reject an empty or assistant-first history.
const openingTurn = "Hello"

// userFirst drops leading non-user turns and falls back to a single
// opening user turn when nothing is left.
func userFirst(msgs []ChatMessage) []ChatMessage {
	for len(msgs) > 0 && msgs[0].Role != "user" {
		msgs = msgs[1:]
	}
	if len(msgs) == 0 {
		return []ChatMessage{{Role: "user", Content: openingTurn}}
	}
	return msgs
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for completion providers.
type Client interface {
	// CompleteStream sends a streaming completion request. The returned
	// response carries the full buffered reply.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingError wraps any failure of an embedding call.
type EmbeddingError struct {
	Provider string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s embedding failed: %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Keys carries the provider API keys.
type Keys struct {
	OpenAI    string
	Anthropic string
	Gemini    string
}

// NewClient creates a completion client for provider.
func NewClient(ctx context.Context, provider Provider, keys Keys) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(keys.Anthropic)
	case ProviderOpenAI:
		return NewOpenAIClient(keys.OpenAI)
	case ProviderGemini:
		return NewGeminiClient(ctx, keys.Gemini)
	default:
		return nil, fmt.Errorf("unknown completion provider %q", provider)
	}
}

// NewEmbedder creates an embedding client for provider. Anthropic has no
// embedding endpoint.
func NewEmbedder(ctx context.Context, provider Provider, keys Keys, model string) (Embedder, error) {
	switch provider {
	case ProviderOpenAI:
		c, err := NewOpenAIClient(keys.OpenAI)
		if err != nil {
			return nil, err
		}
		return c.Embedder(model), nil
	case ProviderGemini:
		c, err := NewGeminiClient(ctx, keys.Gemini)
		if err != nil {
			return nil, err
		}
		return c.Embedder(model), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
