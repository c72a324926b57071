package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	defaultGeminiModel          = "gemini-1.5-flash-latest"
	defaultGeminiEmbeddingModel = "text-embedding-004"
)

// GeminiClient is the Google Gemini client.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client}, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() string {
	return string(ProviderGemini)
}

// Close releases the underlying client.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// CompleteStream sends a streaming completion request. The last message is
// sent as the new turn and the rest become chat history.
func (c *GeminiClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	modelName := req.Model
	if modelName == "" || !strings.HasPrefix(modelName, "gemini") {
		modelName = defaultGeminiModel
	}

	model := c.client.GenerativeModel(modelName)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	turns := userFirst(req.Messages)
	history := make([]*genai.Content, 0, len(turns)-1)
	for _, msg := range turns[:len(turns)-1] {
		history = append(history, &genai.Content{
			Role:  geminiRole(msg.Role),
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	session := model.StartChat()
	session.History = history

	last := turns[len(turns)-1]
	iter := session.SendMessageStream(ctx, genai.Text(last.Content))

	var content strings.Builder
	var stopReason string
	var tokensIn, tokensOut int
	index := 0

	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}

		if resp.UsageMetadata != nil {
			tokensIn = int(resp.UsageMetadata.PromptTokenCount)
			tokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		if resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			stopReason = resp.Candidates[0].FinishReason.String()
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			txt, ok := part.(genai.Text)
			if !ok || txt == "" {
				continue
			}
			content.WriteString(string(txt))
			if err := callback(string(txt), index); err != nil {
				return nil, err
			}
			index++
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      modelName,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// Embedder returns an Embedder bound to model.
func (c *GeminiClient) Embedder(model string) *GeminiEmbedder {
	if model == "" || strings.HasPrefix(model, "text-embedding-3") {
		model = defaultGeminiEmbeddingModel
	}
	return &GeminiEmbedder{model: c.client.EmbeddingModel(model)}
}

// GeminiEmbedder computes embeddings with a Gemini embedding model.
type GeminiEmbedder struct {
	model *genai.EmbeddingModel
}

// Embed implements Embedder.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, &EmbeddingError{Provider: string(ProviderGemini), Err: err}
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, &EmbeddingError{Provider: string(ProviderGemini), Err: errors.New("empty embedding response")}
	}
	return res.Embedding.Values, nil
}
