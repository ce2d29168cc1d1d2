package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/domain"
)

// OpenAIEmbedder targets any OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible backend.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

// Embed produces one vector per input text in a single batched call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}

	results := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		if e.dimension > 0 && len(item.Embedding) != e.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(item.Embedding))
		}
		results[i] = item.Embedding
	}
	return results, nil
}
