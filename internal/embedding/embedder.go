// Package embedding turns text into fixed-size vectors for similarity search.
package embedding

import (
	"context"
	"fmt"

	"github.com/infrapilot/infrapilot/internal/config"
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NewEmbedder builds an Embedder for the configured provider.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaEmbedder(cfg), nil
	case "openai":
		return NewOpenAIEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
