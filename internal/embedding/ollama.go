package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/domain"
)

// OllamaEmbedder calls Ollama's embeddings endpoint, one text per request.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
}

// NewOllamaEmbedder creates an Ollama-backed embedder.
func NewOllamaEmbedder(cfg config.EmbeddingConfig) *OllamaEmbedder {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaEmbedder{
		baseURL:   baseURL,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Embed produces one vector per input text.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	url := e.baseURL + "/api/embeddings"

	for _, text := range texts {
		body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
		if err != nil {
			return nil, fmt.Errorf("marshal embed request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
		}

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("%w: ollama embeddings: %s", domain.ErrBackendUnavailable, strings.TrimSpace(string(data)))
		}

		var payload ollamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("decode embed response: %w", err)
		}
		resp.Body.Close()

		if payload.Error != "" {
			return nil, fmt.Errorf("%w: ollama embeddings: %s", domain.ErrBackendUnavailable, payload.Error)
		}

		vec := make([]float32, len(payload.Embedding))
		for i, v := range payload.Embedding {
			vec[i] = float32(v)
		}

		if e.dimension > 0 && len(vec) != e.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(vec))
		}

		results = append(results, vec)
	}

	return results, nil
}
