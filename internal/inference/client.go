// Package inference wraps HTTP calls to the model-serving backend. A single
// attempt is made per call; failures surface to the caller unmapped.
package inference

import (
	"context"
	"fmt"

	"github.com/infrapilot/infrapilot/internal/config"
)

// Params are sampling parameters for one completion call. They are
// validated upstream; providers pass them through as-is.
type Params struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
	TopK        int
}

// Result is a whole, non-streamed completion.
type Result struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
}

// Fragment is one element of a streamed completion. The stream is finite:
// the last fragment carries Done=true (or Err on failure) and the channel
// is closed after it.
type Fragment struct {
	Text string
	Done bool
	Err  error
}

// ModelInfo describes the configured model as reported by the backend.
type ModelInfo struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	Backend    string `json:"backend"`
	Loaded     bool   `json:"loaded"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

// Client is the inference backend contract.
type Client interface {
	Complete(ctx context.Context, prompt string, opts Params) (*Result, error)
	CompleteStream(ctx context.Context, prompt string, opts Params) (<-chan Fragment, error)
	Healthy(ctx context.Context) bool
	ModelInfo(ctx context.Context) (ModelInfo, error)
}

// NewClient builds a Client for the configured provider.
func NewClient(cfg config.ModelConfig) (Client, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaClient(cfg), nil
	case "openai":
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// EstimateTokens approximates a token count when the backend does not
// report one. Four characters per token is the backend's own rule of thumb.
func EstimateTokens(text string) int {
	return len(text) / 4
}
