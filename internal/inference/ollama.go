package inference

import (
	"bufio"
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

// OllamaClient talks to a local Ollama server over its native HTTP API.
type OllamaClient struct {
	baseURL   string
	model     string
	keepAlive string
	timeout   time.Duration
	client    *http.Client
}

type ollamaGenerateRequest struct {
	Model     string        `json:"model"`
	Prompt    string        `json:"prompt"`
	Stream    bool          `json:"stream"`
	Options   ollamaOptions `json:"options"`
	KeepAlive string        `json:"keep_alive,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

// NewOllamaClient creates an Ollama-backed inference client.
func NewOllamaClient(cfg config.ModelConfig) *OllamaClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &OllamaClient{
		baseURL:   baseURL,
		model:     cfg.Name,
		keepAlive: cfg.KeepAlive,
		timeout:   timeout,
		// No client-level timeout: streams outlive any fixed response
		// deadline, so the per-call context carries the budget instead.
		client: &http.Client{},
	}
}

func (c *OllamaClient) generate(ctx context.Context, prompt string, opts Params, stream bool) (*http.Response, context.CancelFunc, error) {
	payload := ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: stream,
		Options: ollamaOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			TopK:        opts.TopK,
		},
		KeepAlive: c.keepAlive,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal generate request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, wrapTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		detail := strings.TrimSpace(string(data))
		if detail == "" {
			detail = resp.Status
		}
		return nil, nil, fmt.Errorf("%w: ollama generate: %s", domain.ErrBackendUnavailable, detail)
	}

	return resp, cancel, nil
}

// Complete issues one buffered completion call.
func (c *OllamaClient) Complete(ctx context.Context, prompt string, opts Params) (*Result, error) {
	resp, cancel, err := c.generate(ctx, prompt, opts, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, wrapTransportError(err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("%w: ollama: %s", domain.ErrBackendUnavailable, parsed.Error)
	}

	result := &Result{
		Content:          parsed.Response,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		FinishReason:     parsed.DoneReason,
	}
	if result.PromptTokens == 0 {
		result.PromptTokens = EstimateTokens(prompt)
	}
	if result.CompletionTokens == 0 {
		result.CompletionTokens = EstimateTokens(parsed.Response)
	}
	if result.FinishReason == "" {
		result.FinishReason = "stop"
	}
	return result, nil
}

// CompleteStream issues one streaming completion call. Fragments arrive in
// backend order; the channel is closed after the terminal fragment.
func (c *OllamaClient) CompleteStream(ctx context.Context, prompt string, opts Params) (<-chan Fragment, error) {
	resp, cancel, err := c.generate(ctx, prompt, opts, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan Fragment, 64)

	go func() {
		defer close(ch)
		defer cancel()
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				ch <- Fragment{Done: true, Err: wrapTransportError(ctx.Err())}
				return
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				ch <- Fragment{Done: true, Err: fmt.Errorf("%w: ollama: %s", domain.ErrBackendUnavailable, chunk.Error)}
				return
			}

			if chunk.Done {
				ch <- Fragment{Text: chunk.Response, Done: true}
				return
			}
			if chunk.Response != "" {
				ch <- Fragment{Text: chunk.Response}
			}
		}

		if err := scanner.Err(); err != nil {
			ch <- Fragment{Done: true, Err: wrapTransportError(err)}
			return
		}
		// Backend closed the stream without a done marker.
		ch <- Fragment{Done: true}
	}()

	return ch, nil
}

// Healthy reports whether the backend answers its tags endpoint.
func (c *OllamaClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ModelInfo reports whether the configured model is present on the backend.
func (c *OllamaClient) ModelInfo(ctx context.Context) (ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info := ModelInfo{ID: c.model, Object: "model", Backend: "ollama"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return info, fmt.Errorf("create tags request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return info, wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("%w: ollama tags returned %s", domain.ErrBackendUnavailable, resp.Status)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return info, fmt.Errorf("decode tags response: %w", err)
	}

	for _, m := range tags.Models {
		if strings.HasPrefix(m.Name, c.model) {
			info.Loaded = true
			info.Size = m.Size
			info.ModifiedAt = m.ModifiedAt
			break
		}
	}
	return info, nil
}

func wrapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
}
