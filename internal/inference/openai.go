package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/domain"
)

// OpenAIClient targets any OpenAI-compatible completion endpoint.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIClient creates an inference client for an OpenAI-compatible backend.
func NewOpenAIClient(cfg config.ModelConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Name,
		timeout: timeout,
	}
}

func (c *OpenAIClient) request(prompt string, opts Params, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(opts.Temperature),
		TopP:        float32(opts.TopP),
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
}

// Complete issues one buffered completion call.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, opts Params) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, c.request(prompt, opts, false))
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices in completion response", domain.ErrBackendUnavailable)
	}

	choice := resp.Choices[0]
	result := &Result{
		Content:          choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		FinishReason:     string(choice.FinishReason),
	}
	if result.FinishReason == "" {
		result.FinishReason = "stop"
	}
	return result, nil
}

// CompleteStream issues one streaming completion call.
func (c *OpenAIClient) CompleteStream(ctx context.Context, prompt string, opts Params) (<-chan Fragment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(prompt, opts, true))
	if err != nil {
		cancel()
		return nil, wrapOpenAIError(err)
	}

	ch := make(chan Fragment, 64)

	go func() {
		defer close(ch)
		defer cancel()
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				ch <- Fragment{Done: true}
				return
			}
			if err != nil {
				ch <- Fragment{Done: true, Err: wrapOpenAIError(err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				ch <- Fragment{Text: choice.Delta.Content}
			}
			if choice.FinishReason != "" {
				ch <- Fragment{Done: true}
				return
			}
		}
	}()

	return ch, nil
}

// Healthy reports whether the backend answers its models endpoint.
func (c *OpenAIClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.ListModels(ctx)
	return err == nil
}

// ModelInfo reports whether the configured model is listed by the backend.
func (c *OpenAIClient) ModelInfo(ctx context.Context) (ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info := ModelInfo{ID: c.model, Object: "model", Backend: "openai"}

	models, err := c.client.ListModels(ctx)
	if err != nil {
		return info, wrapOpenAIError(err)
	}
	for _, m := range models.Models {
		if m.ID == c.model {
			info.Loaded = true
			break
		}
	}
	return info, nil
}

func wrapOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
}
