package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/extract"
	"github.com/infrapilot/infrapilot/internal/inference"
	"github.com/infrapilot/infrapilot/internal/prompt"
)

// Stage is one state of a chat request's lifecycle.
type Stage string

const (
	StageReceived    Stage = "received"
	StageRetrieving  Stage = "retrieving"
	StageExtracting  Stage = "extracting"
	StageAssembling  Stage = "assembling"
	StageDispatching Stage = "dispatching"
	StageStreaming   Stage = "streaming"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// Run tracks the stage progression of one chat request. Terminal stages
// are completed and failed; a failed run keeps its originating error.
type Run struct {
	mu    sync.Mutex
	stage Stage
	err   error
}

func newRun() *Run {
	return &Run{stage: StageReceived}
}

func (r *Run) advance(s Stage) {
	r.mu.Lock()
	r.stage = s
	r.mu.Unlock()
}

func (r *Run) fail(err error) error {
	r.mu.Lock()
	r.stage = StageFailed
	r.err = err
	r.mu.Unlock()
	return err
}

// Stage returns the run's current stage.
func (r *Run) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Err returns the error that failed the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ContextStore is the retrieval surface the orchestrator depends on.
type ContextStore interface {
	Query(ctx context.Context, text string, topK int) ([]domain.ScoredDocument, error)
}

// ChatService orchestrates one chat request: optional retrieval, optional
// attachment extraction, prompt assembly, then a single dispatch to the
// inference backend. Requests are independent; the service holds no
// per-request state.
type ChatService struct {
	cfg    *config.Config
	llm    inference.Client
	store  ContextStore
	logger *zap.Logger
}

// NewChatService creates a chat orchestrator.
func NewChatService(cfg *config.Config, llm inference.Client, store ContextStore, logger *zap.Logger) *ChatService {
	return &ChatService{
		cfg:    cfg,
		llm:    llm,
		store:  store,
		logger: logger,
	}
}

// Chat runs one buffered completion.
func (s *ChatService) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.CompletionResult, error) {
	result, _, err := s.chat(ctx, req)
	return result, err
}

// ChatStream runs one streaming completion. Events arrive in backend order;
// a terminal event carries Done or Err. Cancelling ctx (client disconnect)
// cancels the in-flight backend call.
func (s *ChatService) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	events, _, err := s.chatStream(ctx, req)
	return events, err
}

func (s *ChatService) chat(ctx context.Context, req *domain.ChatRequest) (*domain.CompletionResult, *Run, error) {
	run := newRun()

	promptText, params, err := s.prepare(ctx, req, run)
	if err != nil {
		return nil, run, err
	}

	run.advance(StageDispatching)
	result, err := s.llm.Complete(ctx, promptText, params)
	if err != nil {
		s.logger.Error("completion failed", zap.Error(err))
		return nil, run, run.fail(err)
	}

	run.advance(StageCompleted)
	s.logger.Info("completion finished",
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("completion_tokens", result.CompletionTokens),
	)
	return &domain.CompletionResult{
		Content:          result.Content,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		FinishReason:     result.FinishReason,
	}, run, nil
}

func (s *ChatService) chatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, *Run, error) {
	run := newRun()

	promptText, params, err := s.prepare(ctx, req, run)
	if err != nil {
		return nil, run, err
	}

	run.advance(StageDispatching)
	fragments, err := s.llm.CompleteStream(ctx, promptText, params)
	if err != nil {
		s.logger.Error("stream dispatch failed", zap.Error(err))
		return nil, run, run.fail(err)
	}

	run.advance(StageStreaming)
	events := make(chan domain.StreamEvent, 64)

	go func() {
		defer close(events)
		for frag := range fragments {
			if frag.Err != nil {
				run.fail(frag.Err)
				s.logger.Error("stream failed", zap.Error(frag.Err))
				select {
				case events <- domain.StreamEvent{Err: frag.Err, Done: true}:
				case <-ctx.Done():
				}
				return
			}
			if frag.Text != "" {
				select {
				case events <- domain.StreamEvent{Delta: frag.Text}:
				case <-ctx.Done():
					// Consumer is gone. Fail the run instead of blocking on
					// the events channel forever.
					run.fail(ctx.Err())
					return
				}
			}
			if frag.Done {
				run.advance(StageCompleted)
				select {
				case events <- domain.StreamEvent{Done: true}:
				case <-ctx.Done():
				}
				return
			}
		}
		// Channel closed without a terminal fragment: treat as complete.
		run.advance(StageCompleted)
		select {
		case events <- domain.StreamEvent{Done: true}:
		case <-ctx.Done():
		}
	}()

	return events, run, nil
}

// prepare validates the request and walks it through the retrieval,
// extraction, and assembly stages. Any dependency error fails the run with
// its kind intact.
func (s *ChatService) prepare(ctx context.Context, req *domain.ChatRequest, run *Run) (string, inference.Params, error) {
	var params inference.Params

	if err := req.Validate(); err != nil {
		return "", params, run.fail(err)
	}
	params = s.params(req)

	var docs []prompt.ContextDocument
	if req.RetrieveTopK > 0 {
		run.advance(StageRetrieving)
		hits, err := s.store.Query(ctx, req.LastUserMessage(), req.RetrieveTopK)
		if err != nil {
			// Context was explicitly requested; no silent no-context fallback.
			s.logger.Error("retrieval failed", zap.Error(err))
			return "", params, run.fail(err)
		}
		for _, hit := range hits {
			docs = append(docs, prompt.ContextDocument{
				Text:   hit.Text,
				Source: metadataSource(hit.Metadata),
			})
		}
		s.logger.Info("context retrieved", zap.Int("documents", len(docs)))
	}

	var attachments []prompt.AttachmentText
	if hasAttachments(req) {
		run.advance(StageExtracting)
		var err error
		attachments, err = s.extractAttachments(req)
		if err != nil {
			s.logger.Warn("attachment extraction failed", zap.Error(err))
			return "", params, run.fail(err)
		}
	}

	run.advance(StageAssembling)
	promptText := prompt.Assemble(prompt.Input{
		Documents:   docs,
		Attachments: attachments,
		Messages:    req.Messages,
		MaxLength:   s.cfg.Inference.MaxPromptLength,
	})
	return promptText, params, nil
}

func (s *ChatService) params(req *domain.ChatRequest) inference.Params {
	defaults := s.cfg.Inference
	params := inference.Params{
		Temperature: defaults.DefaultTemperature,
		TopP:        defaults.DefaultTopP,
		MaxTokens:   defaults.DefaultMaxTokens,
		TopK:        defaults.DefaultTopK,
	}
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		params.TopP = *req.TopP
	}
	if req.MaxTokens != nil {
		params.MaxTokens = *req.MaxTokens
	}
	if req.TopK != nil {
		params.TopK = *req.TopK
	}
	return params
}

func (s *ChatService) extractAttachments(req *domain.ChatRequest) ([]prompt.AttachmentText, error) {
	var out []prompt.AttachmentText
	for _, msg := range req.Messages {
		for _, att := range msg.Attachments {
			format := extract.DetectFormat(att.Filename, att.MimeType)
			if format == extract.FormatUnknown {
				return nil, fmt.Errorf("%w: attachment %q (%s)", domain.ErrUnsupportedFormat, att.Filename, att.MimeType)
			}

			data, err := base64.StdEncoding.DecodeString(att.Content)
			if err != nil {
				return nil, fmt.Errorf("%w: attachment %q is not valid base64", domain.ErrValidation, att.Filename)
			}
			if max := s.cfg.Security.MaxUploadBytes; max > 0 && int64(len(data)) > max {
				return nil, fmt.Errorf("%w: attachment %q exceeds %d bytes", domain.ErrValidation, att.Filename, max)
			}

			text, err := extract.ExtractText(data, format)
			if err != nil {
				return nil, err
			}
			out = append(out, prompt.AttachmentText{Filename: att.Filename, Text: text})
		}
	}
	return out, nil
}

func hasAttachments(req *domain.ChatRequest) bool {
	for _, msg := range req.Messages {
		if len(msg.Attachments) > 0 {
			return true
		}
	}
	return false
}

func metadataSource(metadata map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	if src, ok := metadata["source"].(string); ok {
		return src
	}
	if name, ok := metadata["filename"].(string); ok {
		return name
	}
	return ""
}
