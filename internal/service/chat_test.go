package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/inference"
)

type fakeLLM struct {
	lastPrompt string
	lastParams inference.Params
	calls      int

	result    *inference.Result
	err       error
	fragments []inference.Fragment
	streamErr error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, opts inference.Params) (*inference.Result, error) {
	f.calls++
	f.lastPrompt = prompt
	f.lastParams = opts
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &inference.Result{Content: "ok", PromptTokens: 1, CompletionTokens: 1, FinishReason: "stop"}, nil
}

func (f *fakeLLM) CompleteStream(ctx context.Context, prompt string, opts inference.Params) (<-chan inference.Fragment, error) {
	f.calls++
	f.lastPrompt = prompt
	f.lastParams = opts
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan inference.Fragment, len(f.fragments)+1)
	for _, frag := range f.fragments {
		ch <- frag
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) Healthy(ctx context.Context) bool { return true }

func (f *fakeLLM) ModelInfo(ctx context.Context) (inference.ModelInfo, error) {
	return inference.ModelInfo{ID: "fake", Object: "model"}, nil
}

type fakeStore struct {
	hits    []domain.ScoredDocument
	err     error
	queries int
	topK    int
}

func (f *fakeStore) Query(ctx context.Context, text string, topK int) ([]domain.ScoredDocument, error) {
	f.queries++
	f.topK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Inference: config.InferenceConfig{
			DefaultMaxTokens:   512,
			DefaultTemperature: 0.7,
			DefaultTopP:        0.9,
			DefaultTopK:        50,
			MaxPromptLength:    4096,
		},
		Security: config.SecurityConfig{MaxUploadBytes: 1024},
	}
}

func userRequest(content string) *domain.ChatRequest {
	return &domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: "user", Content: content}},
	}
}

func TestChatHappyPath(t *testing.T) {
	llm := &fakeLLM{result: &inference.Result{Content: "answer", PromptTokens: 10, CompletionTokens: 5, FinishReason: "stop"}}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	result, run, err := svc.chat(context.Background(), userRequest("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "answer" {
		t.Errorf("content = %q", result.Content)
	}
	if run.Stage() != StageCompleted {
		t.Errorf("terminal stage = %q", run.Stage())
	}
	if !strings.Contains(llm.lastPrompt, "user: hello") {
		t.Errorf("prompt missing history:\n%s", llm.lastPrompt)
	}
}

func TestChatAppliesInferenceDefaults(t *testing.T) {
	llm := &fakeLLM{}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	if _, err := svc.Chat(context.Background(), userRequest("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if llm.lastParams.MaxTokens != 512 || llm.lastParams.Temperature != 0.7 || llm.lastParams.TopP != 0.9 || llm.lastParams.TopK != 50 {
		t.Errorf("defaults not applied: %+v", llm.lastParams)
	}
}

func TestChatRequestOverridesDefaults(t *testing.T) {
	llm := &fakeLLM{}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	temp := 0.2
	maxTokens := 64
	req := userRequest("hello")
	req.Temperature = &temp
	req.MaxTokens = &maxTokens

	if _, err := svc.Chat(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if llm.lastParams.Temperature != 0.2 || llm.lastParams.MaxTokens != 64 {
		t.Errorf("overrides not applied: %+v", llm.lastParams)
	}
	if llm.lastParams.TopP != 0.9 {
		t.Errorf("unset field should keep default: %+v", llm.lastParams)
	}
}

func TestChatValidationFailure(t *testing.T) {
	llm := &fakeLLM{}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	_, run, err := svc.chat(context.Background(), &domain.ChatRequest{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if run.Stage() != StageFailed {
		t.Errorf("terminal stage = %q", run.Stage())
	}
	if llm.calls != 0 {
		t.Error("backend must not be called for invalid requests")
	}
}

func TestChatRetrievalFoldedIntoPrompt(t *testing.T) {
	llm := &fakeLLM{}
	store := &fakeStore{hits: []domain.ScoredDocument{
		{ID: "1", Text: "subnet sizing notes", Score: 0.9, Metadata: map[string]interface{}{"source": "wiki/subnets"}},
	}}
	svc := NewChatService(testConfig(), llm, store, zap.NewNop())

	req := userRequest("how big should subnets be?")
	req.RetrieveTopK = 3
	if _, err := svc.Chat(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.queries != 1 || store.topK != 3 {
		t.Errorf("store queried %d times with topK=%d", store.queries, store.topK)
	}
	if !strings.Contains(llm.lastPrompt, "Retrieved Context:") {
		t.Errorf("prompt missing context section:\n%s", llm.lastPrompt)
	}
	if !strings.Contains(llm.lastPrompt, "subnet sizing notes (source: wiki/subnets)") {
		t.Errorf("retrieved document not rendered:\n%s", llm.lastPrompt)
	}
}

func TestChatRetrievalFailureFailsRequest(t *testing.T) {
	llm := &fakeLLM{}
	store := &fakeStore{err: fmt.Errorf("%w: index offline", domain.ErrBackendUnavailable)}
	svc := NewChatService(testConfig(), llm, store, zap.NewNop())

	req := userRequest("question")
	req.RetrieveTopK = 3
	_, run, err := svc.chat(context.Background(), req)
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("retrieval error kind must propagate, got %v", err)
	}
	if run.Stage() != StageFailed {
		t.Errorf("terminal stage = %q", run.Stage())
	}
	if llm.calls != 0 {
		t.Error("backend must not be called when retrieval fails")
	}
}

func TestChatNoRetrievalWhenTopKZero(t *testing.T) {
	store := &fakeStore{}
	svc := NewChatService(testConfig(), &fakeLLM{}, store, zap.NewNop())

	if _, err := svc.Chat(context.Background(), userRequest("plain question")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.queries != 0 {
		t.Errorf("store queried %d times without retrieval request", store.queries)
	}
}

func TestChatAttachmentExtracted(t *testing.T) {
	llm := &fakeLLM{}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	req := &domain.ChatRequest{
		Messages: []domain.ChatMessage{{
			Role:    "user",
			Content: "review this",
			Attachments: []domain.Attachment{{
				Filename: "main.tf",
				Content:  base64.StdEncoding.EncodeToString([]byte(`resource "aws_vpc" "main" {}`)),
			}},
		}},
	}
	if _, err := svc.Chat(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(llm.lastPrompt, "Attachment main.tf:") {
		t.Errorf("attachment section missing:\n%s", llm.lastPrompt)
	}
	if !strings.Contains(llm.lastPrompt, `resource "aws_vpc" "main" {}`) {
		t.Errorf("attachment text missing:\n%s", llm.lastPrompt)
	}
}

func TestChatUnsupportedAttachmentNeverReachesBackend(t *testing.T) {
	llm := &fakeLLM{}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	req := &domain.ChatRequest{
		Messages: []domain.ChatMessage{{
			Role:    "user",
			Content: "review this",
			Attachments: []domain.Attachment{{
				Filename: "archive.tar.gz",
				Content:  base64.StdEncoding.EncodeToString([]byte("binary")),
			}},
		}},
	}
	_, run, err := svc.chat(context.Background(), req)
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if run.Stage() != StageFailed {
		t.Errorf("terminal stage = %q", run.Stage())
	}
	if llm.calls != 0 {
		t.Error("backend must not be called for unsupported attachments")
	}
}

func TestChatAttachmentBadBase64(t *testing.T) {
	svc := NewChatService(testConfig(), &fakeLLM{}, &fakeStore{}, zap.NewNop())

	req := &domain.ChatRequest{
		Messages: []domain.ChatMessage{{
			Role:        "user",
			Content:     "review this",
			Attachments: []domain.Attachment{{Filename: "notes.txt", Content: "%%% not base64 %%%"}},
		}},
	}
	_, err := svc.Chat(context.Background(), req)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestChatAttachmentTooLarge(t *testing.T) {
	svc := NewChatService(testConfig(), &fakeLLM{}, &fakeStore{}, zap.NewNop())

	big := strings.Repeat("x", 2048)
	req := &domain.ChatRequest{
		Messages: []domain.ChatMessage{{
			Role:    "user",
			Content: "review this",
			Attachments: []domain.Attachment{{
				Filename: "notes.txt",
				Content:  base64.StdEncoding.EncodeToString([]byte(big)),
			}},
		}},
	}
	_, err := svc.Chat(context.Background(), req)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestChatBackendErrorKindPropagates(t *testing.T) {
	llm := &fakeLLM{err: fmt.Errorf("%w: connection refused", domain.ErrBackendUnavailable)}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	_, run, err := svc.chat(context.Background(), userRequest("hello"))
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
	if run.Stage() != StageFailed {
		t.Errorf("terminal stage = %q", run.Stage())
	}
}

func TestChatStreamDeliversDeltasAndDone(t *testing.T) {
	llm := &fakeLLM{fragments: []inference.Fragment{
		{Text: "resource "},
		{Text: `"aws_vpc"`},
		{Done: true},
	}}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	events, run, err := svc.chatStream(context.Background(), userRequest("generate a vpc"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	var sawDone bool
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected event error: %v", ev.Err)
		}
		text += ev.Delta
		if ev.Done {
			sawDone = true
		}
	}
	if text != `resource "aws_vpc"` {
		t.Errorf("streamed text = %q", text)
	}
	if !sawDone {
		t.Error("no terminal event")
	}
	if run.Stage() != StageCompleted {
		t.Errorf("terminal stage = %q", run.Stage())
	}
}

func TestChatStreamMidStreamErrorFailsRun(t *testing.T) {
	llm := &fakeLLM{fragments: []inference.Fragment{
		{Text: "partial"},
		{Done: true, Err: fmt.Errorf("%w: backend dropped", domain.ErrBackendUnavailable)},
	}}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	events, run, err := svc.chatStream(context.Background(), userRequest("generate"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var last domain.StreamEvent
	for ev := range events {
		last = ev
	}
	if !errors.Is(last.Err, domain.ErrBackendUnavailable) {
		t.Errorf("terminal event error = %v", last.Err)
	}
	if run.Stage() != StageFailed {
		t.Errorf("terminal stage = %q", run.Stage())
	}
	if !errors.Is(run.Err(), domain.ErrBackendUnavailable) {
		t.Errorf("run error = %v", run.Err())
	}
}

func TestChatStreamCancelWithoutConsumerEndsRun(t *testing.T) {
	// Deep backend buffer, no reader on the event channel. Cancelling the
	// context must still drive the run to a terminal stage.
	fragments := make([]inference.Fragment, 0, 151)
	for i := 0; i < 150; i++ {
		fragments = append(fragments, inference.Fragment{Text: "chunk "})
	}
	fragments = append(fragments, inference.Fragment{Done: true})
	llm := &fakeLLM{fragments: fragments}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	_, run, err := svc.chatStream(ctx, userRequest("generate"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for run.Stage() != StageFailed && run.Stage() != StageCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("run stuck in stage %q after cancel", run.Stage())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if run.Stage() == StageFailed && !errors.Is(run.Err(), context.Canceled) {
		t.Errorf("run error = %v", run.Err())
	}
}

func TestChatStreamDispatchFailure(t *testing.T) {
	llm := &fakeLLM{streamErr: fmt.Errorf("%w: refused", domain.ErrBackendUnavailable)}
	svc := NewChatService(testConfig(), llm, &fakeStore{}, zap.NewNop())

	_, run, err := svc.chatStream(context.Background(), userRequest("generate"))
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
	if run.Stage() != StageFailed {
		t.Errorf("terminal stage = %q", run.Stage())
	}
}
