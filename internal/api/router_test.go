package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/inference"
	"github.com/infrapilot/infrapilot/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubLLM struct {
	healthy   bool
	result    *inference.Result
	err       error
	fragments []inference.Fragment
}

func (s *stubLLM) Complete(ctx context.Context, prompt string, opts inference.Params) (*inference.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &inference.Result{Content: "ok", PromptTokens: 2, CompletionTokens: 3, FinishReason: "stop"}, nil
}

func (s *stubLLM) CompleteStream(ctx context.Context, prompt string, opts inference.Params) (<-chan inference.Fragment, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan inference.Fragment, len(s.fragments))
	for _, frag := range s.fragments {
		ch <- frag
	}
	close(ch)
	return ch, nil
}

func (s *stubLLM) Healthy(ctx context.Context) bool { return s.healthy }

func (s *stubLLM) ModelInfo(ctx context.Context) (inference.ModelInfo, error) {
	return inference.ModelInfo{ID: "terraform-codellama", Object: "model", Backend: "ollama", Loaded: true}, nil
}

// memStore is an in-memory RAGStore for handler tests.
type memStore struct {
	docs map[string]domain.Document
	seq  int
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]domain.Document{}}
}

func (m *memStore) Add(ctx context.Context, text string, metadata map[string]interface{}) (string, error) {
	m.seq++
	id := fmt.Sprintf("doc-%d", m.seq)
	return m.AddWithID(ctx, id, text, metadata)
}

func (m *memStore) AddWithID(ctx context.Context, id, text string, metadata map[string]interface{}) (string, error) {
	m.docs[id] = domain.Document{ID: id, Text: text, Metadata: metadata}
	return id, nil
}

func (m *memStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %q", domain.ErrNotFound, id)
	}
	return &doc, nil
}

func (m *memStore) Update(ctx context.Context, id, text string, metadata map[string]interface{}) error {
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("%w: document %q", domain.ErrNotFound, id)
	}
	if text != "" {
		doc.Text = text
	}
	if metadata != nil {
		doc.Metadata = metadata
	}
	m.docs[id] = doc
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("%w: document %q", domain.ErrNotFound, id)
	}
	delete(m.docs, id)
	return nil
}

func (m *memStore) List(ctx context.Context, limit, offset int) ([]domain.Document, error) {
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []domain.Document
	for i, id := range ids {
		if i < offset {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, m.docs[id])
	}
	return out, nil
}

func (m *memStore) ListByMetaKey(ctx context.Context, key string, limit, offset int) ([]domain.Document, error) {
	ids := make([]string, 0, len(m.docs))
	for id, doc := range m.docs {
		if _, ok := doc.Metadata[key]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var out []domain.Document
	for i, id := range ids {
		if i < offset {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, m.docs[id])
	}
	return out, nil
}

func (m *memStore) CountByMetaKey(ctx context.Context, key string) (int, error) {
	count := 0
	for _, doc := range m.docs {
		if _, ok := doc.Metadata[key]; ok {
			count++
		}
	}
	return count, nil
}

func (m *memStore) Query(ctx context.Context, text string, topK int) ([]domain.ScoredDocument, error) {
	var out []domain.ScoredDocument
	for _, doc := range m.docs {
		out = append(out, domain.ScoredDocument{ID: doc.ID, Text: doc.Text, Metadata: doc.Metadata, Score: 0.5})
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

func (m *memStore) Count(ctx context.Context) (int, error) { return len(m.docs), nil }

func (m *memStore) CollectionName() string { return "test-docs" }

func testRouter(llm inference.Client, store *memStore) *gin.Engine {
	cfg := &config.Config{
		Inference: config.InferenceConfig{
			DefaultMaxTokens:   512,
			DefaultTemperature: 0.7,
			DefaultTopP:        0.9,
			DefaultTopK:        50,
			MaxPromptLength:    4096,
		},
		Security: config.SecurityConfig{MaxUploadBytes: 1024 * 1024},
	}
	logger := zap.NewNop()
	chatService := service.NewChatService(cfg, llm, store, logger)
	fileService := service.NewFileService(cfg, store, logger)
	return SetupRouter(chatService, store, fileService, llm, RouterConfig{
		ModelName:    "terraform-codellama",
		DefaultTopK:  3,
		AllowOrigins: []string{"*"},
	})
}

// closeNotifyRecorder adds the http.CloseNotifier method gin's c.Stream
// requires, which httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(&closeNotifyRecorder{w}, req)
	return w
}

func TestHealthHealthy(t *testing.T) {
	router := testRouter(&stubLLM{healthy: true}, newMemStore())
	w := doJSON(t, router, http.MethodGet, "/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "healthy" || body["backend_connected"] != true || body["rag_initialized"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	router := testRouter(&stubLLM{healthy: false}, newMemStore())
	w := doJSON(t, router, http.MethodGet, "/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("health must stay 200, got %d", w.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "degraded" || body["backend_connected"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestErrorStatusTable(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		status int
	}{
		{domain.ErrValidation, "validation", 400},
		{domain.ErrUnsupportedFormat, "unsupported_format", 400},
		{domain.ErrExtraction, "extraction_failed", 400},
		{domain.ErrUnauthorized, "unauthorized", 401},
		{domain.ErrForbidden, "forbidden", 403},
		{domain.ErrNotFound, "not_found", 404},
		{domain.ErrConflict, "conflict", 409},
		{domain.ErrBackendUnavailable, "backend_unavailable", 503},
		{domain.ErrTimeout, "timeout", 504},
		{errors.New("anything else"), "internal_error", 500},
	}
	for _, tt := range tests {
		kind, status := ErrorStatus(fmt.Errorf("wrapped: %w", tt.err))
		if kind != tt.kind || status != tt.status {
			t.Errorf("ErrorStatus(%v) = %q/%d, want %q/%d", tt.err, kind, status, tt.kind, tt.status)
		}
	}
}

func TestModels(t *testing.T) {
	router := testRouter(&stubLLM{healthy: true}, newMemStore())
	w := doJSON(t, router, http.MethodGet, "/v1/models", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Object string                `json:"object"`
		Data   []inference.ModelInfo `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Object != "list" || len(body.Data) != 1 || body.Data[0].ID != "terraform-codellama" {
		t.Errorf("body = %+v", body)
	}
}

func TestChatCompletions(t *testing.T) {
	llm := &stubLLM{result: &inference.Result{Content: "use cidr_block", PromptTokens: 7, CompletionTokens: 3, FinishReason: "stop"}}
	router := testRouter(llm, newMemStore())

	w := doJSON(t, router, http.MethodPost, "/v1/chat/completions", gin.H{
		"messages": []gin.H{{"role": "user", "content": "how do I set the CIDR?"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if !strings.HasPrefix(body.ID, "chatcmpl-") || body.Object != "chat.completion" {
		t.Errorf("envelope = %+v", body)
	}
	if body.Choices[0].Message.Content != "use cidr_block" || body.Choices[0].Message.Role != "assistant" {
		t.Errorf("choice = %+v", body.Choices[0])
	}
	if body.Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", body.Usage)
	}
}

func TestChatCompletionsValidationError(t *testing.T) {
	router := testRouter(&stubLLM{}, newMemStore())
	w := doJSON(t, router, http.MethodPost, "/v1/chat/completions", gin.H{"messages": []gin.H{}})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["error_kind"] != "validation" {
		t.Errorf("body = %v", body)
	}
}

func TestChatCompletionsBackendDown(t *testing.T) {
	llm := &stubLLM{err: fmt.Errorf("%w: refused", domain.ErrBackendUnavailable)}
	router := testRouter(llm, newMemStore())

	w := doJSON(t, router, http.MethodPost, "/v1/chat/completions", gin.H{
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["error_kind"] != "backend_unavailable" {
		t.Errorf("body = %v", body)
	}
}

func TestChatCompletionsStream(t *testing.T) {
	llm := &stubLLM{fragments: []inference.Fragment{
		{Text: "resource "},
		{Text: `"aws_vpc"`},
		{Done: true},
	}}
	router := testRouter(llm, newMemStore())

	w := doJSON(t, router, http.MethodPost, "/v1/chat/completions", gin.H{
		"messages": []gin.H{{"role": "user", "content": "generate a vpc"}},
		"stream":   true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}

	raw := w.Body.String()
	if !strings.HasSuffix(strings.TrimSpace(raw), "data: [DONE]") {
		t.Errorf("stream must end with [DONE]:\n%s", raw)
	}

	var text string
	var sawFinish bool
	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(line, "data: ") || line == "data: [DONE]" {
			continue
		}
		var chunk struct {
			Object  string `json:"object"`
			Choices []struct {
				Delta        map[string]string `json:"delta"`
				FinishReason *string           `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", line, err)
		}
		if chunk.Object != "chat.completion.chunk" {
			t.Errorf("chunk object = %q", chunk.Object)
		}
		text += chunk.Choices[0].Delta["content"]
		if chunk.Choices[0].FinishReason != nil && *chunk.Choices[0].FinishReason == "stop" {
			sawFinish = true
		}
	}
	if text != `resource "aws_vpc"` {
		t.Errorf("streamed text = %q", text)
	}
	if !sawFinish {
		t.Error("no finish_reason=stop chunk before [DONE]")
	}
}

func TestChatCompletionsStreamError(t *testing.T) {
	llm := &stubLLM{fragments: []inference.Fragment{
		{Text: "partial"},
		{Done: true, Err: fmt.Errorf("%w: backend dropped", domain.ErrBackendUnavailable)},
	}}
	router := testRouter(llm, newMemStore())

	w := doJSON(t, router, http.MethodPost, "/v1/chat/completions", gin.H{
		"messages": []gin.H{{"role": "user", "content": "generate"}},
		"stream":   true,
	})
	raw := w.Body.String()
	if strings.Contains(raw, "[DONE]") {
		t.Errorf("failed stream must not emit [DONE]:\n%s", raw)
	}
	if !strings.Contains(raw, `"error"`) {
		t.Errorf("no error event in stream:\n%s", raw)
	}
}

func TestRAGDocumentLifecycle(t *testing.T) {
	router := testRouter(&stubLLM{}, newMemStore())

	w := doJSON(t, router, http.MethodPost, "/v1/rag/documents", gin.H{
		"text":     "subnet sizing notes",
		"metadata": gin.H{"source": "wiki"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}
	var added map[string]string
	json.Unmarshal(w.Body.Bytes(), &added)
	id := added["id"]
	if id == "" || added["status"] != "added" {
		t.Fatalf("add body = %v", added)
	}

	w = doJSON(t, router, http.MethodGet, "/v1/rag/documents/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/v1/rag/documents/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/v1/rag/documents/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["error_kind"] != "not_found" {
		t.Errorf("body = %v", body)
	}
}

func TestRAGAddRequiresText(t *testing.T) {
	router := testRouter(&stubLLM{}, newMemStore())
	w := doJSON(t, router, http.MethodPost, "/v1/rag/documents", gin.H{"metadata": gin.H{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRAGQueryNegativeTopK(t *testing.T) {
	router := testRouter(&stubLLM{}, newMemStore())
	w := doJSON(t, router, http.MethodPost, "/v1/rag/query", gin.H{"query": "vpc", "top_k": -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestRAGStats(t *testing.T) {
	store := newMemStore()
	store.AddWithID(context.Background(), "a", "doc", nil)
	router := testRouter(&stubLLM{}, store)

	w := doJSON(t, router, http.MethodGet, "/v1/rag/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		TotalDocuments int    `json:"total_documents"`
		CollectionName string `json:"collection_name"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.TotalDocuments != 1 || body.CollectionName != "test-docs" {
		t.Errorf("body = %+v", body)
	}
}

func TestFileUploadAndList(t *testing.T) {
	store := newMemStore()
	router := testRouter(&stubLLM{}, store)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "main.tf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte(`resource "aws_vpc" "main" {}`))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var uploaded struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
		StoredIn bool   `json:"stored_in_rag"`
	}
	json.Unmarshal(w.Body.Bytes(), &uploaded)
	if uploaded.Filename != "main.tf" || !uploaded.StoredIn {
		t.Errorf("upload body = %s", w.Body.String())
	}

	// Plain documents share the store but are not uploads; the listing
	// must not count them.
	store.Add(context.Background(), "subnet sizing notes", map[string]interface{}{"source": "wiki"})
	store.Add(context.Background(), "vpc peering guide", nil)

	lw := doJSON(t, router, http.MethodGet, "/v1/files", nil)
	if lw.Code != http.StatusOK {
		t.Fatalf("list status = %d", lw.Code)
	}
	var listed struct {
		Files []struct {
			Filename string `json:"filename"`
		} `json:"files"`
		Total int `json:"total"`
	}
	json.Unmarshal(lw.Body.Bytes(), &listed)
	if listed.Total != 1 {
		t.Errorf("list body = %s", lw.Body.String())
	}
	if len(listed.Files) != 1 || listed.Files[0].Filename != "main.tf" {
		t.Errorf("list body = %s", lw.Body.String())
	}
}

func TestFileUploadUnsupportedFormat(t *testing.T) {
	router := testRouter(&stubLLM{}, newMemStore())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "archive.tar.gz")
	part.Write([]byte("binary"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["error_kind"] != "unsupported_format" {
		t.Errorf("body = %v", body)
	}
}
