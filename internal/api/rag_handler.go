package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/service"
)

// RAGStore is the context-store surface the rag handler serves.
type RAGStore interface {
	Add(ctx context.Context, text string, metadata map[string]interface{}) (string, error)
	AddWithID(ctx context.Context, id, text string, metadata map[string]interface{}) (string, error)
	Get(ctx context.Context, id string) (*domain.Document, error)
	Update(ctx context.Context, id, text string, metadata map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]domain.Document, error)
	Query(ctx context.Context, text string, topK int) ([]domain.ScoredDocument, error)
	Count(ctx context.Context) (int, error)
	CollectionName() string
}

// RAGHandler serves document management and retrieval-augmented chat.
type RAGHandler struct {
	store       RAGStore
	chat        *service.ChatService
	defaultTopK int
}

// NewRAGHandler creates a rag handler.
func NewRAGHandler(store RAGStore, chat *service.ChatService, defaultTopK int) *RAGHandler {
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	return &RAGHandler{store: store, chat: chat, defaultTopK: defaultTopK}
}

// RegisterRoutes registers rag routes
func (h *RAGHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/documents", h.AddDocument)
	r.GET("/documents", h.ListDocuments)
	r.GET("/documents/:id", h.GetDocument)
	r.PUT("/documents/:id", h.UpdateDocument)
	r.DELETE("/documents/:id", h.DeleteDocument)
	r.POST("/query", h.Query)
	r.POST("/chat", h.Chat)
	r.GET("/stats", h.Stats)
}

type documentRequest struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// AddDocument stores a new document.
func (h *RAGHandler) AddDocument(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	if req.Text == "" {
		RespondError(c, fmt.Errorf("%w: text is required", domain.ErrValidation))
		return
	}

	var id string
	var err error
	if req.ID != "" {
		id, err = h.store.AddWithID(c.Request.Context(), req.ID, req.Text, req.Metadata)
	} else {
		id, err = h.store.Add(c.Request.Context(), req.Text, req.Metadata)
	}
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": "added"})
}

// ListDocuments pages through stored documents.
func (h *RAGHandler) ListDocuments(c *gin.Context) {
	limit := queryInt(c, "limit", 10)
	offset := queryInt(c, "offset", 0)

	docs, err := h.store.List(c.Request.Context(), limit, offset)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"limit":     limit,
		"offset":    offset,
	})
}

// GetDocument retrieves one document.
func (h *RAGHandler) GetDocument(c *gin.Context) {
	doc, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// UpdateDocument replaces a document's text and/or metadata.
func (h *RAGHandler) UpdateDocument(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	id := c.Param("id")
	if err := h.store.Update(c.Request.Context(), id, req.Text, req.Metadata); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "updated"})
}

// DeleteDocument removes a document.
func (h *RAGHandler) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "deleted"})
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Query runs a top-K similarity search.
func (h *RAGHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	if req.Query == "" {
		RespondError(c, fmt.Errorf("%w: query is required", domain.ErrValidation))
		return
	}
	if req.TopK < 0 {
		RespondError(c, fmt.Errorf("%w: top_k must be non-negative", domain.ErrValidation))
		return
	}
	topK := req.TopK
	if topK == 0 {
		topK = h.defaultTopK
	}

	results, err := h.store.Query(c.Request.Context(), req.Query, topK)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type ragChatRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	Stream      bool     `json:"stream"`
}

// Chat retrieves context for the query and runs a completion over it.
func (h *RAGHandler) Chat(c *gin.Context) {
	var req ragChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	if req.Query == "" {
		RespondError(c, fmt.Errorf("%w: query is required", domain.ErrValidation))
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = h.defaultTopK
	}

	chatReq := &domain.ChatRequest{
		Messages:     []domain.ChatMessage{{Role: "user", Content: req.Query}},
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Stream:       req.Stream,
		RetrieveTopK: topK,
	}

	if req.Stream {
		h.streamChat(c, chatReq)
		return
	}

	result, err := h.chat.Chat(c.Request.Context(), chatReq)
	if err != nil {
		RespondError(c, err)
		return
	}

	now := time.Now().Unix()
	c.JSON(http.StatusOK, gin.H{
		"id":      fmt.Sprintf("rag-%d", now),
		"object":  "rag.chat",
		"created": now,
		"content": result.Content,
		"usage": gin.H{
			"prompt_tokens":     result.PromptTokens,
			"completion_tokens": result.CompletionTokens,
			"total_tokens":      result.PromptTokens + result.CompletionTokens,
		},
	})
}

func (h *RAGHandler) streamChat(c *gin.Context, req *domain.ChatRequest) {
	events, err := h.chat.ChatStream(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err)
		return
	}

	setSSEHeaders(c)

	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			return false
		}
		if event.Err != nil {
			writeSSEError(w, event.Err)
			return false
		}
		if event.Done {
			fmt.Fprint(w, "data: [DONE]\n\n")
			return false
		}
		now := time.Now().Unix()
		chunk := gin.H{
			"id":      fmt.Sprintf("rag-%d", now),
			"object":  "rag.chat.chunk",
			"created": now,
			"delta":   gin.H{"content": event.Delta},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		return true
	})
}

// Stats reports collection size.
func (h *RAGHandler) Stats(c *gin.Context) {
	count, err := h.store.Count(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_documents": count,
		"collection_name": h.store.CollectionName(),
	})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
