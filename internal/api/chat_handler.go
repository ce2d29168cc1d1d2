package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/inference"
	"github.com/infrapilot/infrapilot/internal/service"
)

// ChatHandler serves the OpenAI-compatible chat surface.
type ChatHandler struct {
	chat  *service.ChatService
	llm   inference.Client
	model string
}

// NewChatHandler creates a chat handler.
func NewChatHandler(chat *service.ChatService, llm inference.Client, model string) *ChatHandler {
	return &ChatHandler{chat: chat, llm: llm, model: model}
}

// RegisterRoutes registers chat routes
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/models", h.Models)
	r.POST("/chat/completions", h.Completions)
}

// Models returns the configured model's info in OpenAI list shape.
func (h *ChatHandler) Models(c *gin.Context) {
	info, err := h.llm.ModelInfo(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   []inference.ModelInfo{info},
	})
}

// Completions handles both buffered and streamed chat completions.
func (h *ChatHandler) Completions(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	if req.Stream {
		h.streamCompletion(c, &req)
		return
	}

	result, err := h.chat.Chat(c.Request.Context(), &req)
	if err != nil {
		RespondError(c, err)
		return
	}

	now := time.Now().Unix()
	c.JSON(http.StatusOK, gin.H{
		"id":      fmt.Sprintf("chatcmpl-%d", now),
		"object":  "chat.completion",
		"created": now,
		"model":   h.model,
		"choices": []gin.H{{
			"index": 0,
			"message": gin.H{
				"role":    "assistant",
				"content": result.Content,
			},
			"finish_reason": result.FinishReason,
		}},
		"usage": gin.H{
			"prompt_tokens":     result.PromptTokens,
			"completion_tokens": result.CompletionTokens,
			"total_tokens":      result.PromptTokens + result.CompletionTokens,
		},
	})
}

func (h *ChatHandler) streamCompletion(c *gin.Context, req *domain.ChatRequest) {
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
			h.writeChunk(w, "", "stop")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return false
		}
		h.writeChunk(w, event.Delta, "")
		return true
	})
}

func (h *ChatHandler) writeChunk(w io.Writer, delta, finishReason string) {
	now := time.Now().Unix()
	deltaBody := gin.H{}
	if delta != "" {
		deltaBody["content"] = delta
	}
	var finish interface{}
	if finishReason != "" {
		finish = finishReason
	}
	chunk := gin.H{
		"id":      fmt.Sprintf("chatcmpl-%d", now),
		"object":  "chat.completion.chunk",
		"created": now,
		"model":   h.model,
		"choices": []gin.H{{
			"index":         0,
			"delta":         deltaBody,
			"finish_reason": finish,
		}},
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
}

func writeSSEError(w io.Writer, err error) {
	data, _ := json.Marshal(gin.H{"error": err.Error()})
	fmt.Fprintf(w, "data: %s\n\n", data)
}
