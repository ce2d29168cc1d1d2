package domain

import "fmt"

// Attachment is a file sent inline with a chat message. Content is
// base64-encoded on the wire and decoded once by the orchestrator.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	MimeType string `json:"mime_type"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ChatRequest is an OpenAI-style chat completion request. Pointer fields
// distinguish "absent" from zero so defaults can be applied downstream.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	TopK        *int          `json:"top_k,omitempty"`
	Stream      bool          `json:"stream"`

	// RetrieveTopK > 0 asks the orchestrator to augment the prompt with
	// retrieved context before dispatching.
	RetrieveTopK int `json:"-"`
}

// Validate checks request fields against their allowed ranges.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrValidation)
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "user", "assistant", "system":
		default:
			return fmt.Errorf("%w: messages[%d].role %q is not one of user, assistant, system", ErrValidation, i, m.Role)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be in [0, 2]", ErrValidation)
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrValidation)
	}
	if r.TopP != nil && (*r.TopP <= 0 || *r.TopP > 1) {
		return fmt.Errorf("%w: top_p must be in (0, 1]", ErrValidation)
	}
	if r.TopK != nil && *r.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive", ErrValidation)
	}
	return nil
}

// LastUserMessage returns the content of the most recent user turn.
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// CompletionResult is the terminal artifact of one orchestration call.
type CompletionResult struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	FinishReason     string `json:"finish_reason"`
}

// StreamEvent is one element of a streaming completion. A terminal event
// carries Done=true; a failed stream carries Err on its final event.
type StreamEvent struct {
	Delta string
	Done  bool
	Err   error
}
