// Package prompt combines chat history, retrieved context, and attachment
// text into one model-ready prompt under a fixed length budget.
package prompt

import (
	"fmt"
	"strings"

	"github.com/infrapilot/infrapilot/internal/domain"
)

// DefaultPreamble is prepended when the caller supplies none.
const DefaultPreamble = "You are InfraPilot, an infrastructure assistant. Answer precisely and cite retrieved context when it is relevant."

// ContextDocument is one retrieved record to be folded into the prompt.
type ContextDocument struct {
	Text   string
	Source string
}

// AttachmentText is extracted attachment content tagged with its filename.
type AttachmentText struct {
	Filename string
	Text     string
}

// Input carries everything Assemble folds into a prompt. MaxLength is a
// budget in runes; zero or negative means unbounded.
type Input struct {
	Preamble    string
	Documents   []ContextDocument
	Attachments []AttachmentText
	Messages    []domain.ChatMessage
	MaxLength   int
}

// Assemble renders the prompt in fixed section order: preamble, retrieved
// context, attachments, then message history. When the result would exceed
// MaxLength it drops the oldest history first, then the earliest documents.
// The preamble and the most recent turn survive truncation; only when that
// skeleton alone is over budget is the output hard-cut.
func Assemble(in Input) string {
	preamble := in.Preamble
	if preamble == "" {
		preamble = DefaultPreamble
	}

	docs := in.Documents
	messages := in.Messages

	out := render(preamble, docs, in.Attachments, messages)
	if in.MaxLength <= 0 {
		return out
	}

	// Oldest history goes first. The final turn is never dropped.
	for len([]rune(out)) > in.MaxLength && len(messages) > 1 {
		messages = messages[1:]
		out = render(preamble, docs, in.Attachments, messages)
	}

	// Then the earliest retrieved documents.
	for len([]rune(out)) > in.MaxLength && len(docs) > 0 {
		docs = docs[1:]
		out = render(preamble, docs, in.Attachments, messages)
	}

	if runes := []rune(out); len(runes) > in.MaxLength {
		out = string(runes[:in.MaxLength])
	}
	return out
}

func render(preamble string, docs []ContextDocument, attachments []AttachmentText, messages []domain.ChatMessage) string {
	var b strings.Builder

	b.WriteString(preamble)
	b.WriteString("\n\n")

	if len(docs) > 0 {
		b.WriteString("Retrieved Context:\n")
		for i, doc := range docs {
			fmt.Fprintf(&b, "[%d] %s", i+1, doc.Text)
			if doc.Source != "" {
				fmt.Fprintf(&b, " (source: %s)", doc.Source)
			}
			b.WriteByte('\n')
		}
		b.WriteString("\nBased on the above context, please answer the following:\n\n")
	}

	for _, att := range attachments {
		fmt.Fprintf(&b, "Attachment %s:\n%s\n\n", att.Filename, att.Text)
	}

	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	return strings.TrimRight(b.String(), "\n")
}
