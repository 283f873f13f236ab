package repositories

import (
	"context"

	"github.com/maverick/chatbot/server/domain/entities"
)

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// Complete sends the ordered messages and returns the model's reply
	Complete(ctx context.Context, messages []ChatMessage) (Completion, error)
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completion is a model reply with the segments it was grounded on, if any
type Completion struct {
	Text    string                      `json:"text"`
	Sources []entities.RetrievedSegment `json:"sources,omitempty"`
}

// Role defines the type of message sender
type Role string

const (
	SystemRole    Role = "system"
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
)

// SystemMessage builds a system instruction message
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: SystemRole, Content: content}
}

// UserMessage builds a user message
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: UserRole, Content: content}
}
