package llm

import (
	"context"
	"strings"

	"github.com/maverick/chatbot/server/domain/repositories"
)

// MockLLM is a placeholder implementation for offline development. It
// echoes the quoted transition line for hand-over requests, declines
// everything else and lets rewrite and compaction fall back.
type MockLLM struct{}

// Ensure MockLLM implements the LargeLanguageModel interface
var _ repositories.LargeLanguageModel = (*MockLLM)(nil)

// NewMockLLM creates a new mock LLM
func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

// Complete implements repositories.LargeLanguageModel
func (m *MockLLM) Complete(ctx context.Context, messages []repositories.ChatMessage) (repositories.Completion, error) {
	if len(messages) == 0 {
		return repositories.Completion{}, nil
	}
	last := messages[len(messages)-1].Content

	if start := strings.Index(last, "“"); start >= 0 && strings.HasPrefix(last, "<user_request>") {
		rest := last[start+len("“"):]
		if end := strings.Index(rest, "”"); end >= 0 {
			return repositories.Completion{Text: rest[:end]}, nil
		}
	}
	if strings.Contains(last, "<user_question>") {
		return repositories.Completion{Text: "我不清楚。"}, nil
	}
	return repositories.Completion{}, nil
}
