package tts

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/repositories"
)

// MockTTS returns a deterministic fake payload for development
type MockTTS struct {
	logger *zap.Logger
}

// Ensure MockTTS implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*MockTTS)(nil)

// NewMockTTS creates a new mock TTS
func NewMockTTS(logger *zap.Logger) *MockTTS {
	return &MockTTS{logger: logger}
}

// Synthesize returns "<voice>:<text>" as bytes
func (m *MockTTS) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	m.logger.Debug("Mock synthesis", zap.String("voice", voice), zap.Int("textLength", len(text)))
	return []byte(voice + ":" + text), nil
}
