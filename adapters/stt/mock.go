package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/repositories"
)

// MockSpeechToText treats the audio payload as UTF-8 text, which lets the
// voice pipeline be driven by plain strings in development
type MockSpeechToText struct {
	logger *zap.Logger
}

// Ensure MockSpeechToText implements the SpeechToText interface
var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// Transcribe returns the audio bytes as text
func (s *MockSpeechToText) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio data received")
	}
	s.logger.Info("Mock transcription", zap.String("filename", filename), zap.Int("bytes", len(audio)))
	return string(audio), nil
}
