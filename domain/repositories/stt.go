package repositories

import "context"

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// Transcribe converts one complete utterance to text. The filename is a
	// hint for the container format (e.g. "turn.wav").
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}
