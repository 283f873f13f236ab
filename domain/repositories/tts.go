package repositories

import "context"

// TextToSpeech abstracts speech synthesis services
type TextToSpeech interface {
	// Synthesize returns the complete encoded audio for text. An empty voice
	// selects the vendor default.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}
