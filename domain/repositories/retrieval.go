package repositories

import (
	"context"

	"github.com/maverick/chatbot/server/domain/entities"
)

// EmbeddingModel turns text into a dense vector
type EmbeddingModel interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddedSegment is a segment ready to be written to a store
type EmbeddedSegment struct {
	ID       string
	Text     string
	Metadata map[string]string
	Vector   []float32
}

// EmbeddingStore is a similarity index over embedded segments
type EmbeddingStore interface {
	// Search returns at most maxResults segments scoring at least minScore,
	// best match first.
	Search(ctx context.Context, vector []float32, maxResults int, minScore float64) ([]entities.RetrievedSegment, error)
	Add(ctx context.Context, segments []EmbeddedSegment) error
}
