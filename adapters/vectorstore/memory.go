package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
)

// MemoryStore is an in-process EmbeddingStore scoring by cosine similarity
type MemoryStore struct {
	mu       sync.RWMutex
	segments []repositories.EmbeddedSegment
}

// Ensure MemoryStore implements the EmbeddingStore interface
var _ repositories.EmbeddingStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add implements repositories.EmbeddingStore. Segments with an existing id
// replace the stored one.
func (m *MemoryStore) Add(ctx context.Context, segments []repositories.EmbeddedSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range segments {
		replaced := false
		for i := range m.segments {
			if s.ID != "" && m.segments[i].ID == s.ID {
				m.segments[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			m.segments = append(m.segments, s)
		}
	}
	return nil
}

// Search implements repositories.EmbeddingStore
func (m *MemoryStore) Search(ctx context.Context, vector []float32, maxResults int, minScore float64) ([]entities.RetrievedSegment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := []entities.RetrievedSegment{}
	for _, s := range m.segments {
		score := cosineSimilarity(vector, s.Vector)
		if score < minScore {
			continue
		}
		metadata := make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			metadata[k] = v
		}
		results = append(results, entities.RetrievedSegment{
			ID:       s.ID,
			Text:     s.Text,
			Metadata: metadata,
			Score:    score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if maxResults >= 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// Len returns the number of stored segments
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.segments)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
