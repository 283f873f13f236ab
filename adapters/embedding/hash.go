package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/maverick/chatbot/server/domain/repositories"
)

// HashEmbedding is a deterministic offline embedding: character unigrams and
// bigrams hashed into a fixed number of buckets and L2 normalised. Texts
// sharing many characters score high, which is enough for development.
type HashEmbedding struct {
	dimensions int
}

// Ensure HashEmbedding implements the EmbeddingModel interface
var _ repositories.EmbeddingModel = (*HashEmbedding)(nil)

// NewHashEmbedding creates a hash embedding with dimensions buckets
func NewHashEmbedding(dimensions int) *HashEmbedding {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashEmbedding{dimensions: dimensions}
}

// Embed implements repositories.EmbeddingModel
func (h *HashEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	vector := make([]float32, h.dimensions)
	runes := []rune(strings.ToLower(text))

	add := func(token string) {
		f := fnv.New32a()
		f.Write([]byte(token))
		vector[f.Sum32()%uint32(h.dimensions)]++
	}
	for i, r := range runes {
		if r == ' ' {
			continue
		}
		add(string(r))
		if i+1 < len(runes) && runes[i+1] != ' ' {
			add(string(runes[i : i+2]))
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vector, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}
	return vector, nil
}
