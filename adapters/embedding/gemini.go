package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/maverick/chatbot/server/domain/repositories"
)

const defaultGeminiModel = "text-embedding-004"

// GeminiEmbedding embeds text with the Gemini embedding API
type GeminiEmbedding struct {
	client     *genai.Client
	model      string
	dimensions int32
	logger     *zap.Logger
}

// Ensure GeminiEmbedding implements the EmbeddingModel interface
var _ repositories.EmbeddingModel = (*GeminiEmbedding)(nil)

// NewGeminiEmbedding creates a new Gemini embedding model. Zero dimensions
// keeps the model default.
func NewGeminiEmbedding(client *genai.Client, model string, dimensions int, logger *zap.Logger) *GeminiEmbedding {
	if model == "" {
		model = defaultGeminiModel
		logger.Info("Using default embedding model", zap.String("model", model))
	}
	return &GeminiEmbedding{
		client:     client,
		model:      model,
		dimensions: int32(dimensions),
		logger:     logger,
	}
}

// Embed implements repositories.EmbeddingModel
func (g *GeminiEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_QUERY"}
	if g.dimensions > 0 {
		config.OutputDimensionality = genai.Ptr(g.dimensions)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}, config)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}
	return resp.Embeddings[0].Values, nil
}
