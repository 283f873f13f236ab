package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/repositories"
)

// OpenAIEmbedding calls an OpenAI-compatible /embeddings endpoint, such as
// DashScope's text-embedding-v4
type OpenAIEmbedding struct {
	client     *openai.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

// Ensure OpenAIEmbedding implements the EmbeddingModel interface
var _ repositories.EmbeddingModel = (*OpenAIEmbedding)(nil)

// NewOpenAIEmbedding creates a new embeddings client
func NewOpenAIEmbedding(baseURL, apiKey, model string, dimensions int, logger *zap.Logger) (*OpenAIEmbedding, error) {
	if baseURL == "" || model == "" {
		return nil, fmt.Errorf("embedding base url and model are required")
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	config.HTTPClient = &http.Client{Timeout: 30 * time.Second}

	return &OpenAIEmbedding{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
		logger:     logger,
	}, nil
}

// Embed implements repositories.EmbeddingModel
func (o *OpenAIEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	response, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(o.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		Dimensions:     o.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(response.Data) == 0 || len(response.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}
	return response.Data[0].Embedding, nil
}
