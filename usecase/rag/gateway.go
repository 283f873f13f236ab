package rag

import (
	"context"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain"
	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
)

// Gateway wraps the similarity search with role scoping
type Gateway struct {
	embedder repositories.EmbeddingModel
	store    repositories.EmbeddingStore
	logger   *zap.Logger
}

// NewGateway creates a new retrieval gateway
func NewGateway(embedder repositories.EmbeddingModel, store repositories.EmbeddingStore, logger *zap.Logger) *Gateway {
	return &Gateway{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// SearchByRole returns segments owned by roleID in relevance order. An empty
// roleID disables the filter. The result is never nil on success.
func (g *Gateway) SearchByRole(ctx context.Context, query, roleID string, maxResults int, minScore float64) ([]entities.RetrievedSegment, error) {
	matches, err := g.search(ctx, query, maxResults, minScore)
	if err != nil {
		return nil, err
	}

	segments := make([]entities.RetrievedSegment, 0, len(matches))
	for _, m := range matches {
		if roleID == "" || m.RoleID() == roleID {
			segments = append(segments, m)
		}
	}

	g.logger.Debug("Role scoped search",
		zap.String("roleId", roleID),
		zap.Int("matches", len(matches)),
		zap.Int("kept", len(segments)))

	return segments, nil
}

// FindBestRoleID returns the role of the first match carrying one
func (g *Gateway) FindBestRoleID(ctx context.Context, query string, maxResults int, minScore float64) (string, bool, error) {
	matches, err := g.search(ctx, query, maxResults, minScore)
	if err != nil {
		return "", false, err
	}

	for _, m := range matches {
		if roleID := m.RoleID(); roleID != "" {
			return roleID, true, nil
		}
	}
	return "", false, nil
}

func (g *Gateway) search(ctx context.Context, query string, maxResults int, minScore float64) ([]entities.RetrievedSegment, error) {
	vector, err := g.embedder.Embed(ctx, Normalize(query))
	if err != nil {
		return nil, domain.NewUpstreamError("embedding", err)
	}

	matches, err := g.store.Search(ctx, vector, maxResults, minScore)
	if err != nil {
		return nil, domain.NewUpstreamError("vector store", err)
	}
	return matches, nil
}
