package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
)

// ChromaStore is an EmbeddingStore backed by a Chroma collection over its
// REST API. The collection id is resolved lazily from its name.
type ChromaStore struct {
	baseURL    string
	collection string
	httpClient *http.Client
	logger     *zap.Logger

	mu           sync.Mutex
	collectionID string
}

// Ensure ChromaStore implements the EmbeddingStore interface
var _ repositories.EmbeddingStore = (*ChromaStore)(nil)

// NewChromaStore creates a new Chroma client for the named collection
func NewChromaStore(baseURL, collection string, timeout time.Duration, logger *zap.Logger) (*ChromaStore, error) {
	if baseURL == "" || collection == "" {
		return nil, fmt.Errorf("chroma base url and collection are required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChromaStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]*string        `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

type chromaAddRequest struct {
	IDs        []string            `json:"ids"`
	Embeddings [][]float32         `json:"embeddings"`
	Documents  []string            `json:"documents"`
	Metadatas  []map[string]string `json:"metadatas"`
}

// Search implements repositories.EmbeddingStore. Chroma returns distances;
// they are mapped to scores as 1 - distance.
func (c *ChromaStore) Search(ctx context.Context, vector []float32, maxResults int, minScore float64) ([]entities.RetrievedSegment, error) {
	if maxResults <= 0 {
		return []entities.RetrievedSegment{}, nil
	}
	id, err := c.resolveCollection(ctx, false)
	if err != nil {
		return nil, err
	}

	var resp chromaQueryResponse
	err = c.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/query", chromaQueryRequest{
		QueryEmbeddings: [][]float32{vector},
		NResults:        maxResults,
		Include:         []string{"documents", "metadatas", "distances"},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	segments := []entities.RetrievedSegment{}
	if len(resp.IDs) == 0 {
		return segments, nil
	}
	for i, segID := range resp.IDs[0] {
		score := 1.0
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			score = 1 - resp.Distances[0][i]
		}
		if score < minScore {
			continue
		}

		segment := entities.RetrievedSegment{ID: segID, Score: score, Metadata: map[string]string{}}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			segment.Text = *resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			for k, v := range resp.Metadatas[0][i] {
				segment.Metadata[k] = fmt.Sprint(v)
			}
		}
		segments = append(segments, segment)
	}
	return segments, nil
}

// Add implements repositories.EmbeddingStore, creating the collection when
// it does not exist yet
func (c *ChromaStore) Add(ctx context.Context, segments []repositories.EmbeddedSegment) error {
	if len(segments) == 0 {
		return nil
	}
	id, err := c.resolveCollection(ctx, true)
	if err != nil {
		return err
	}

	req := chromaAddRequest{}
	for _, s := range segments {
		req.IDs = append(req.IDs, s.ID)
		req.Embeddings = append(req.Embeddings, s.Vector)
		req.Documents = append(req.Documents, s.Text)
		req.Metadatas = append(req.Metadatas, s.Metadata)
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/add", req, nil); err != nil {
		return fmt.Errorf("failed to add segments: %w", err)
	}

	c.logger.Debug("Added segments to collection",
		zap.String("collection", c.collection),
		zap.Int("count", len(segments)))
	return nil
}

func (c *ChromaStore) resolveCollection(ctx context.Context, create bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.collectionID != "" {
		return c.collectionID, nil
	}

	var col chromaCollection
	var err error
	if create {
		err = c.do(ctx, http.MethodPost, "/api/v1/collections", map[string]any{
			"name":          c.collection,
			"get_or_create": true,
			"metadata":      map[string]string{"hnsw:space": "cosine"},
		}, &col)
	} else {
		err = c.do(ctx, http.MethodGet, "/api/v1/collections/"+url.PathEscape(c.collection), nil, &col)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve collection %s: %w", c.collection, err)
	}
	if col.ID == "" {
		return "", fmt.Errorf("collection %s has no id", c.collection)
	}

	c.collectionID = col.ID
	c.logger.Info("Resolved vector collection",
		zap.String("collection", c.collection),
		zap.String("id", col.ID))
	return col.ID, nil
}

func (c *ChromaStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("chroma returned error %d: %s", resp.StatusCode, string(errorBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
