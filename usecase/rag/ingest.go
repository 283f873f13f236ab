package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
)

const (
	DefaultSegmentSize    = 1000
	DefaultSegmentOverlap = 200
)

// IngestReport summarises one ingestion run
type IngestReport struct {
	Roles    int
	Files    int
	Segments int
}

// Ingester loads per-role documents into the embedding store
type Ingester struct {
	embedder repositories.EmbeddingModel
	store    repositories.EmbeddingStore
	logger   *zap.Logger

	segmentSize int
	overlap     int
}

// NewIngester creates a new ingester with the default segment sizing
func NewIngester(embedder repositories.EmbeddingModel, store repositories.EmbeddingStore, logger *zap.Logger) *Ingester {
	return &Ingester{
		embedder:    embedder,
		store:       store,
		logger:      logger,
		segmentSize: DefaultSegmentSize,
		overlap:     DefaultSegmentOverlap,
	}
}

// SetSegmenting overrides segment size and overlap. Non-positive size keeps
// the default; overlap must stay below size.
func (i *Ingester) SetSegmenting(size, overlap int) {
	if size > 0 {
		i.segmentSize = size
	}
	if overlap >= 0 && overlap < i.segmentSize {
		i.overlap = overlap
	}
}

// IngestDir walks root/<roleId>/*.txt and writes every segment tagged with
// its role. Directories are processed in name order.
func (i *Ingester) IngestDir(ctx context.Context, root string) (IngestReport, error) {
	var report IngestReport

	entries, err := os.ReadDir(root)
	if err != nil {
		return report, fmt.Errorf("failed to read docs directory %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		roleID := entry.Name()

		files, err := filepath.Glob(filepath.Join(root, roleID, "*.txt"))
		if err != nil {
			return report, fmt.Errorf("failed to list documents for role %s: %w", roleID, err)
		}
		if len(files) == 0 {
			continue
		}
		sort.Strings(files)

		for _, path := range files {
			n, err := i.ingestFile(ctx, roleID, path)
			if err != nil {
				return report, err
			}
			report.Files++
			report.Segments += n
		}
		report.Roles++

		i.logger.Info("Ingested role",
			zap.String("roleId", roleID),
			zap.Int("files", len(files)))
	}

	return report, nil
}

func (i *Ingester) ingestFile(ctx context.Context, roleID, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	fileName := filepath.Base(path)
	chunks := SplitParagraphs(string(raw), i.segmentSize, i.overlap)

	segments := make([]repositories.EmbeddedSegment, 0, len(chunks))
	for _, chunk := range chunks {
		text := fileName + "\n" + chunk
		vector, err := i.embedder.Embed(ctx, text)
		if err != nil {
			return 0, fmt.Errorf("failed to embed segment of %s: %w", path, err)
		}
		segments = append(segments, repositories.EmbeddedSegment{
			ID:   uuid.NewString(),
			Text: text,
			Metadata: map[string]string{
				entities.MetadataKeyRoleID:   roleID,
				entities.MetadataKeyFileName: fileName,
			},
			Vector: vector,
		})
	}

	if len(segments) == 0 {
		return 0, nil
	}
	if err := i.store.Add(ctx, segments); err != nil {
		return 0, fmt.Errorf("failed to store segments of %s: %w", path, err)
	}
	return len(segments), nil
}

// SplitParagraphs packs blank-line separated paragraphs into segments of at
// most maxChars runes. Consecutive segments share up to overlap trailing
// runes. Paragraphs longer than maxChars are cut hard.
func SplitParagraphs(text string, maxChars, overlap int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlap >= maxChars {
		overlap = maxChars / 2
	}

	var paragraphs []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	var (
		segments []string
		current  []rune
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		segments = append(segments, string(current))
		if overlap > 0 && len(current) > overlap {
			current = append([]rune(nil), current[len(current)-overlap:]...)
		} else {
			current = current[:0]
		}
	}

	for _, p := range paragraphs {
		runes := []rune(p)
		sep := 0
		if len(current) > 0 {
			sep = 2
		}
		if len(current)+sep+len(runes) <= maxChars {
			if sep > 0 {
				current = append(current, '\n', '\n')
			}
			current = append(current, runes...)
			continue
		}

		flush()
		for len(runes) > 0 {
			room := maxChars - len(current)
			if len(current) > 0 {
				room -= 2
			}
			if room <= 0 {
				segments = append(segments, string(current))
				current = current[:0]
				continue
			}
			take := room
			if take > len(runes) {
				take = len(runes)
			}
			if len(current) > 0 {
				current = append(current, '\n', '\n')
			}
			current = append(current, runes[:take]...)
			runes = runes[take:]
			if len(runes) > 0 {
				flush()
			}
		}
	}
	if len(current) > 0 {
		segments = append(segments, string(current))
	}
	return segments
}
