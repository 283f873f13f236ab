package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/internal/config"
	"github.com/maverick/chatbot/server/internal/wiring"
	"github.com/maverick/chatbot/server/usecase/rag"
)

// ingest loads docs/<roleId>/*.txt into the configured vector store
func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CHATBOT_CONFIG"), "path to config.yaml")
	docsDir := flag.String("docs", "", "knowledge directory, overrides rag.docs_dir")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *docsDir != "" {
		cfg.RAG.DocsDir = *docsDir
	}
	if cfg.VectorStore.Vendor == "memory" {
		logger.Fatal("vector_store.vendor is memory, nothing would persist; the server ingests on startup in that mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder, err := wiring.Embedder(ctx, cfg.Embedding, cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to initialize embedding model", zap.Error(err))
	}
	store, err := wiring.VectorStore(cfg.VectorStore, logger)
	if err != nil {
		logger.Fatal("Failed to initialize vector store", zap.Error(err))
	}

	ingester := rag.NewIngester(embedder, store, logger)
	ingester.SetSegmenting(cfg.RAG.SegmentMaxChars, cfg.RAG.SegmentOverlap)

	report, err := ingester.IngestDir(ctx, cfg.RAG.DocsDir)
	if err != nil {
		logger.Fatal("Ingestion failed", zap.String("dir", cfg.RAG.DocsDir), zap.Error(err))
	}

	logger.Info("Ingestion finished",
		zap.String("dir", cfg.RAG.DocsDir),
		zap.String("collection", cfg.VectorStore.Collection),
		zap.Int("roles", report.Roles),
		zap.Int("files", report.Files),
		zap.Int("segments", report.Segments))
}
