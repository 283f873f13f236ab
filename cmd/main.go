package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/adapters/roles"
	"github.com/maverick/chatbot/server/internal/api"
	"github.com/maverick/chatbot/server/internal/auth"
	"github.com/maverick/chatbot/server/internal/config"
	"github.com/maverick/chatbot/server/internal/metrics"
	"github.com/maverick/chatbot/server/internal/websocket"
	"github.com/maverick/chatbot/server/internal/wiring"
	"github.com/maverick/chatbot/server/usecase"
	"github.com/maverick/chatbot/server/usecase/conversation"
	"github.com/maverick/chatbot/server/usecase/rag"
)

func main() {
	// Load environment variables from .env file if it exists
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CHATBOT_CONFIG"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not configured yet
		panic(err)
	}

	// Initialize logger
	var logger *zap.Logger
	if cfg.IsDevelopment() {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// Initialize adapters
	chatModel, err := wiring.LLM(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM", zap.Error(err))
	}
	embedder, err := wiring.Embedder(ctx, cfg.Embedding, cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to initialize embedding model", zap.Error(err))
	}
	store, err := wiring.VectorStore(cfg.VectorStore, logger)
	if err != nil {
		logger.Fatal("Failed to initialize vector store", zap.Error(err))
	}
	speechToText, closeSTT, err := wiring.SpeechToText(ctx, cfg.ASR, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech recognition", zap.Error(err))
	}
	textToSpeech, err := wiring.TextToSpeech(cfg.TTS, m, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech synthesis", zap.Error(err))
	}
	sessions, closeStore, err := wiring.SessionStore(ctx, cfg.SessionStore, logger)
	if err != nil {
		logger.Fatal("Failed to initialize session store", zap.Error(err))
	}

	roleRegistry, err := roles.LoadFile(cfg.Roles.File)
	if err != nil {
		logger.Fatal("Failed to load roles", zap.String("file", cfg.Roles.File), zap.Error(err))
	}
	logger.Info("Roles loaded", zap.Strings("roles", roleRegistry.IDs()))

	templates, err := conversation.LoadTemplates(cfg.Prompts.SystemTemplateFile, cfg.Prompts.TransferTemplateFile)
	if err != nil {
		logger.Fatal("Failed to load prompt templates", zap.Error(err))
	}

	// Seed the in-memory store so retrieval works without an external database
	if cfg.VectorStore.Vendor == "memory" && cfg.RAG.DocsDir != "" {
		ingester := rag.NewIngester(embedder, store, logger)
		ingester.SetSegmenting(cfg.RAG.SegmentMaxChars, cfg.RAG.SegmentOverlap)
		if report, err := ingester.IngestDir(ctx, cfg.RAG.DocsDir); err != nil {
			logger.Warn("Knowledge ingestion skipped", zap.Error(err))
		} else {
			logger.Info("Knowledge ingested",
				zap.Int("roles", report.Roles),
				zap.Int("files", report.Files),
				zap.Int("segments", report.Segments))
		}
	}

	// Initialize usecase services
	opts := conversation.DefaultOptions()
	opts.PrimaryMaxResults = cfg.RAG.PrimaryMaxResults
	opts.EscalationMaxResults = cfg.RAG.EscalationMaxResults
	opts.MinScore = cfg.RAG.MinScore
	opts.MaxFewShot = cfg.RAG.MaxFewShot
	opts.Templates = templates
	opts.DebugPrompts = cfg.LLM.DebugPrompt
	opts.DebugMaxLogLen = cfg.LLM.DebugMaxLogLen
	opts.Recorder = m

	retriever := rag.NewGateway(embedder, store, logger)
	orchestrator := conversation.NewOrchestrator(chatModel, retriever, roleRegistry, logger, opts)

	voiceService := usecase.NewVoiceService(speechToText, textToSpeech, orchestrator, roleRegistry, sessions, logger)
	voiceService.SetObserver(m)
	voiceService.SetDefaultRole(cfg.Roles.DefaultRoleID)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("auth.jwt_secret not set, tokens will not survive a restart")
	}
	issuer, err := auth.NewTokenIssuer(secret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
	if err != nil {
		logger.Fatal("Failed to initialize token issuer", zap.Error(err))
	}

	// Initialize WebSocket hub with the voice service
	hub := websocket.NewHub(voiceService, cfg.HTTP.AllowedOrigins, logger)
	hub.SetObserver(m)
	go hub.Run(ctx)

	cleanup := websocket.NewSessionCleanupService(
		voiceService,
		time.Duration(cfg.SessionStore.CleanupIntervalSec)*time.Second,
		time.Duration(cfg.SessionStore.IdleTimeoutMinutes)*time.Minute,
		logger,
	)
	cleanup.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.HTTP.AllowedOrigins,
	}))

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		Service:     voiceService,
		Hub:         hub,
		Issuer:      issuer,
		Gatherer:    registry,
		Requests:    m,
		MaxUploadMB: cfg.HTTP.MaxUploadMB,
		Logger:      logger,
	})

	// Graceful shutdown
	go func() {
		if err := e.Start(cfg.HTTP.Addr()); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", cfg.HTTP.Addr()),
		zap.String("llm", cfg.LLM.Vendor),
		zap.String("asr", cfg.ASR.Vendor),
		zap.String("tts", cfg.TTS.Vendor),
		zap.String("sessionStore", cfg.SessionStore.Vendor))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	cancel()
	cleanup.Stop()

	if err := closeSTT(shutdownCtx); err != nil {
		logger.Error("Failed to close speech recognition", zap.Error(err))
	}
	if err := closeStore(shutdownCtx); err != nil {
		logger.Error("Failed to close session store", zap.Error(err))
	}

	logger.Info("Server exited")
}
