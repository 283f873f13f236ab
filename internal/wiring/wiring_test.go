package wiring

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/maverick/chatbot/server/internal/config"
)

func TestDefaultConfigBuildsOffline(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	cfg := config.Default()

	if _, err := LLM(ctx, cfg.LLM, logger); err != nil {
		t.Errorf("Expected mock LLM, got %v", err)
	}
	if _, err := Embedder(ctx, cfg.Embedding, cfg.LLM, logger); err != nil {
		t.Errorf("Expected hash embedder, got %v", err)
	}
	if _, err := VectorStore(cfg.VectorStore, logger); err != nil {
		t.Errorf("Expected memory store, got %v", err)
	}
	if _, closeFn, err := SpeechToText(ctx, cfg.ASR, logger); err != nil {
		t.Errorf("Expected mock ASR, got %v", err)
	} else if err := closeFn(ctx); err != nil {
		t.Errorf("Expected no-op close, got %v", err)
	}
	if _, err := TextToSpeech(cfg.TTS, nil, logger); err != nil {
		t.Errorf("Expected mock TTS, got %v", err)
	}
	if _, _, err := SessionStore(ctx, cfg.SessionStore, logger); err != nil {
		t.Errorf("Expected memory session store, got %v", err)
	}
}

func TestUnsupportedVendors(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	if _, err := LLM(ctx, config.LLMConfig{Vendor: "claude"}, logger); err == nil {
		t.Error("Expected error for unknown llm vendor")
	}
	if _, err := Embedder(ctx, config.EmbeddingConfig{Vendor: "bert"}, config.LLMConfig{}, logger); err == nil {
		t.Error("Expected error for unknown embedding vendor")
	}
	if _, err := VectorStore(config.VectorStoreConfig{Vendor: "pinecone"}, logger); err == nil {
		t.Error("Expected error for unknown vector store")
	}
	if _, _, err := SpeechToText(ctx, config.ASRConfig{Vendor: "whisper"}, logger); err == nil {
		t.Error("Expected error for unknown asr vendor")
	}
	if _, err := TextToSpeech(config.TTSConfig{Vendor: "espeak"}, nil, logger); err == nil {
		t.Error("Expected error for unknown tts vendor")
	}
	if _, _, err := SessionStore(ctx, config.SessionStoreConfig{Vendor: "redis"}, logger); err == nil {
		t.Error("Expected error for unknown session store")
	}
}

func TestVolcRequiresCredentials(t *testing.T) {
	cfg := config.Default().TTS
	cfg.Vendor = "volc"
	if _, err := TextToSpeech(cfg, nil, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error without appid and token")
	}

	cfg.Volc.AppID = "app"
	cfg.Volc.Token = "token"
	if _, err := TextToSpeech(cfg, nil, zaptest.NewLogger(t)); err != nil {
		t.Errorf("Expected volc client, got %v", err)
	}
}
