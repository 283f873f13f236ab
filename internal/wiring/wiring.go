// Package wiring builds adapters from configuration. Both the server and the
// ingestion command go through it so they agree on vendors.
package wiring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/adapters"
	"github.com/maverick/chatbot/server/adapters/embedding"
	"github.com/maverick/chatbot/server/adapters/llm"
	"github.com/maverick/chatbot/server/adapters/mongo"
	"github.com/maverick/chatbot/server/adapters/stt"
	"github.com/maverick/chatbot/server/adapters/tts"
	"github.com/maverick/chatbot/server/adapters/tts/volc"
	"github.com/maverick/chatbot/server/adapters/vectorstore"
	"github.com/maverick/chatbot/server/domain/repositories"
	"github.com/maverick/chatbot/server/internal/config"
)

// Closer releases a connection held by an adapter
type Closer func(ctx context.Context) error

func nopCloser(context.Context) error { return nil }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// LLM builds the chat model for cfg.Vendor
func LLM(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	switch cfg.Vendor {
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		return llm.NewGeminiLLM(client, llm.GeminiConfig{
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			Temperature:    float32(cfg.Temperature),
			TimeoutSeconds: cfg.TimeoutSeconds,
		}, logger)
	case "openai":
		return llm.NewOpenAICompatibleLLM(llm.OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: float32(cfg.Temperature),
			Timeout:     seconds(cfg.TimeoutSeconds),
		}, logger)
	case "mock":
		logger.Warn("Using mock LLM")
		return llm.NewMockLLM(), nil
	default:
		return nil, fmt.Errorf("unsupported llm vendor %q", cfg.Vendor)
	}
}

// Embedder builds the embedding model. An empty API key falls back to the
// LLM key since both usually come from the same provider.
func Embedder(ctx context.Context, cfg config.EmbeddingConfig, llmCfg config.LLMConfig, logger *zap.Logger) (repositories.EmbeddingModel, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = llmCfg.APIKey
	}

	switch cfg.Vendor {
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return embedding.NewGeminiEmbedding(client, cfg.Model, cfg.Dimensions, logger), nil
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = llmCfg.BaseURL
		}
		return embedding.NewOpenAIEmbedding(baseURL, apiKey, cfg.Model, cfg.Dimensions, logger)
	case "hash":
		logger.Warn("Using hash embeddings, retrieval quality is lexical only")
		return embedding.NewHashEmbedding(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding vendor %q", cfg.Vendor)
	}
}

// VectorStore builds the similarity search backend
func VectorStore(cfg config.VectorStoreConfig, logger *zap.Logger) (repositories.EmbeddingStore, error) {
	switch cfg.Vendor {
	case "chroma":
		return vectorstore.NewChromaStore(cfg.URL, cfg.Collection, seconds(cfg.TimeoutSeconds), logger)
	case "memory":
		return vectorstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store vendor %q", cfg.Vendor)
	}
}

// SpeechToText builds the recognizer
func SpeechToText(ctx context.Context, cfg config.ASRConfig, logger *zap.Logger) (repositories.SpeechToText, Closer, error) {
	switch cfg.Vendor {
	case "sherpa-onnx":
		s, err := stt.NewSherpaOnnxSpeechToText(cfg.URL, cfg.Endpoint, seconds(cfg.TimeoutSeconds), logger)
		return s, nopCloser, err
	case "google":
		s, err := stt.NewGoogleSpeechToText(ctx, cfg.Language, logger)
		if err != nil {
			return nil, nopCloser, err
		}
		return s, func(context.Context) error { return s.Close() }, nil
	case "mock":
		return stt.NewMockSpeechToText(logger), nopCloser, nil
	default:
		return nil, nopCloser, fmt.Errorf("unsupported asr vendor %q", cfg.Vendor)
	}
}

// TextToSpeech builds the synthesizer. observer receives per-call timings
// from the volc client and may be nil.
func TextToSpeech(cfg config.TTSConfig, observer volc.Observer, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch cfg.Vendor {
	case "volc":
		client, err := volc.NewClient(volc.Config{
			URL:          cfg.Volc.URL,
			AppID:        cfg.Volc.AppID,
			Token:        cfg.Volc.Token,
			Cluster:      cfg.Volc.Cluster,
			UID:          cfg.Volc.UID,
			Encoding:     cfg.Volc.Encoding,
			DefaultVoice: cfg.DefaultVoice,
			SpeedRatio:   cfg.Volc.SpeedRatio,
			Timeout:      seconds(cfg.TimeoutSeconds),
			AllowPartial: cfg.Volc.AllowPartial,
		}, logger)
		if err != nil {
			return nil, err
		}
		if observer != nil {
			client.SetObserver(observer)
		}
		return client, nil
	case "cosyvoice":
		return tts.NewFormTTS(cfg.URL, cfg.DefaultVoice, seconds(cfg.TimeoutSeconds), logger)
	case "elevenlabs":
		return tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabs.APIKey,
			APIBaseURL: cfg.ElevenLabs.BaseURL,
			VoiceID:    cfg.DefaultVoice,
			ModelID:    cfg.ElevenLabs.ModelID,
			Timeout:    seconds(cfg.TimeoutSeconds),
		}, logger)
	case "mock":
		return tts.NewMockTTS(logger), nil
	default:
		return nil, fmt.Errorf("unsupported tts vendor %q", cfg.Vendor)
	}
}

// SessionStore builds the conversation repository. Mongo indexes are
// created before the store is returned.
func SessionStore(ctx context.Context, cfg config.SessionStoreConfig, logger *zap.Logger) (repositories.ConversationRepository, Closer, error) {
	switch cfg.Vendor {
	case "mongo":
		client, err := mongo.NewClient(ctx, cfg.URI, cfg.Database, logger)
		if err != nil {
			return nil, nopCloser, err
		}
		repo := mongo.NewSessionRepository(client.Database, logger)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, nopCloser, err
		}
		return repo, client.Close, nil
	case "memory":
		logger.Warn("Using in-memory session store, sessions are lost on restart")
		return adapters.NewMemorySessionRepository(), nopCloser, nil
	default:
		return nil, nopCloser, fmt.Errorf("unsupported session store vendor %q", cfg.Vendor)
	}
}
