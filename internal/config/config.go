package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Bind           string   `yaml:"bind"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

type LLMConfig struct {
	Vendor         string  `yaml:"vendor"` // gemini, openai, mock
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	DebugPrompt    bool    `yaml:"debug_prompt"`
	DebugMaxLogLen int     `yaml:"debug_max_log_len"`
}

type EmbeddingConfig struct {
	Vendor     string `yaml:"vendor"` // gemini, openai, hash
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

type VectorStoreConfig struct {
	Vendor         string `yaml:"vendor"` // chroma, memory
	URL            string `yaml:"url"`
	Collection     string `yaml:"collection"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type RAGConfig struct {
	PrimaryMaxResults    int     `yaml:"primary_max_results"`
	EscalationMaxResults int     `yaml:"escalation_max_results"`
	MinScore             float64 `yaml:"min_score"`
	MaxFewShot           int     `yaml:"max_few_shot"`
	DocsDir              string  `yaml:"docs_dir"`
	SegmentMaxChars      int     `yaml:"segment_max_chars"`
	SegmentOverlap       int     `yaml:"segment_overlap"`
}

type ASRConfig struct {
	Vendor         string `yaml:"vendor"` // sherpa-onnx, google, mock
	URL            string `yaml:"url"`
	Endpoint       string `yaml:"endpoint"`
	Language       string `yaml:"language"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type VolcConfig struct {
	URL          string  `yaml:"url"`
	AppID        string  `yaml:"appid"`
	Token        string  `yaml:"token"`
	Cluster      string  `yaml:"cluster"`
	UID          string  `yaml:"uid"`
	Encoding     string  `yaml:"encoding"`
	SpeedRatio   float64 `yaml:"speed_ratio"`
	AllowPartial bool    `yaml:"allow_partial"`
}

type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	ModelID string `yaml:"model_id"`
}

type TTSConfig struct {
	Vendor         string           `yaml:"vendor"` // volc, cosyvoice, elevenlabs, mock
	URL            string           `yaml:"url"`
	DefaultVoice   string           `yaml:"default_voice"`
	TimeoutSeconds int              `yaml:"timeout_seconds"`
	Volc           VolcConfig       `yaml:"volc"`
	ElevenLabs     ElevenLabsConfig `yaml:"elevenlabs"`
}

type SessionStoreConfig struct {
	Vendor             string `yaml:"vendor"` // mongo, memory
	URI                string `yaml:"uri"`
	Database           string `yaml:"database"`
	CleanupIntervalSec int    `yaml:"cleanup_interval_seconds"`
	IdleTimeoutMinutes int    `yaml:"idle_timeout_minutes"`
}

type RolesConfig struct {
	File          string `yaml:"file"`
	DefaultRoleID string `yaml:"default_role_id"`
}

type PromptsConfig struct {
	SystemTemplateFile   string `yaml:"system_template_file"`
	TransferTemplateFile string `yaml:"transfer_template_file"`
}

type Config struct {
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Auth         AuthConfig         `yaml:"auth"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	VectorStore  VectorStoreConfig  `yaml:"vector_store"`
	RAG          RAGConfig          `yaml:"rag"`
	ASR          ASRConfig          `yaml:"asr"`
	TTS          TTSConfig          `yaml:"tts"`
	SessionStore SessionStoreConfig `yaml:"session_store"`
	Roles        RolesConfig        `yaml:"roles"`
	Prompts      PromptsConfig      `yaml:"prompts"`
}

func Default() Config {
	return Config{
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
			MaxUploadMB:    20,
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 24 * 60,
		},
		LLM: LLMConfig{
			Vendor:         "mock",
			Model:          "gemini-2.5-flash",
			Temperature:    0.7,
			TimeoutSeconds: 60,
			DebugMaxLogLen: -1,
		},
		Embedding: EmbeddingConfig{
			Vendor:     "hash",
			Dimensions: 256,
		},
		VectorStore: VectorStoreConfig{
			Vendor:         "memory",
			URL:            "http://localhost:8000",
			Collection:     "role_knowledge",
			TimeoutSeconds: 10,
		},
		RAG: RAGConfig{
			PrimaryMaxResults:    5,
			EscalationMaxResults: 3,
			MinScore:             0.75,
			MaxFewShot:           5,
			DocsDir:              "./docs",
			SegmentMaxChars:      1000,
			SegmentOverlap:       200,
		},
		ASR: ASRConfig{
			Vendor:         "mock",
			URL:            "http://localhost:8090",
			Endpoint:       "/asr",
			Language:       "zh-CN",
			TimeoutSeconds: 30,
		},
		TTS: TTSConfig{
			Vendor:         "mock",
			URL:            "http://localhost:50000",
			TimeoutSeconds: 30,
			Volc: VolcConfig{
				Cluster:    "volcano_icl",
				UID:        "uid",
				Encoding:   "mp3",
				SpeedRatio: 1.0,
			},
		},
		SessionStore: SessionStoreConfig{
			Vendor:             "memory",
			URI:                "mongodb://localhost:27017",
			Database:           "chatbot",
			CleanupIntervalSec: 600,
			IdleTimeoutMinutes: 24 * 60,
		},
		Roles: RolesConfig{
			File: "./roles.yaml",
		},
	}
}

// Load reads path (optional) over Default, applies CHATBOT_* environment
// overrides and validates the result
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Addr returns the HTTP listen address
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Environment, "CHATBOT_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "CHATBOT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "CHATBOT_HTTP_PORT")
	overrideStringSlice(&cfg.HTTP.AllowedOrigins, "CHATBOT_HTTP_ALLOWED_ORIGINS")
	overrideInt(&cfg.HTTP.MaxUploadMB, "CHATBOT_HTTP_MAX_UPLOAD_MB")
	overrideString(&cfg.Auth.JWTSecret, "CHATBOT_AUTH_JWT_SECRET")
	overrideInt(&cfg.Auth.TokenTTLMinutes, "CHATBOT_AUTH_TOKEN_TTL_MINUTES")
	overrideString(&cfg.LLM.Vendor, "CHATBOT_LLM_VENDOR")
	overrideString(&cfg.LLM.APIKey, "CHATBOT_LLM_API_KEY")
	overrideString(&cfg.LLM.BaseURL, "CHATBOT_LLM_BASE_URL")
	overrideString(&cfg.LLM.Model, "CHATBOT_LLM_MODEL")
	overrideFloat(&cfg.LLM.Temperature, "CHATBOT_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutSeconds, "CHATBOT_LLM_TIMEOUT_SECONDS")
	overrideBool(&cfg.LLM.DebugPrompt, "CHATBOT_LLM_DEBUG_PROMPT")
	overrideInt(&cfg.LLM.DebugMaxLogLen, "CHATBOT_LLM_DEBUG_MAX_LOG_LEN")
	overrideString(&cfg.Embedding.Vendor, "CHATBOT_EMBEDDING_VENDOR")
	overrideString(&cfg.Embedding.APIKey, "CHATBOT_EMBEDDING_API_KEY")
	overrideString(&cfg.Embedding.BaseURL, "CHATBOT_EMBEDDING_BASE_URL")
	overrideString(&cfg.Embedding.Model, "CHATBOT_EMBEDDING_MODEL")
	overrideInt(&cfg.Embedding.Dimensions, "CHATBOT_EMBEDDING_DIMENSIONS")
	overrideString(&cfg.VectorStore.Vendor, "CHATBOT_VECTOR_STORE_VENDOR")
	overrideString(&cfg.VectorStore.URL, "CHATBOT_VECTOR_STORE_URL")
	overrideString(&cfg.VectorStore.Collection, "CHATBOT_VECTOR_STORE_COLLECTION")
	overrideInt(&cfg.RAG.PrimaryMaxResults, "CHATBOT_RAG_PRIMARY_MAX_RESULTS")
	overrideInt(&cfg.RAG.EscalationMaxResults, "CHATBOT_RAG_ESCALATION_MAX_RESULTS")
	overrideFloat(&cfg.RAG.MinScore, "CHATBOT_RAG_MIN_SCORE")
	overrideInt(&cfg.RAG.MaxFewShot, "CHATBOT_RAG_MAX_FEW_SHOT")
	overrideString(&cfg.RAG.DocsDir, "CHATBOT_RAG_DOCS_DIR")
	overrideString(&cfg.ASR.Vendor, "CHATBOT_ASR_VENDOR")
	overrideString(&cfg.ASR.URL, "CHATBOT_ASR_URL")
	overrideString(&cfg.ASR.Endpoint, "CHATBOT_ASR_ENDPOINT")
	overrideString(&cfg.ASR.Language, "CHATBOT_ASR_LANGUAGE")
	overrideString(&cfg.TTS.Vendor, "CHATBOT_TTS_VENDOR")
	overrideString(&cfg.TTS.URL, "CHATBOT_TTS_URL")
	overrideString(&cfg.TTS.DefaultVoice, "CHATBOT_TTS_DEFAULT_VOICE")
	overrideString(&cfg.TTS.Volc.URL, "CHATBOT_TTS_VOLC_URL")
	overrideString(&cfg.TTS.Volc.AppID, "CHATBOT_TTS_VOLC_APPID")
	overrideString(&cfg.TTS.Volc.Token, "CHATBOT_TTS_VOLC_TOKEN")
	overrideString(&cfg.TTS.Volc.Cluster, "CHATBOT_TTS_VOLC_CLUSTER")
	overrideBool(&cfg.TTS.Volc.AllowPartial, "CHATBOT_TTS_VOLC_ALLOW_PARTIAL")
	overrideString(&cfg.TTS.ElevenLabs.APIKey, "CHATBOT_TTS_ELEVENLABS_API_KEY")
	overrideString(&cfg.SessionStore.Vendor, "CHATBOT_SESSION_STORE_VENDOR")
	overrideString(&cfg.SessionStore.URI, "CHATBOT_SESSION_STORE_URI")
	overrideString(&cfg.SessionStore.Database, "CHATBOT_SESSION_STORE_DATABASE")
	overrideString(&cfg.Roles.File, "CHATBOT_ROLES_FILE")
	overrideString(&cfg.Roles.DefaultRoleID, "CHATBOT_ROLES_DEFAULT_ROLE_ID")
	overrideString(&cfg.Prompts.SystemTemplateFile, "CHATBOT_PROMPTS_SYSTEM_TEMPLATE_FILE")
	overrideString(&cfg.Prompts.TransferTemplateFile, "CHATBOT_PROMPTS_TRANSFER_TEMPLATE_FILE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

func validate(cfg Config) error {
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if !cfg.IsDevelopment() && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set outside development")
	}
	if cfg.Auth.TokenTTLMinutes <= 0 {
		return errors.New("auth.token_ttl_minutes must be positive")
	}

	if !oneOf(cfg.LLM.Vendor, "gemini", "openai", "mock") {
		return errors.New("llm.vendor must be one of gemini|openai|mock")
	}
	if cfg.LLM.Vendor != "mock" && cfg.LLM.APIKey == "" {
		return errors.New("llm.api_key must be set for vendor " + cfg.LLM.Vendor)
	}
	if cfg.LLM.Vendor == "openai" && cfg.LLM.BaseURL == "" {
		return errors.New("llm.base_url must be set when vendor=openai")
	}

	if !oneOf(cfg.Embedding.Vendor, "gemini", "openai", "hash") {
		return errors.New("embedding.vendor must be one of gemini|openai|hash")
	}
	if cfg.Embedding.Vendor == "openai" && (cfg.Embedding.BaseURL == "" || cfg.Embedding.Model == "") {
		return errors.New("embedding.base_url and embedding.model must be set when vendor=openai")
	}

	if !oneOf(cfg.VectorStore.Vendor, "chroma", "memory") {
		return errors.New("vector_store.vendor must be one of chroma|memory")
	}
	if cfg.VectorStore.Vendor == "chroma" && (cfg.VectorStore.URL == "" || cfg.VectorStore.Collection == "") {
		return errors.New("vector_store.url and vector_store.collection must be set when vendor=chroma")
	}

	if cfg.RAG.PrimaryMaxResults <= 0 || cfg.RAG.EscalationMaxResults <= 0 {
		return errors.New("rag max results must be positive")
	}
	if cfg.RAG.MinScore < 0 || cfg.RAG.MinScore > 1 {
		return errors.New("rag.min_score must be between 0 and 1")
	}
	if cfg.RAG.SegmentOverlap >= cfg.RAG.SegmentMaxChars {
		return errors.New("rag.segment_overlap must be smaller than rag.segment_max_chars")
	}

	if !oneOf(cfg.ASR.Vendor, "sherpa-onnx", "google", "mock") {
		return errors.New("asr.vendor must be one of sherpa-onnx|google|mock")
	}
	if cfg.ASR.Vendor == "sherpa-onnx" && cfg.ASR.URL == "" {
		return errors.New("asr.url must be set when vendor=sherpa-onnx")
	}

	if !oneOf(cfg.TTS.Vendor, "volc", "cosyvoice", "elevenlabs", "mock") {
		return errors.New("tts.vendor must be one of volc|cosyvoice|elevenlabs|mock")
	}
	if cfg.TTS.Vendor == "volc" && (cfg.TTS.Volc.AppID == "" || cfg.TTS.Volc.Token == "") {
		return errors.New("tts.volc.appid and tts.volc.token must be set when vendor=volc")
	}
	if cfg.TTS.Vendor == "elevenlabs" && cfg.TTS.ElevenLabs.APIKey == "" {
		return errors.New("tts.elevenlabs.api_key must be set when vendor=elevenlabs")
	}
	if cfg.TTS.Vendor == "cosyvoice" && cfg.TTS.URL == "" {
		return errors.New("tts.url must be set when vendor=cosyvoice")
	}

	if !oneOf(cfg.SessionStore.Vendor, "mongo", "memory") {
		return errors.New("session_store.vendor must be one of mongo|memory")
	}
	if cfg.SessionStore.CleanupIntervalSec <= 0 || cfg.SessionStore.IdleTimeoutMinutes <= 0 {
		return errors.New("session_store cleanup interval and idle timeout must be positive")
	}

	if cfg.Roles.File == "" {
		return errors.New("roles.file must not be empty")
	}
	return nil
}
