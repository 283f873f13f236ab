package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/repositories"
)

const synthesizePath = "/v1/tts-synthesize"

// FormTTS talks to the self-hosted synthesis servers (CosyVoice, py3-tts,
// edge-tts) that accept a form POST of text and voice and reply with audio
type FormTTS struct {
	baseURL      string
	defaultVoice string
	httpClient   *http.Client
	logger       *zap.Logger
}

// Ensure FormTTS implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*FormTTS)(nil)

// NewFormTTS creates a new form based TTS client
func NewFormTTS(baseURL, defaultVoice string, timeout time.Duration, logger *zap.Logger) (*FormTTS, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("tts base url is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &FormTTS{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultVoice: defaultVoice,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}, nil
}

// Synthesize implements repositories.TextToSpeech
func (f *FormTTS) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	if voice == "" {
		voice = f.defaultVoice
	}

	form := url.Values{}
	form.Set("text", text)
	if voice != "" {
		form.Set("voice", voice)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+synthesizePath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		f.logger.Error("TTS server returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(body)))
		return nil, fmt.Errorf("tts server returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts server returned empty audio")
	}
	return audio, nil
}
