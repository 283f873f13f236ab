package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/repositories"
)

const defaultSherpaEndpoint = "/v1/asr:transcribe"

// SherpaOnnxSpeechToText posts audio to a sherpa-onnx HTTP server
type SherpaOnnxSpeechToText struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// Ensure SherpaOnnxSpeechToText implements the SpeechToText interface
var _ repositories.SpeechToText = (*SherpaOnnxSpeechToText)(nil)

// NewSherpaOnnxSpeechToText creates a new sherpa-onnx client. An empty
// endpoint uses /v1/asr:transcribe.
func NewSherpaOnnxSpeechToText(baseURL, endpoint string, timeout time.Duration, logger *zap.Logger) (*SherpaOnnxSpeechToText, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("sherpa-onnx base url is required")
	}
	if endpoint == "" {
		endpoint = defaultSherpaEndpoint
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SherpaOnnxSpeechToText{
		url:        strings.TrimRight(baseURL, "/") + endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type sherpaResponse struct {
	Text *string `json:"text"`
}

// Transcribe uploads the audio as multipart field "file"
func (s *SherpaOnnxSpeechToText) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call sherpa-onnx: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read sherpa-onnx response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error("sherpa-onnx returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(raw)))
		return "", fmt.Errorf("sherpa-onnx returned status %d", resp.StatusCode)
	}

	var parsed sherpaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Text == nil {
		return "", fmt.Errorf("failed to parse sherpa-onnx response: %q", string(raw))
	}

	s.logger.Debug("Transcribed audio",
		zap.String("filename", filename),
		zap.Int("audioBytes", len(audio)),
		zap.String("text", *parsed.Text))
	return strings.TrimSpace(*parsed.Text), nil
}
