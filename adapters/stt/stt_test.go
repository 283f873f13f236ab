package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap/zaptest"
)

func TestSherpaOnnxTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/asr:transcribe" {
			t.Errorf("Expected default endpoint, got %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Expected file field: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "turn.wav" || string(data) != "RIFF" {
			t.Errorf("Unexpected upload %s %q", header.Filename, data)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":" 你是谁 "}`))
	}))
	defer server.Close()

	client, err := NewSherpaOnnxSpeechToText(server.URL, "", 0, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text, err := client.Transcribe(context.Background(), []byte("RIFF"), "turn.wav")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if text != "你是谁" {
		t.Errorf("Expected 你是谁, got %q", text)
	}
}

func TestSherpaOnnxErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non 2xx", http.StatusInternalServerError, `{"text":"x"}`},
		{"not json", http.StatusOK, `oops`},
		{"missing text", http.StatusOK, `{"result":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, _ := NewSherpaOnnxSpeechToText(server.URL, "", 0, zaptest.NewLogger(t))
			if _, err := client.Transcribe(context.Background(), []byte("RIFF"), "turn.wav"); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestEncodingForFile(t *testing.T) {
	tests := []struct {
		filename string
		want     speechpb.RecognitionConfig_AudioEncoding
		wantErr  bool
	}{
		{"client.wav", speechpb.RecognitionConfig_LINEAR16, false},
		{"turn.FLAC", speechpb.RecognitionConfig_FLAC, false},
		{"clip.webm", speechpb.RecognitionConfig_WEBM_OPUS, false},
		{"noext", speechpb.RecognitionConfig_LINEAR16, false},
		{"song.aiff", speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, true},
	}

	for _, tt := range tests {
		got, err := encodingForFile(tt.filename)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: unexpected error state %v", tt.filename, err)
		}
		if got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.filename, tt.want, got)
		}
	}
}

func TestMockSpeechToText(t *testing.T) {
	text, err := NewMockSpeechToText(zaptest.NewLogger(t)).Transcribe(context.Background(), []byte("你好"), "a.wav")
	if err != nil || text != "你好" {
		t.Errorf("Unexpected mock output %q %v", text, err)
	}
}
