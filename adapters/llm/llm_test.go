package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/maverick/chatbot/server/domain/repositories"
)

func TestValidateGeminiConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GeminiConfig
		wantErr bool
	}{
		{"missing key", GeminiConfig{}, true},
		{"bad temperature", GeminiConfig{APIKey: "k", Temperature: 3}, true},
		{"bad topP", GeminiConfig{APIKey: "k", TopP: 1.5}, true},
		{"negative timeout", GeminiConfig{APIKey: "k", TimeoutSeconds: -1}, true},
		{"valid", GeminiConfig{APIKey: "k"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeminiConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConvertToGeminiFormat(t *testing.T) {
	system, contents := convertToGeminiFormat([]repositories.ChatMessage{
		repositories.SystemMessage("persona"),
		repositories.UserMessage("hi"),
		{Role: repositories.AssistantRole, Content: "hello"},
		repositories.UserMessage("again"),
	})

	if system != "persona" {
		t.Errorf("Expected system instruction 'persona', got %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("Expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != genai.RoleModel {
		t.Errorf("Expected assistant mapped to model role, got %s", contents[1].Role)
	}
	if contents[2].Parts[0].Text != "again" {
		t.Errorf("Expected order preserved, got %q", contents[2].Parts[0].Text)
	}
}

func TestOpenAICompatibleComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Unexpected auth %q", r.Header.Get("Authorization"))
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode: %v", err)
		}
		if req.Model != "qwen-plus" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("Unexpected request %+v", req)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"亮在此"}}]}`))
	}))
	defer server.Close()

	llm, err := NewOpenAICompatibleLLM(OpenAIConfig{BaseURL: server.URL + "/v1/", APIKey: "sk-test", Model: "qwen-plus"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	completion, err := llm.Complete(context.Background(), []repositories.ChatMessage{
		repositories.SystemMessage("你是诸葛亮"),
		repositories.UserMessage("你是谁"),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if completion.Text != "亮在此" {
		t.Errorf("Expected 亮在此, got %q", completion.Text)
	}
}

func TestOpenAICompatibleErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	llm, _ := NewOpenAICompatibleLLM(OpenAIConfig{BaseURL: server.URL, Model: "m"}, zaptest.NewLogger(t))
	if _, err := llm.Complete(context.Background(), []repositories.ChatMessage{repositories.UserMessage("x")}); err == nil {
		t.Error("Expected error for empty choices")
	}

	if _, err := NewOpenAICompatibleLLM(OpenAIConfig{BaseURL: server.URL}, zap.NewNop()); err == nil {
		t.Error("Expected error without model")
	}
}

func TestMockLLM(t *testing.T) {
	m := NewMockLLM()

	got, _ := m.Complete(context.Background(), []repositories.ChatMessage{
		repositories.UserMessage("<user_request>\n生成一句过渡话：“我不太清楚，请关羽来回答。”要求自然口语\n</user_request>\n"),
	})
	if got.Text != "我不太清楚，请关羽来回答。" {
		t.Errorf("Expected transition line, got %q", got.Text)
	}

	got, _ = m.Complete(context.Background(), []repositories.ChatMessage{repositories.UserMessage("<user_question>\n你是谁\n</user_question>")})
	if got.Text != "我不清楚。" {
		t.Errorf("Expected deflection, got %q", got.Text)
	}
}

// Integration test - only runs if GEMINI_API_KEY is set
func TestGeminiLLM_Integration(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping integration test - set GEMINI_API_KEY to run")
	}

	client, err := NewGeminiClient(context.Background(), apiKey)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	llm, err := NewGeminiLLM(client, GeminiConfig{APIKey: apiKey}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create GeminiLLM: %v", err)
	}

	completion, err := llm.Complete(context.Background(), []repositories.ChatMessage{
		repositories.SystemMessage("你是诸葛亮，用一句话回答。"),
		repositories.UserMessage("你是谁？"),
	})
	if err != nil {
		t.Fatalf("Failed to complete: %v", err)
	}
	if completion.Text == "" {
		t.Error("Expected non-empty completion")
	}
}
