package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/repositories"
)

// OpenAIConfig configures any OpenAI-compatible chat completions endpoint,
// such as DashScope's compatible mode for Qwen models
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// OpenAICompatibleLLM implements LargeLanguageModel over /chat/completions
type OpenAICompatibleLLM struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// Ensure OpenAICompatibleLLM implements the LargeLanguageModel interface
var _ repositories.LargeLanguageModel = (*OpenAICompatibleLLM)(nil)

// NewOpenAICompatibleLLM creates a new chat completions client
func NewOpenAICompatibleLLM(config OpenAIConfig, logger *zap.Logger) (*OpenAICompatibleLLM, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAICompatibleLLM{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       config.Model,
		temperature: config.Temperature,
		logger:      logger,
	}, nil
}

// Complete implements repositories.LargeLanguageModel
func (o *OpenAICompatibleLLM) Complete(ctx context.Context, messages []repositories.ChatMessage) (repositories.Completion, error) {
	request := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	response, err := o.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return repositories.Completion{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return repositories.Completion{}, fmt.Errorf("chat completion returned no choices")
	}

	o.logger.Debug("Chat completion",
		zap.String("model", o.model),
		zap.Int("messages", len(messages)),
		zap.Int("total_tokens", response.Usage.TotalTokens))

	return repositories.Completion{Text: response.Choices[0].Message.Content}, nil
}
