package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jwebster45206/boothill-gm/pkg/chat"
)

const DefaultOpenAIMaxTokens = 1024

// OpenAIService implements LLMService for OpenAI and OpenAI-compatible APIs.
type OpenAIService struct {
	client    *openai.Client
	modelName string
	logger    *slog.Logger
}

// NewOpenAIService creates a client for the OpenAI API. baseURL overrides
// the endpoint for compatible providers; leave it empty for api.openai.com.
func NewOpenAIService(apiKey, baseURL, modelName string, logger *slog.Logger) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}

	return &OpenAIService{
		client:    openai.NewClientWithConfig(cfg),
		modelName: modelName,
		logger:    logger,
	}
}

func (s *OpenAIService) InitModel(ctx context.Context, modelName string) error {
	return nil
}

// Chat generates a chat response with the chat completions API
func (s *OpenAIService) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:     s.modelName,
		Messages:  toOpenAIMessages(messages),
		MaxTokens: DefaultOpenAIMaxTokens,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	s.logger.Debug("OpenAI response received",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return &chat.ChatResponse{
		Message:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func toOpenAIMessages(messages []chat.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case chat.ChatRoleSystem:
			role = openai.ChatMessageRoleSystem
		case chat.ChatRoleAgent:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
