package services

import (
	"context"
	"strings"

	"github.com/jwebster45206/boothill-gm/pkg/chat"
)

// LLMService defines the interface for interacting with an LLM provider
type LLMService interface {
	// InitModel prepares the model on startup (pulling it where the provider supports that)
	InitModel(ctx context.Context, modelName string) error

	// Chat sends a conversation and returns the model's reply
	Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)
}

// splitChatMessages extracts and combines all system messages into a single system prompt
// and returns the remaining non-system messages
func splitChatMessages(messages []chat.ChatMessage) (string, []chat.ChatMessage) {
	var systemParts []string
	var rest []chat.ChatMessage

	for _, msg := range messages {
		if msg.Role == chat.ChatRoleSystem {
			systemParts = append(systemParts, msg.Content)
		} else {
			rest = append(rest, msg)
		}
	}

	return strings.Join(systemParts, "\n\n"), rest
}
