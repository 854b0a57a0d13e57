package chat

import (
	"fmt"
	"strings"
)

// MaxMessageLength caps a single narrative entry sent to the api.
const MaxMessageLength = 4000

const (
	ChatRoleUser   = "user"      // Player
	ChatRoleAgent  = "assistant" // Model
	ChatRoleSystem = "system"    // Instructions
)

// ChatMessage is a single message in an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatResponse is a completed LLM reply.
type ChatResponse struct {
	Message      string `json:"message,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// NarrativeRequest is a line of story text posted to a session.
// Speaker is "player" for the player's own actions, anything else for narration.
type NarrativeRequest struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker,omitempty"`
	Async   bool   `json:"async,omitempty"`
}

// SpeakerPlayer marks a NarrativeRequest written by the player.
const SpeakerPlayer = "player"

func (r *NarrativeRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text cannot be empty")
	}
	if len(r.Text) > MaxMessageLength {
		return fmt.Errorf("text exceeds maximum length of %d characters", MaxMessageLength)
	}
	return nil
}

// FormatWithPCName prefixes message with "Name: " unless it already starts
// with a speaker prefix of at most 50 characters. A colon early in an
// ordinary sentence also counts as a prefix.
func FormatWithPCName(message, pcName string) string {
	if i := strings.Index(message, ":"); i > 0 && i <= 50 && !strings.ContainsAny(message[:i], ".!?\n") {
		return message
	}
	return pcName + ": " + message
}
