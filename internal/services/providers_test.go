package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/boothill-gm/internal/config"
	"github.com/jwebster45206/boothill-gm/pkg/chat"
)

func TestOpenAIService_Chat(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Draw, partner."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	svc := NewOpenAIService("sk-test", server.URL+"/v1", "gpt-4o-mini", discardLogger())
	resp, err := svc.Chat(context.Background(), []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: "You are the game master."},
		{Role: chat.ChatRoleUser, Content: "Doc faces the Clanton boys."},
		{Role: chat.ChatRoleAgent, Content: "Ike reaches for his gun."},
	})
	require.NoError(t, err)

	assert.Equal(t, "Draw, partner.", resp.Message)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)

	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
}

func TestOpenAIService_ChatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	svc := NewOpenAIService("nope", server.URL+"/v1", "gpt-4o-mini", discardLogger())
	_, err := svc.Chat(context.Background(), []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "hi"}})
	assert.Error(t, err)
}

func newOllamaTestServer(t *testing.T, models string) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models": ` + models + `}`))
		case "/api/pull":
			_, _ = w.Write([]byte(`{"status": "success"}` + "\n"))
		case "/api/chat":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			assert.Equal(t, false, req["stream"])
			_, _ = w.Write([]byte(`{"model": "llama3", "message": {"role": "assistant", "content": "The wind howls."}, "done": true, "prompt_eval_count": 20, "eval_count": 4}` + "\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return server, &paths
}

func TestOllamaService_Chat(t *testing.T) {
	server, _ := newOllamaTestServer(t, `[]`)
	defer server.Close()

	svc, err := NewOllamaService(server.URL+"/v1/", "llama3", discardLogger())
	require.NoError(t, err)

	resp, err := svc.Chat(context.Background(), []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "Describe the trail."}})
	require.NoError(t, err)
	assert.Equal(t, "The wind howls.", resp.Message)
	assert.Equal(t, 20, resp.InputTokens)
	assert.Equal(t, 4, resp.OutputTokens)
}

func TestOllamaService_InitModel(t *testing.T) {
	t.Run("already present", func(t *testing.T) {
		server, paths := newOllamaTestServer(t, `[{"name": "llama3:latest", "model": "llama3:latest"}]`)
		defer server.Close()

		svc, err := NewOllamaService(server.URL, "llama3", discardLogger())
		require.NoError(t, err)
		require.NoError(t, svc.InitModel(context.Background(), "llama3"))
		assert.Equal(t, []string{"/api/tags"}, *paths)
	})

	t.Run("pulls missing model", func(t *testing.T) {
		server, paths := newOllamaTestServer(t, `[]`)
		defer server.Close()

		svc, err := NewOllamaService(server.URL, "llama3", discardLogger())
		require.NoError(t, err)
		require.NoError(t, svc.InitModel(context.Background(), "llama3"))
		assert.Equal(t, []string{"/api/tags", "/api/pull"}, *paths)
	})
}

func TestNewLLMService(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantNil bool
		want    any
	}{
		{"none", config.Config{LLMProvider: config.ProviderNone}, true, nil},
		{"anthropic without key", config.Config{LLMProvider: config.ProviderAnthropic}, true, nil},
		{"anthropic", config.Config{LLMProvider: config.ProviderAnthropic, AnthropicAPIKey: "k"}, false, &AnthropicService{}},
		{"openai", config.Config{LLMProvider: config.ProviderOpenAI, OpenAIAPIKey: "k"}, false, &OpenAIService{}},
		{"ollama", config.Config{LLMProvider: config.ProviderOllama, OllamaURL: "http://localhost:11434"}, false, &OllamaService{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewLLMService(&tt.cfg, discardLogger())
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, svc)
				assert.Nil(t, NewAIClient(svc, &tt.cfg, nil, discardLogger()))
				return
			}
			assert.IsType(t, tt.want, svc)
			assert.NotNil(t, NewAIClient(svc, &tt.cfg, nil, discardLogger()))
		})
	}
}
