package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jwebster45206/boothill-gm/internal/handlers"
	"github.com/jwebster45206/boothill-gm/pkg/chat"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
	"github.com/jwebster45206/boothill-gm/pkg/session"
)

// APIClient talks to the Boothill GM API.
type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(baseURL string, client *http.Client) *APIClient {
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (c *APIClient) sessionPath(sessionID, suffix string) string {
	return "/v1/sessions/" + url.PathEscape(sessionID) + suffix
}

// do sends body as JSON and decodes the response into out. Any status
// outside want is turned into an error using the API's error message.
func (c *APIClient) do(ctx context.Context, method, path string, body, out any, want ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	ok := false
	for _, status := range want {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		var errorResp handlers.ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody))
		}
		return errors.New(errorResp.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *APIClient) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, http.StatusOK) == nil
}

func (c *APIClient) ListCharacters(ctx context.Context) ([]handlers.CharacterSummary, error) {
	var out []handlers.CharacterSummary
	err := c.do(ctx, http.MethodGet, "/v1/characters", nil, &out, http.StatusOK)
	return out, err
}

func (c *APIClient) CreateSession(ctx context.Context, characterID string) (*session.Session, error) {
	var s session.Session
	err := c.do(ctx, http.MethodPost, "/v1/sessions", handlers.CreateSessionRequest{CharacterID: characterID}, &s, http.StatusCreated)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &s, nil
}

func (c *APIClient) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	var s session.Session
	if err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, ""), nil, &s, http.StatusOK); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *APIClient) SendNarrative(ctx context.Context, sessionID, text, speaker string) (*handlers.NarrativeResponse, error) {
	var out handlers.NarrativeResponse
	req := chat.NarrativeRequest{Text: text, Speaker: speaker}
	if err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "/narrative"), req, &out, http.StatusOK, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) GenerateDecision(ctx context.Context, sessionID string) (*handlers.DecisionResponse, error) {
	var out handlers.DecisionResponse
	if err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "/decisions"), handlers.GenerateRequest{}, &out, http.StatusOK, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) SelectOption(ctx context.Context, sessionID, decisionID, optionID string) (*handlers.SelectResponse, error) {
	var out handlers.SelectResponse
	path := c.sessionPath(sessionID, "/decisions/"+url.PathEscape(decisionID)+"/select")
	if err := c.do(ctx, http.MethodPost, path, handlers.SelectRequest{OptionID: optionID}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Evolve(ctx context.Context, sessionID string) (*handlers.EvolveResponse, error) {
	var out handlers.EvolveResponse
	if err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "/evolve"), handlers.GenerateRequest{}, &out, http.StatusOK, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Context(ctx context.Context, sessionID string, level narrative.Level) (*narrative.Result, error) {
	var out narrative.Result
	path := c.sessionPath(sessionID, "/context")
	if level != "" {
		path += "?compression=" + url.QueryEscape(string(level))
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// SSEEvent represents an event from the SSE stream
type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// listenToSSE connects to the session's event stream and forwards events
// until ctx is cancelled or the stream ends.
func (c *APIClient) listenToSSE(ctx context.Context, sessionID string, eventChan chan<- SSEEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.sessionPath(sessionID, "/events"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The stream outlives the regular request timeout.
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("SSE connection failed with status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	var current SSEEvent
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current.Type != "" {
				select {
				case eventChan <- current:
				case <-ctx.Done():
					return ctx.Err()
				}
				current = SSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			current.Type = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			var data map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data); err == nil {
				current.Data = data
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}
