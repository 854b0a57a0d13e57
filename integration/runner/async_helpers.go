package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jwebster45206/boothill-gm/internal/handlers"
	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/session"
)

const (
	// PollInterval is how often to check the session for updates
	PollInterval = 1 * time.Second
	// DecisionTimeout is max time to wait for a worker to present a decision
	DecisionTimeout = 60 * time.Second
)

// doJSON sends body as JSON and decodes the response into out. wantStatus
// lists the acceptable status codes.
func doJSON(ctx context.Context, client *http.Client, method, url string, body, out any, wantStatus ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	ok := false
	for _, s := range wantStatus {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		return fmt.Errorf("%s %s returned %d: %s", method, url, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetSession retrieves the current session
func GetSession(ctx context.Context, client *http.Client, baseURL, sessionID string) (*session.Session, error) {
	var s session.Session
	if err := doJSON(ctx, client, http.MethodGet, baseURL+"/v1/sessions/"+sessionID, nil, &s, http.StatusOK); err != nil {
		return nil, err
	}
	return &s, nil
}

// PostDecisionAsync queues a decision request and returns its request_id
func PostDecisionAsync(ctx context.Context, client *http.Client, baseURL, sessionID string) (string, error) {
	var resp handlers.DecisionResponse
	err := doJSON(ctx, client, http.MethodPost, baseURL+"/v1/sessions/"+sessionID+"/decisions",
		handlers.GenerateRequest{Async: true}, &resp, http.StatusAccepted, http.StatusOK)
	if err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

// PollForDecision polls the pending decision until a worker presents one
func PollForDecision(ctx context.Context, client *http.Client, baseURL, sessionID string) (*decision.PlayerDecision, error) {
	timeout := time.After(DecisionTimeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, fmt.Errorf("timeout waiting for decision (waited %v)", DecisionTimeout)
		case <-ticker.C:
			var resp handlers.DecisionResponse
			if err := doJSON(ctx, client, http.MethodGet, baseURL+"/v1/sessions/"+sessionID+"/decision", nil, &resp, http.StatusOK); err != nil {
				// keep polling
				continue
			}
			if resp.Decision != nil {
				return resp.Decision, nil
			}
		}
	}
}
