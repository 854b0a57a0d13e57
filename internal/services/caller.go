package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwebster45206/boothill-gm/pkg/chat"
	"github.com/jwebster45206/boothill-gm/pkg/engine"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty LLM response")

// LLMObserver records LLM request outcomes.
type LLMObserver interface {
	ObserveLLM(provider string, err error, d time.Duration)
}

// Caller adapts an LLMService to the engine's AIClient: it applies the
// configured timeout per attempt, retries with exponential backoff and
// limits the request rate.
type Caller struct {
	llm      LLMService
	provider string
	limiter  *rate.Limiter
	observer LLMObserver
	logger   *slog.Logger
	backoff  time.Duration
}

var _ engine.AIClient = (*Caller)(nil)

// NewCaller wraps llm. rps <= 0 disables rate limiting. observer may be nil.
func NewCaller(llm LLMService, provider string, rps float64, observer LLMObserver, logger *slog.Logger) *Caller {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Caller{
		llm:      llm,
		provider: provider,
		limiter:  rate.NewLimiter(limit, 1),
		observer: observer,
		logger:   logger,
		backoff:  500 * time.Millisecond,
	}
}

// Call implements engine.AIClient.
func (c *Caller) Call(ctx context.Context, messages []chat.ChatMessage, cfg engine.APIConfig) (string, error) {
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			c.logger.Debug("Retrying LLM call", "provider", c.provider, "attempt", attempt+1, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		text, err := c.attempt(ctx, messages, cfg.Timeout)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("llm call failed after %d attempts: %w", attempts, lastErr)
}

func (c *Caller) attempt(ctx context.Context, messages []chat.ChatMessage, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.llm.Chat(ctx, messages)
	if err == nil && (resp == nil || strings.TrimSpace(resp.Message) == "") {
		err = ErrEmptyResponse
	}
	if c.observer != nil {
		c.observer.ObserveLLM(c.provider, err, time.Since(start))
	}
	if err != nil {
		return "", err
	}

	c.logger.Debug("LLM call succeeded",
		"provider", c.provider,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens)
	return resp.Message, nil
}
