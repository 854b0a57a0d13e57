package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeDecisionQueued    EventType = "decision.queued"
	EventTypeDecisionPresented EventType = "decision.presented"
	EventTypeDecisionDiscarded EventType = "decision.discarded"
	EventTypeDecisionFailed    EventType = "decision.failed"
	EventTypeDecisionResolved  EventType = "decision.resolved"
	EventTypeSessionEvolved    EventType = "session.evolved"
)

// Event represents a generic event structure
type Event struct {
	Type      EventType      `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Channel is the pub/sub channel carrying a session's events.
func Channel(sessionID string) string {
	return fmt.Sprintf("session-events:%s", sessionID)
}

// Broadcaster publishes events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishDecisionQueued publishes a decision.queued event
func (b *Broadcaster) PublishDecisionQueued(ctx context.Context, sessionID, requestID string) error {
	return b.publish(ctx, Event{
		Type:      EventTypeDecisionQueued,
		RequestID: requestID,
		SessionID: sessionID,
		Data:      map[string]any{"status": "queued"},
	})
}

// PublishDecisionPresented publishes a decision.presented event carrying the
// decision itself.
func (b *Broadcaster) PublishDecisionPresented(ctx context.Context, sessionID, requestID string, decision any) error {
	return b.publish(ctx, Event{
		Type:      EventTypeDecisionPresented,
		RequestID: requestID,
		SessionID: sessionID,
		Data:      map[string]any{"decision": decision},
	})
}

// PublishDecisionDiscarded publishes a decision.discarded event
func (b *Broadcaster) PublishDecisionDiscarded(ctx context.Context, sessionID, requestID, reason string) error {
	return b.publish(ctx, Event{
		Type:      EventTypeDecisionDiscarded,
		RequestID: requestID,
		SessionID: sessionID,
		Data:      map[string]any{"reason": reason},
	})
}

// PublishDecisionFailed publishes a decision.failed event
func (b *Broadcaster) PublishDecisionFailed(ctx context.Context, sessionID, requestID, errorMsg string) error {
	return b.publish(ctx, Event{
		Type:      EventTypeDecisionFailed,
		RequestID: requestID,
		SessionID: sessionID,
		Data: map[string]any{
			"status": "failed",
			"error":  errorMsg,
		},
	})
}

// PublishDecisionResolved publishes a decision.resolved event
func (b *Broadcaster) PublishDecisionResolved(ctx context.Context, sessionID, decisionID, optionID string, impacts int) error {
	return b.publish(ctx, Event{
		Type:      EventTypeDecisionResolved,
		SessionID: sessionID,
		Data: map[string]any{
			"decision_id": decisionID,
			"option_id":   optionID,
			"impacts":     impacts,
		},
	})
}

// PublishSessionEvolved publishes a session.evolved event
func (b *Broadcaster) PublishSessionEvolved(ctx context.Context, sessionID, requestID string, changed bool) error {
	return b.publish(ctx, Event{
		Type:      EventTypeSessionEvolved,
		RequestID: requestID,
		SessionID: sessionID,
		Data:      map[string]any{"changed": changed},
	})
}

// Subscribe listens on the session's channel. The caller closes the returned
// PubSub.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) *redis.PubSub {
	return b.redisClient.Subscribe(ctx, Channel(sessionID))
}

// publish sends an event to the session-specific channel
func (b *Broadcaster) publish(ctx context.Context, event Event) error {
	channel := Channel(event.SessionID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"request_id", event.RequestID,
	)

	return nil
}
