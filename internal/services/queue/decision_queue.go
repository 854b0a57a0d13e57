package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/boothill-gm/pkg/queue"
)

const (
	requestsKey = "decision-requests"
	// latest request timestamps are kept as long as a session would be
	latestTTL = 24 * time.Hour
)

func latestKey(sessionID string) string {
	return fmt.Sprintf("decision-requested:%s", sessionID)
}

// DecisionQueue is the global FIFO of out-of-band session work
type DecisionQueue struct {
	client *Client
}

func NewDecisionQueue(client *Client) *DecisionQueue {
	return &DecisionQueue{client: client}
}

// EnqueueRequest adds a request to the end of the queue. Decision requests
// also become the session's latest request.
func (q *DecisionQueue) EnqueueRequest(ctx context.Context, req *queue.Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}

	pipe := q.client.rdb.TxPipeline()
	pipe.RPush(ctx, requestsKey, data)
	if req.Type == queue.RequestTypeDecision {
		pipe.Set(ctx, latestKey(req.SessionID), req.RequestedAt.UnixNano(), latestTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	return nil
}

// Requeue puts a request back at the end of the queue without touching the
// session's latest request marker.
func (q *DecisionQueue) Requeue(ctx context.Context, req *queue.Request) error {
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}
	if err := q.client.rdb.RPush(ctx, requestsKey, data).Err(); err != nil {
		return fmt.Errorf("failed to re-queue request: %w", err)
	}
	return nil
}

// DequeueRequest removes and returns the next request from the queue
// Returns nil if queue is empty
func (q *DecisionQueue) DequeueRequest(ctx context.Context) (*queue.Request, error) {
	result, err := q.client.rdb.LPop(ctx, requestsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}
	return parseRequest(result)
}

// BlockingDequeueRequest waits up to timeout for a request. It returns nil
// when the timeout passes with the queue still empty.
func (q *DecisionQueue) BlockingDequeueRequest(ctx context.Context, timeout time.Duration) (*queue.Request, error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, requestsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPop result: %v", result)
	}
	return parseRequest(result[1])
}

func parseRequest(raw string) (*queue.Request, error) {
	req, err := queue.FromJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// RequestQueueDepth returns the number of requests waiting
func (q *DecisionQueue) RequestQueueDepth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, requestsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get request queue depth: %w", err)
	}
	return int(count), nil
}

// LatestRequest returns when the newest decision request for the session was
// made, or the zero time if there is none.
func (q *DecisionQueue) LatestRequest(ctx context.Context, sessionID string) (time.Time, error) {
	raw, err := q.client.rdb.Get(ctx, latestKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to read latest request: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt latest request for %s: %w", sessionID, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// Clear removes the session's latest request marker
func (q *DecisionQueue) Clear(ctx context.Context, sessionID string) error {
	if err := q.client.rdb.Del(ctx, latestKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear latest request: %w", err)
	}
	return nil
}
