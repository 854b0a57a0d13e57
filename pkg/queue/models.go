package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RequestType identifies the type of request in the queue
type RequestType string

const (
	// RequestTypeDecision asks a worker to generate the next decision for a session
	RequestTypeDecision RequestType = "decision"

	// RequestTypeEvolve asks a worker to run impact evolution for a session
	RequestTypeEvolve RequestType = "evolve"
)

// Request represents a unit of out-of-band work for one session
type Request struct {
	RequestID string      `json:"request_id"`
	Type      RequestType `json:"type"`
	SessionID string      `json:"session_id"`

	// RequestedAt is when the work was asked for. A decision generated for
	// a request older than the session's latest decision is discarded.
	RequestedAt time.Time `json:"requested_at"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// NewRequest creates a request with a fresh ID.
func NewRequest(t RequestType, sessionID string, requestedAt time.Time) *Request {
	return &Request{
		RequestID:   uuid.NewString(),
		Type:        t,
		SessionID:   sessionID,
		RequestedAt: requestedAt,
	}
}

// Validate checks that the request can be processed.
func (r *Request) Validate() error {
	if r.SessionID == "" {
		return errors.New("request has no session id")
	}
	switch r.Type {
	case RequestTypeDecision, RequestTypeEvolve:
	default:
		return errors.New("unknown request type: " + string(r.Type))
	}
	return nil
}

// ToJSON converts the request to JSON bytes for Redis
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes
func FromJSON(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
