package storage

import (
	"context"
	"errors"

	"github.com/jwebster45206/boothill-gm/pkg/engine"
	"github.com/jwebster45206/boothill-gm/pkg/session"
)

// ErrSessionNotFound is returned by operations that require an existing session.
var ErrSessionNotFound = errors.New("session not found")

// Storage defines a unified interface for all storage operations
// This interface combines session persistence (Redis) with character presets (filesystem)
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Session operations (Redis-backed)
	SaveSession(ctx context.Context, s *session.Session) error
	// LoadSession returns nil, nil when the session does not exist
	LoadSession(ctx context.Context, id string) (*session.Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Character presets (filesystem-backed)
	GetCharacter(ctx context.Context, characterID string) (*engine.Character, error)
	ListCharacters(ctx context.Context) ([]string, error)
}
