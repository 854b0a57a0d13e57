package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jwebster45206/boothill-gm/pkg/engine"
	"github.com/jwebster45206/boothill-gm/pkg/session"
)

// MockStorage is a mock implementation of Storage for testing.
// Sessions are stored as JSON so callers never share state with the store.
type MockStorage struct {
	mu         sync.RWMutex
	sessions   map[string][]byte
	characters map[string]engine.Character
	pingError  error
	saveError  error
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		sessions:   make(map[string][]byte),
		characters: make(map[string]engine.Character),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetSaveError configures the mock to fail on SaveSession
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// Ping mocks storage ping
func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

// Close mocks storage close
func (m *MockStorage) Close() error {
	return nil
}

// SaveSession mocks saving a session
func (m *MockStorage) SaveSession(ctx context.Context, s *session.Session) error {
	if s == nil {
		return errors.New("session cannot be nil")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveError != nil {
		return m.saveError
	}
	m.sessions[s.ID] = data
	return nil
}

// LoadSession mocks loading a session
func (m *MockStorage) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	data, exists := m.sessions[id]
	m.mu.RUnlock()
	if !exists {
		return nil, nil
	}
	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession mocks deleting a session
func (m *MockStorage) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// SessionCount returns how many sessions are stored.
func (m *MockStorage) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// AddCharacter adds a character preset to the mock storage (for testing)
func (m *MockStorage) AddCharacter(id string, c engine.Character) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.characters[id] = c
}

// GetCharacter mocks loading a character preset
func (m *MockStorage) GetCharacter(ctx context.Context, characterID string) (*engine.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.characters[characterID]
	if !ok {
		return nil, fmt.Errorf("character %q not found", characterID)
	}
	return &c, nil
}

// ListCharacters mocks listing character presets
func (m *MockStorage) ListCharacters(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.characters))
	for id := range m.characters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
