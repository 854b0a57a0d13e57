// Package engine decides when the player should face a decision, produces
// the decision and tracks it until it is resolved.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jwebster45206/boothill-gm/pkg/chat"
	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/impact"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
)

var (
	// ErrDecisionPending is returned when presenting a decision while another is unresolved.
	ErrDecisionPending = errors.New("a decision is already pending")
	// ErrNoPendingDecision is returned when resolving with nothing presented.
	ErrNoPendingDecision = errors.New("no decision is pending")
	// ErrStaleDecision is returned when resolving a decision that is no longer the pending one.
	ErrStaleDecision = errors.New("decision is not the pending decision")
)

// Phase is where the service is in a single decision's lifecycle.
type Phase string

const (
	PhaseNoDecision Phase = "no_decision"
	PhaseDetecting  Phase = "detecting"
	PhaseGenerating Phase = "generating"
	PhasePresented  Phase = "presented"
	PhaseResolved   Phase = "resolved"
)

// DefaultHistoryCap is how many resolved decisions are remembered.
const DefaultHistoryCap = 12

// NarrativeState is the story as the engine sees it for one turn.
type NarrativeState struct {
	Context  *narrative.Context
	History  []string
	Location *decision.Location
}

// latest returns the newest history entry.
func (n NarrativeState) latest() string {
	if len(n.History) == 0 {
		return ""
	}
	return n.History[len(n.History)-1]
}

// Character is the player character.
type Character struct {
	Name       string         `json:"name"`
	Attributes map[string]int `json:"attributes,omitempty"`
	Inventory  []string       `json:"inventory,omitempty"`
}

// GameState is what the rest of the game reports at detection time.
type GameState struct {
	CombatActive bool
	Location     *decision.Location
}

// APIConfig selects and tunes the LLM used to generate decisions.
type APIConfig struct {
	Provider   string
	Model      string
	MaxRetries int
	Timeout    time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	// MaxContextTokens is the budget for the narrative context in the prompt.
	MaxContextTokens int
}

// AIClient sends a prompt to an LLM and returns its raw text.
type AIClient interface {
	Call(ctx context.Context, messages []chat.ChatMessage, cfg APIConfig) (string, error)
}

// Decision sources reported to an Observer.
const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

// Observer is told about generated decisions and applied records.
type Observer interface {
	DecisionGenerated(source string, quality float64)
	DecisionResolved(rec *impact.RecordWithImpact)
}

type nopObserver struct{}

func (nopObserver) DecisionGenerated(string, float64) {}
func (nopObserver) DecisionResolved(*impact.RecordWithImpact) {}

// DecisionService owns one session's decision lifecycle: the single pending
// decision and a bounded history of resolved ones.
type DecisionService struct {
	client     AIClient
	logger     *slog.Logger
	observer   Observer
	generator  *impact.Generator
	detection  DetectionConfig
	historyCap int
	now        func() time.Time

	mu             sync.Mutex
	phase          Phase
	pending        *decision.PlayerDecision
	history        []impact.RecordWithImpact
	lastDecisionAt time.Time
}

// Option configures a DecisionService.
type Option func(*DecisionService)

// WithHistoryCap sets how many resolved decisions are kept.
func WithHistoryCap(n int) Option {
	return func(s *DecisionService) {
		if n > 0 {
			s.historyCap = n
		}
	}
}

// WithDetection sets the detection thresholds.
func WithDetection(cfg DetectionConfig) Option {
	return func(s *DecisionService) { s.detection = cfg }
}

// WithObserver reports generation and resolution events to o.
func WithObserver(o Observer) Option {
	return func(s *DecisionService) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithGenerator sets the impact generator used by Resolve.
func WithGenerator(g *impact.Generator) Option {
	return func(s *DecisionService) {
		if g != nil {
			s.generator = g
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *DecisionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDecisionService creates a service. client may be nil, in which case
// every decision comes from the fallback templates.
func NewDecisionService(client AIClient, logger *slog.Logger, opts ...Option) *DecisionService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &DecisionService{
		client:     client,
		logger:     logger,
		observer:   nopObserver{},
		generator:  impact.NewGenerator(nil),
		detection:  DefaultDetectionConfig(),
		historyCap: DefaultHistoryCap,
		now:        time.Now,
		phase:      PhaseNoDecision,
		history:    []impact.RecordWithImpact{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads persisted lifecycle state, e.g. from a stored session.
func (s *DecisionService) Restore(pending *decision.PlayerDecision, history []impact.RecordWithImpact, lastDecisionAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
	s.phase = PhaseNoDecision
	if pending != nil {
		d := *pending
		s.pending = &d
		s.phase = PhasePresented
	}
	s.history = append([]impact.RecordWithImpact{}, history...)
	s.trimHistory()
	s.lastDecisionAt = lastDecisionAt
}

// Phase returns the current lifecycle phase.
func (s *DecisionService) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Pending returns a copy of the unresolved decision, or nil.
func (s *DecisionService) Pending() *decision.PlayerDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	d := *s.pending
	return &d
}

// History returns the resolved decisions, oldest first.
func (s *DecisionService) History() []impact.RecordWithImpact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]impact.RecordWithImpact{}, s.history...)
}

// LastDecisionAt is when a decision was last presented or resolved.
func (s *DecisionService) LastDecisionAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDecisionAt
}

// Present makes d the pending decision.
func (s *DecisionService) Present(d decision.PlayerDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return fmt.Errorf("presenting %s: %w (%s)", d.ID, ErrDecisionPending, s.pending.ID)
	}
	s.pending = &d
	s.phase = PhasePresented
	s.lastDecisionAt = s.now()
	return nil
}

// RecordDecision appends a bare record to the history. Use Resolve for the
// pending decision; this is for choices made outside the service.
func (s *DecisionService) RecordDecision(decisionID, optionID, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.appendHistory(impact.RecordWithImpact{
		Record: decision.Record{
			DecisionID:       decisionID,
			SelectedOptionID: optionID,
			Timestamp:        now,
			Narrative:        outcome,
			Tags:             []string{},
		},
		Impacts: []impact.DecisionImpact{},
	})
}

// Resolve applies the player's choice to the pending decision and returns
// the resulting record. The record is not yet processed into any impact state.
func (s *DecisionService) Resolve(decisionID, optionID, outcome string) (*impact.RecordWithImpact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return nil, ErrNoPendingDecision
	}
	if s.pending.ID != decisionID {
		return nil, fmt.Errorf("resolving %s: %w", decisionID, ErrStaleDecision)
	}

	now := s.now()
	rec, err := s.generator.NewRecord(s.pending, optionID, outcome, now)
	if err != nil {
		return nil, err
	}
	s.appendHistory(*rec)
	s.pending = nil
	s.phase = PhaseResolved
	s.lastDecisionAt = now
	s.observer.DecisionResolved(rec)

	s.logger.Debug("Decision resolved", "decision_id", decisionID, "option_id", optionID, "impacts", len(rec.Impacts))
	return rec, nil
}

// Discard drops the pending decision without recording it.
func (s *DecisionService) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.phase = PhaseNoDecision
}

// IsStale reports whether a generation requested at requestedAt has been
// overtaken by a later presented or resolved decision.
func (s *DecisionService) IsStale(requestedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return IsStale(requestedAt, s.lastDecisionAt)
}

// IsStale reports whether a result requested at requestedAt predates latest.
func IsStale(requestedAt, latest time.Time) bool {
	return !latest.IsZero() && latest.After(requestedAt)
}

func (s *DecisionService) appendHistory(rec impact.RecordWithImpact) {
	s.history = append(s.history, rec)
	s.trimHistory()
}

func (s *DecisionService) trimHistory() {
	if over := len(s.history) - s.historyCap; over > 0 {
		s.history = append([]impact.RecordWithImpact{}, s.history[over:]...)
	}
}

// setPhase moves the lifecycle along unless a decision is waiting on the player.
func (s *DecisionService) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.phase = p
	}
}
