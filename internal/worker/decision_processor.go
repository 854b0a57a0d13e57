package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/boothill-gm/pkg/chat"
	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/engine"
	"github.com/jwebster45206/boothill-gm/pkg/impact"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
	"github.com/jwebster45206/boothill-gm/pkg/session"
	"github.com/jwebster45206/boothill-gm/pkg/storage"
)

// Discard reasons.
const (
	ReasonPending    = "decision already pending"
	ReasonSuperseded = "superseded by a later decision"
	ReasonNewer      = "superseded by a newer request"
)

// Recorder receives processing metrics.
type Recorder interface {
	engine.Observer
	StaleDiscarded()
	ObserveContextTokens(n int)
}

type nopRecorder struct{}

func (nopRecorder) DecisionGenerated(string, float64)         {}
func (nopRecorder) DecisionResolved(*impact.RecordWithImpact) {}
func (nopRecorder) StaleDiscarded()                           {}
func (nopRecorder) ObserveContextTokens(int)                  {}

// NarrativeResult is what recording a piece of narrative produced.
type NarrativeResult struct {
	Session   *session.Session
	Update    session.NarrativeUpdate
	Detection engine.Detection
}

// GenerateResult is the outcome of a generation attempt. Decision is nil
// when the attempt was discarded.
type GenerateResult struct {
	Session  *session.Session
	Decision *decision.PlayerDecision
	Reason   string
}

// Discarded reports whether the generated decision was thrown away.
func (r *GenerateResult) Discarded() bool {
	return r.Decision == nil
}

// DecisionProcessor runs session operations against storage. It's used by
// both the HTTP handlers (synchronously) and the worker (asynchronously).
type DecisionProcessor struct {
	storage   storage.Storage
	client    engine.AIClient
	apiCfg    *engine.APIConfig
	options   []engine.Option
	recorder  Recorder
	estimator narrative.TokenEstimator
	logger    *slog.Logger
	now       func() time.Time
}

// ProcessorOption configures a DecisionProcessor.
type ProcessorOption func(*DecisionProcessor)

// WithRecorder reports decisions and discards to r.
func WithRecorder(r Recorder) ProcessorOption {
	return func(p *DecisionProcessor) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithEstimator sets the token estimator used for context building.
func WithEstimator(e narrative.TokenEstimator) ProcessorOption {
	return func(p *DecisionProcessor) { p.estimator = e }
}

// WithServiceOptions passes options to every DecisionService the processor creates.
func WithServiceOptions(opts ...engine.Option) ProcessorOption {
	return func(p *DecisionProcessor) { p.options = append(p.options, opts...) }
}

// WithNow replaces time.Now.
func WithNow(now func() time.Time) ProcessorOption {
	return func(p *DecisionProcessor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewDecisionProcessor creates a processor. client and apiCfg may be nil, in
// which case decisions come from the fallback templates.
func NewDecisionProcessor(store storage.Storage, client engine.AIClient, apiCfg *engine.APIConfig, logger *slog.Logger, opts ...ProcessorOption) *DecisionProcessor {
	p := &DecisionProcessor{
		storage:  store,
		client:   client,
		apiCfg:   apiCfg,
		recorder: nopRecorder{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *DecisionProcessor) service() *engine.DecisionService {
	opts := append([]engine.Option{}, p.options...)
	opts = append(opts, engine.WithObserver(p.recorder), engine.WithClock(p.now))
	return engine.NewDecisionService(p.client, p.logger, opts...)
}

// Load returns the session or storage.ErrSessionNotFound.
func (p *DecisionProcessor) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := p.storage.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// RecordNarrative appends text to the session and checks whether it calls
// for a decision. Text spoken by the player is prefixed with the character's
// name.
func (p *DecisionProcessor) RecordNarrative(ctx context.Context, sessionID, text, speaker string) (*NarrativeResult, error) {
	s, err := p.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if speaker == chat.SpeakerPlayer && s.Character.Name != "" {
		text = chat.FormatWithPCName(text, s.Character.Name)
	}

	now := p.now()
	update := s.AppendNarrative(text, now)

	svc := p.service()
	s.Load(svc)
	det := svc.DetectDecisionPoint(s.NarrativeState(), s.Character, engine.GameState{Location: s.Location}, s.LastDecisionTime)

	if err := p.storage.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	p.logger.Debug("Narrative recorded",
		"session_id", sessionID,
		"should_present", det.ShouldPresent,
		"score", det.Score,
	)
	return &NarrativeResult{Session: s, Update: update, Detection: det}, nil
}

// staleReason reports why a decision requested at requestedAt may not be
// presented on s. latest is the newest request known for the session.
func staleReason(s *session.Session, requestedAt, latest time.Time) string {
	switch {
	case s.Pending() != nil:
		return ReasonPending
	case engine.IsStale(requestedAt, s.LastDecisionTime):
		return ReasonSuperseded
	case engine.IsStale(requestedAt, latest):
		return ReasonNewer
	}
	return ""
}

// GenerateDecision generates a decision for the session and presents it,
// unless by the time it is ready the session has a pending decision, a
// decision newer than requestedAt, or a request newer than requestedAt.
// The session is reloaded after generation so narrative recorded meanwhile
// is kept.
func (p *DecisionProcessor) GenerateDecision(ctx context.Context, sessionID string, requestedAt, latest time.Time) (*GenerateResult, error) {
	s, err := p.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if reason := staleReason(s, requestedAt, latest); reason != "" {
		return p.discard(s, reason), nil
	}

	svc := p.service()
	s.Load(svc)
	d := svc.GenerateDecision(ctx, s.NarrativeState(), s.Character, p.apiCfg)

	fresh, err := p.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if reason := staleReason(fresh, requestedAt, latest); reason != "" {
		return p.discard(fresh, reason), nil
	}

	if err := fresh.Present(svc, d, requestedAt, p.now()); err != nil {
		return nil, fmt.Errorf("failed to present decision: %w", err)
	}
	if err := p.storage.SaveSession(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	p.logger.Info("Decision presented",
		"session_id", sessionID,
		"decision_id", d.ID,
		"options", len(d.Options),
		"importance", d.Importance,
	)
	return &GenerateResult{Session: fresh, Decision: &d}, nil
}

func (p *DecisionProcessor) discard(s *session.Session, reason string) *GenerateResult {
	p.recorder.StaleDiscarded()
	p.logger.Info("Decision discarded", "session_id", s.ID, "reason", reason)
	return &GenerateResult{Session: s, Reason: reason}
}

// SelectOption resolves the session's pending decision.
func (p *DecisionProcessor) SelectOption(ctx context.Context, sessionID, decisionID, optionID, outcome string) (*session.Session, *impact.RecordWithImpact, error) {
	s, err := p.Load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	rec, err := s.SelectOption(p.service(), decisionID, optionID, outcome, p.now())
	if err != nil {
		return nil, nil, err
	}
	if err := p.storage.SaveSession(ctx, s); err != nil {
		return nil, nil, fmt.Errorf("failed to save session: %w", err)
	}

	p.logger.Info("Decision resolved",
		"session_id", sessionID,
		"decision_id", decisionID,
		"option_id", optionID,
		"impacts", len(rec.Impacts),
	)
	return s, rec, nil
}

// Evolve fades expired impacts. The session is only saved when something changed.
func (p *DecisionProcessor) Evolve(ctx context.Context, sessionID string) (*session.Session, bool, error) {
	s, err := p.Load(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	changed := s.Evolve(p.now())
	if changed {
		if err := p.storage.SaveSession(ctx, s); err != nil {
			return nil, false, fmt.Errorf("failed to save session: %w", err)
		}
	}
	return s, changed, nil
}

// Context builds the LLM narrative context for the session.
func (p *DecisionProcessor) Context(ctx context.Context, sessionID string, maxTokens int, level narrative.Level) (narrative.Result, error) {
	s, err := p.Load(ctx, sessionID)
	if err != nil {
		return narrative.Result{}, err
	}
	res := s.Context(maxTokens, level, p.estimator, p.now())
	p.recorder.ObserveContextTokens(res.TokenEstimate)
	return res, nil
}
