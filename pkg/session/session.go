// Package session holds one player's game: narrative, impact state and the
// decision lifecycle, in a shape that round-trips through JSON.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/engine"
	"github.com/jwebster45206/boothill-gm/pkg/impact"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
	"github.com/jwebster45206/boothill-gm/pkg/textutil"
)

const (
	// MaxHistory is how many narrative entries a session keeps.
	MaxHistory = 50
	// MaxImportantEvents is how many story milestones are kept on the context.
	MaxImportantEvents = 20
)

// Session is the persisted aggregate for one game.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Character engine.Character   `json:"character"`
	Location  *decision.Location `json:"location,omitempty"`
	Narrative *narrative.Context `json:"narrative"`
	History   []string           `json:"history"`

	SuggestedActions []textutil.SuggestedAction `json:"suggested_actions,omitempty"`

	// PendingRequestedAt is when generation of the pending decision was requested.
	PendingRequestedAt time.Time `json:"pending_requested_at,omitempty"`
	LastDecisionTime   time.Time `json:"last_decision_time,omitempty"`
}

// New creates an empty session.
func New(character engine.Character, location *decision.Location, worldContext string, now time.Time) *Session {
	nc := narrative.NewContext(now)
	nc.WorldContext = strings.TrimSpace(worldContext)
	if character.Name != "" {
		nc.CharacterFocus = []string{character.Name}
	}
	if character.Inventory == nil {
		character.Inventory = []string{}
	}
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Character: character,
		Location:  location,
		Narrative: nc,
		History:   []string{},
	}
}

// Validate checks invariants that storage relies on.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.Narrative == nil {
		return fmt.Errorf("session %s has no narrative context", s.ID)
	}
	if len(s.Narrative.PendingDecisions) > 1 {
		return fmt.Errorf("session %s has %d pending decisions", s.ID, len(s.Narrative.PendingDecisions))
	}
	return nil
}

// Pending returns the decision waiting on the player, or nil.
func (s *Session) Pending() *decision.PlayerDecision {
	if s.Narrative == nil || len(s.Narrative.PendingDecisions) == 0 {
		return nil
	}
	d := s.Narrative.PendingDecisions[len(s.Narrative.PendingDecisions)-1]
	return &d
}

// NarrativeUpdate is what AppendNarrative pulled out of a piece of text.
type NarrativeUpdate struct {
	Text             string                     `json:"text"`
	Items            textutil.ItemUpdates       `json:"items"`
	SuggestedActions []textutil.SuggestedAction `json:"suggested_actions,omitempty"`
	StoryPoint       *narrative.StoryPoint      `json:"story_point,omitempty"`
}

// AppendNarrative adds text to the history with its metadata markers removed,
// applies any item changes to the character's inventory and records a story
// point if the text declares one.
func (s *Session) AppendNarrative(text string, now time.Time) NarrativeUpdate {
	update := NarrativeUpdate{
		Text:             textutil.CleanMetadataMarkers(text),
		Items:            textutil.ExtractItemUpdates(text),
		SuggestedActions: textutil.ExtractSuggestedActions(text),
	}

	if sp, ok := textutil.ExtractStoryPoint(text); ok {
		point := narrative.StoryPoint{
			ID:           uuid.NewString(),
			Title:        sp.Title,
			Description:  sp.Description,
			Significance: sp.Significance,
			Characters:   sp.Characters,
			Timestamp:    now,
		}
		s.Narrative.SetStoryPoint(point)
		s.Narrative.AddImportantEvent(s.Narrative.StoryPointText(), MaxImportantEvents)
		update.StoryPoint = &point
	}

	if update.Text != "" {
		s.History = append(s.History, update.Text)
		if len(s.History) > MaxHistory {
			s.History = append([]string{}, s.History[len(s.History)-MaxHistory:]...)
		}
	}
	s.applyItems(update.Items)
	if update.SuggestedActions != nil {
		s.SuggestedActions = update.SuggestedActions
	}
	s.UpdatedAt = now
	return update
}

func (s *Session) applyItems(u textutil.ItemUpdates) {
	fold := cases.Fold()
	owned := make(map[string]bool, len(s.Character.Inventory))
	for _, it := range s.Character.Inventory {
		owned[fold.String(it)] = true
	}
	for _, it := range u.Acquired {
		if key := fold.String(it); !owned[key] {
			owned[key] = true
			s.Character.Inventory = append(s.Character.Inventory, it)
		}
	}
	if len(u.Removed) == 0 {
		return
	}
	removed := make(map[string]bool, len(u.Removed))
	for _, it := range u.Removed {
		removed[fold.String(it)] = true
	}
	kept := s.Character.Inventory[:0]
	for _, it := range s.Character.Inventory {
		if !removed[fold.String(it)] {
			kept = append(kept, it)
		}
	}
	s.Character.Inventory = kept
}

// NarrativeState is the engine's view of the session.
func (s *Session) NarrativeState() engine.NarrativeState {
	return engine.NarrativeState{
		Context:  s.Narrative,
		History:  s.History,
		Location: s.Location,
	}
}

// Load restores svc from the session.
func (s *Session) Load(svc *engine.DecisionService) {
	svc.Restore(s.Pending(), s.Narrative.DecisionHistory, s.LastDecisionTime)
}

// Sync copies svc's lifecycle state back into the session.
func (s *Session) Sync(svc *engine.DecisionService, now time.Time) {
	if d := svc.Pending(); d != nil {
		s.Narrative.PendingDecisions = []decision.PlayerDecision{*d}
	} else {
		s.Narrative.PendingDecisions = []decision.PlayerDecision{}
		s.PendingRequestedAt = time.Time{}
	}
	s.retire(svc.History())
	s.LastDecisionTime = svc.LastDecisionAt()
	s.UpdatedAt = now
}

// retire replaces the decision history with kept. Applied records that fall
// out of the history while their impacts are still fading move to
// FadingDecisions so Evolve keeps fading them.
func (s *Session) retire(kept []impact.RecordWithImpact) {
	ids := make(map[string]bool, len(kept))
	for _, rec := range kept {
		ids[rec.DecisionID] = true
	}
	for _, rec := range s.Narrative.DecisionHistory {
		if !ids[rec.DecisionID] && !rec.FadedBy(s.Narrative.ImpactState.LastEvolved) {
			s.Narrative.FadingDecisions = append(s.Narrative.FadingDecisions, rec)
		}
	}
	s.Narrative.DecisionHistory = kept
}

// Present makes d the session's pending decision.
func (s *Session) Present(svc *engine.DecisionService, d decision.PlayerDecision, requestedAt, now time.Time) error {
	s.Load(svc)
	if err := svc.Present(d); err != nil {
		return err
	}
	s.Sync(svc, now)
	s.PendingRequestedAt = requestedAt
	return nil
}

// SelectOption resolves the pending decision with optionID, applies the
// resulting impacts to the impact state and returns the record.
func (s *Session) SelectOption(svc *engine.DecisionService, decisionID, optionID, outcome string, now time.Time) (*impact.RecordWithImpact, error) {
	s.Load(svc)
	rec, err := svc.Resolve(decisionID, optionID, outcome)
	if err != nil {
		return nil, err
	}
	s.Sync(svc, now)
	s.ApplyRecord(rec, now)
	return rec, nil
}

// ApplyRecord processes rec into the impact state and stores the processed
// copy in the decision history. Already-processed records change nothing.
func (s *Session) ApplyRecord(rec *impact.RecordWithImpact, now time.Time) {
	if rec == nil || rec.ProcessedForImpact {
		return
	}
	s.Narrative.ImpactState = impact.ProcessDecisionImpacts(s.Narrative.ImpactState, rec, now)

	replaced := false
	for i := range s.Narrative.DecisionHistory {
		if s.Narrative.DecisionHistory[i].DecisionID == rec.DecisionID {
			s.Narrative.DecisionHistory[i] = *rec
			replaced = true
		}
	}
	if !replaced {
		s.Narrative.DecisionHistory = append(s.Narrative.DecisionHistory, *rec)
	}
	if rec.ImpactDescription != "" {
		s.Narrative.AddImportantEvent(rec.ImpactDescription, MaxImportantEvents)
	}
	s.UpdatedAt = now
}

// Evolve fades expired minor impacts, including those of records that have
// left the decision history. It reports whether anything changed.
func (s *Session) Evolve(now time.Time) bool {
	before := s.Narrative.ImpactState.LastEvolved
	records := append(append([]impact.RecordWithImpact{}, s.Narrative.FadingDecisions...), s.Narrative.DecisionHistory...)
	s.Narrative.ImpactState = impact.EvolveImpactsOverTime(s.Narrative.ImpactState, records, now)
	changed := !s.Narrative.ImpactState.LastEvolved.Equal(before)

	if len(s.Narrative.FadingDecisions) > 0 {
		fading := s.Narrative.FadingDecisions[:0]
		for _, rec := range s.Narrative.FadingDecisions {
			if !rec.FadedBy(s.Narrative.ImpactState.LastEvolved) {
				fading = append(fading, rec)
			}
		}
		s.Narrative.FadingDecisions = fading
	}
	if changed {
		s.UpdatedAt = now
	}
	return changed
}

// ReconciledImpacts merges the impacts of every remembered decision by
// (type, target).
func (s *Session) ReconciledImpacts() []impact.DecisionImpact {
	var all []impact.DecisionImpact
	for _, rec := range s.Narrative.DecisionHistory {
		all = append(all, rec.Impacts...)
	}
	return impact.ReconcileConflictingImpacts(all)
}

// Context builds the LLM context for the session.
func (s *Session) Context(maxTokens int, level narrative.Level, estimator narrative.TokenEstimator, now time.Time) narrative.Result {
	b := narrative.NewBuilder().
		WithContext(s.Narrative).
		WithHistory(s.History).
		WithActiveDecision(s.Pending()).
		WithLocation(s.Location).
		WithMaxTokens(maxTokens).
		WithCompression(level).
		WithNow(now)
	if estimator != nil {
		b = b.WithEstimator(estimator)
	}
	return b.Build()
}
