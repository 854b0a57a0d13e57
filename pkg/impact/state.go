package impact

import (
	"math"
	"sort"
	"time"
)

// PlayerSubject is the subject key relationship impacts are nested under.
const PlayerSubject = "player"

// State is the running total of every applied impact. Character and
// inventory impacts are carried on records only and never aggregated here.
//
// State is treated as a value: every operation returns a new State and leaves
// its input untouched.
type State struct {
	ReputationImpacts   map[string]float64            `json:"reputationImpacts"`
	RelationshipImpacts map[string]map[string]float64 `json:"relationshipImpacts"`
	WorldStateImpacts   map[string]float64            `json:"worldStateImpacts"`
	StoryArcImpacts     map[string]float64            `json:"storyArcImpacts"`
	LastUpdated         time.Time                     `json:"lastUpdated"`
	// LastEvolved is the time of the last evolution that changed anything.
	LastEvolved time.Time `json:"lastEvolved"`
}

// NewState returns an empty State stamped with now.
func NewState(now time.Time) State {
	return State{
		ReputationImpacts:   map[string]float64{},
		RelationshipImpacts: map[string]map[string]float64{},
		WorldStateImpacts:   map[string]float64{},
		StoryArcImpacts:     map[string]float64{},
		LastUpdated:         now,
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	c.ReputationImpacts = cloneMap(s.ReputationImpacts)
	c.WorldStateImpacts = cloneMap(s.WorldStateImpacts)
	c.StoryArcImpacts = cloneMap(s.StoryArcImpacts)
	c.RelationshipImpacts = make(map[string]map[string]float64, len(s.RelationshipImpacts))
	for subject, m := range s.RelationshipImpacts {
		c.RelationshipImpacts[subject] = cloneMap(m)
	}
	return c
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Value returns the accumulated value for t and target.
func (s State) Value(t Type, target string) float64 {
	switch t {
	case TypeReputation:
		return s.ReputationImpacts[target]
	case TypeRelationship:
		return s.RelationshipImpacts[PlayerSubject][target]
	case TypeWorldState:
		return s.WorldStateImpacts[target]
	case TypeStoryArc:
		return s.StoryArcImpacts[target]
	}
	return 0
}

func aggregated(t Type) bool {
	switch t {
	case TypeReputation, TypeRelationship, TypeWorldState, TypeStoryArc:
		return true
	}
	return false
}

// add mutates s and must only be called on a clone.
func (s *State) add(t Type, target string, v float64) {
	var m map[string]float64
	switch t {
	case TypeReputation:
		if s.ReputationImpacts == nil {
			s.ReputationImpacts = map[string]float64{}
		}
		m = s.ReputationImpacts
	case TypeRelationship:
		if s.RelationshipImpacts == nil {
			s.RelationshipImpacts = map[string]map[string]float64{}
		}
		if s.RelationshipImpacts[PlayerSubject] == nil {
			s.RelationshipImpacts[PlayerSubject] = map[string]float64{}
		}
		m = s.RelationshipImpacts[PlayerSubject]
	case TypeWorldState:
		if s.WorldStateImpacts == nil {
			s.WorldStateImpacts = map[string]float64{}
		}
		m = s.WorldStateImpacts
	case TypeStoryArc:
		if s.StoryArcImpacts == nil {
			s.StoryArcImpacts = map[string]float64{}
		}
		m = s.StoryArcImpacts
	default:
		return
	}
	m[target] += v
}

// Delta is one non-zero entry of a State.
type Delta struct {
	Type    Type    `json:"type"`
	Subject string  `json:"subject,omitempty"`
	Target  string  `json:"target"`
	Value   float64 `json:"value"`
}

// Deltas lists the non-zero entries of s, largest magnitude first.
func (s State) Deltas() []Delta {
	var out []Delta
	collect := func(t Type, subject string, m map[string]float64) {
		for target, v := range m {
			if math.Abs(v) < 1e-9 {
				continue
			}
			out = append(out, Delta{Type: t, Subject: subject, Target: target, Value: v})
		}
	}
	collect(TypeReputation, "", s.ReputationImpacts)
	for subject, m := range s.RelationshipImpacts {
		collect(TypeRelationship, subject, m)
	}
	collect(TypeWorldState, "", s.WorldStateImpacts)
	collect(TypeStoryArc, "", s.StoryArcImpacts)

	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Value), math.Abs(out[j].Value)
		if ai != aj {
			return ai > aj
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// ProcessDecisionImpacts applies rec's impacts to state. Records already
// processed are ignored and state is returned as is. On success rec is marked
// processed and stamped with now.
func ProcessDecisionImpacts(state State, rec *RecordWithImpact, now time.Time) State {
	if rec == nil || rec.ProcessedForImpact {
		return state
	}

	next := state.Clone()
	for _, imp := range rec.Impacts {
		next.add(imp.Type, imp.Target, imp.Value)
	}
	if now.After(next.LastUpdated) {
		next.LastUpdated = now
	}

	rec.ProcessedForImpact = true
	rec.LastImpactUpdate = now
	return next
}

// remaining is the share of an impact still in effect after elapsed. It stays
// at 1 for the impact's duration, then fades linearly to 0 over the same span.
func remaining(elapsed, duration time.Duration) float64 {
	if elapsed <= duration {
		return 1
	}
	return math.Max(0, 1-float64(elapsed-duration)/float64(duration))
}

// FadedBy reports whether every time-limited impact of rec has faded to
// nothing by t. Records that were never applied have nothing to fade.
func (r RecordWithImpact) FadedBy(t time.Time) bool {
	if !r.ProcessedForImpact {
		return true
	}
	applied := r.LastImpactUpdate
	if applied.IsZero() {
		applied = r.Timestamp
	}
	for _, imp := range r.Impacts {
		if imp.Permanent() || imp.Value == 0 || !aggregated(imp.Type) {
			continue
		}
		if remaining(t.Sub(applied), imp.Duration) > 0 {
			return false
		}
	}
	return true
}

// EvolveImpactsOverTime fades expired, time-limited impacts of processed
// records toward zero. Permanent impacts and unprocessed records are never
// touched. The result is state itself when nothing changed.
func EvolveImpactsOverTime(state State, records []RecordWithImpact, now time.Time) State {
	if now.Before(state.LastEvolved) {
		return state
	}

	var next *State
	for _, rec := range records {
		if !rec.ProcessedForImpact {
			continue
		}
		applied := rec.LastImpactUpdate
		if applied.IsZero() {
			applied = rec.Timestamp
		}
		since := state.LastEvolved
		if since.Before(applied) {
			since = applied
		}

		for _, imp := range rec.Impacts {
			if imp.Permanent() || imp.Value == 0 || !aggregated(imp.Type) {
				continue
			}
			faded := imp.Value * (remaining(since.Sub(applied), imp.Duration) - remaining(now.Sub(applied), imp.Duration))
			if faded == 0 {
				continue
			}
			if next == nil {
				c := state.Clone()
				next = &c
			}
			next.add(imp.Type, imp.Target, -faded)
		}
	}

	if next == nil {
		return state
	}
	next.LastEvolved = now
	if now.After(next.LastUpdated) {
		next.LastUpdated = now
	}
	return *next
}
