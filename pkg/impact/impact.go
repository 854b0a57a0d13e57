package impact

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/boothill-gm/pkg/decision"
)

// Type is the kind of thing an impact changes.
type Type string

const (
	TypeReputation   Type = "reputation"
	TypeRelationship Type = "relationship"
	TypeWorldState   Type = "world-state"
	TypeStoryArc     Type = "story-arc"
	TypeCharacter    Type = "character"
	TypeInventory    Type = "inventory"
)

// Severity scales an impact's magnitude.
type Severity string

const (
	SeverityMajor    Severity = "major"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
)

func (s Severity) rank() int {
	switch s {
	case SeverityMajor:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// MinorDuration is how long minor impacts last before they start to fade.
const MinorDuration = 7 * 24 * time.Hour

// GeneralTarget is used when an impact has no more specific target.
const GeneralTarget = "general"

// DecisionImpact is one typed effect of a resolved decision. A zero Duration
// means the impact is permanent.
type DecisionImpact struct {
	ID                 string        `json:"id"`
	Type               Type          `json:"type"`
	Target             string        `json:"target"`
	Severity           Severity      `json:"severity"`
	Description        string        `json:"description"`
	Value              float64       `json:"value"`
	Duration           time.Duration `json:"duration,omitempty"`
	Conditions         []string      `json:"conditions"`
	RelatedDecisionIDs []string      `json:"relatedDecisionIds"`
}

// Permanent reports whether the impact never decays.
func (i DecisionImpact) Permanent() bool { return i.Duration <= 0 }

// RecordWithImpact is a decision record together with the impacts it caused.
// ProcessedForImpact flips to true exactly once, when the impacts are applied
// to a State.
type RecordWithImpact struct {
	decision.Record
	Impacts            []DecisionImpact `json:"impacts"`
	ProcessedForImpact bool             `json:"processedForImpact"`
	LastImpactUpdate   time.Time        `json:"lastImpactUpdate"`
}

// ScoringImpacts implements decision.Scorable.
func (r RecordWithImpact) ScoringImpacts() *decision.ImpactSummary {
	if len(r.Impacts) == 0 {
		return nil
	}
	applied := r.LastImpactUpdate
	if applied.IsZero() {
		applied = r.Timestamp
	}
	s := &decision.ImpactSummary{
		Values:    make([]float64, len(r.Impacts)),
		Durations: make([]time.Duration, len(r.Impacts)),
		AppliedAt: applied,
	}
	for i, imp := range r.Impacts {
		s.Values[i] = imp.Value
		s.Durations[i] = imp.Duration
	}
	return s
}

// ValidationError reports a selection that does not match the decision.
type ValidationError struct {
	DecisionID string
	OptionID   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid selection: option %q not found on decision %q", e.OptionID, e.DecisionID)
}

func (e *ValidationError) Unwrap() error { return decision.ErrOptionNotFound }

// Classifier infers impact types from an impact description.
type Classifier interface {
	Classify(text string) []Type
}

// KeywordRule maps words to an impact type.
type KeywordRule struct {
	Type     Type
	Keywords []string
}

// DefaultKeywordRules is the rule set used by NewKeywordClassifier(nil).
var DefaultKeywordRules = []KeywordRule{
	{Type: TypeReputation, Keywords: []string{"reputation", "opinion"}},
	{Type: TypeRelationship, Keywords: []string{"relationship", "friendship", "alliance"}},
	{Type: TypeStoryArc, Keywords: []string{"story", "quest", "mission"}},
	{Type: TypeWorldState, Keywords: []string{"town", "location", "world"}},
	{Type: TypeCharacter, Keywords: []string{"skill", "ability", "character"}},
	{Type: TypeInventory, Keywords: []string{"item", "weapon", "inventory"}},
}

type compiledRule struct {
	typ Type
	re  *regexp.Regexp
}

// KeywordClassifier matches words at word starts, case-insensitively, so
// "townsfolk" counts as "town" but "history" does not count as "story".
type KeywordClassifier struct {
	rules []compiledRule
}

// NewKeywordClassifier compiles rules, falling back to DefaultKeywordRules.
func NewKeywordClassifier(rules []KeywordRule) *KeywordClassifier {
	if len(rules) == 0 {
		rules = DefaultKeywordRules
	}
	kc := &KeywordClassifier{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if len(r.Keywords) == 0 {
			continue
		}
		quoted := make([]string, len(r.Keywords))
		for i, k := range r.Keywords {
			quoted[i] = regexp.QuoteMeta(strings.ToLower(k))
		}
		kc.rules = append(kc.rules, compiledRule{
			typ: r.Type,
			re:  regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)`),
		})
	}
	return kc
}

// Classify returns every matching type in rule order, or world-state when
// nothing matches.
func (kc *KeywordClassifier) Classify(text string) []Type {
	var types []Type
	for _, r := range kc.rules {
		if r.re.MatchString(text) {
			types = append(types, r.typ)
		}
	}
	if len(types) == 0 {
		return []Type{TypeWorldState}
	}
	return types
}

// Generator turns a selected option into impacts.
type Generator struct {
	classifier Classifier
}

// NewGenerator returns a Generator using c, or the keyword classifier when c is nil.
func NewGenerator(c Classifier) *Generator {
	if c == nil {
		c = NewKeywordClassifier(nil)
	}
	return &Generator{classifier: c}
}

var defaultGenerator = NewGenerator(nil)

// CreateDecisionImpacts derives impacts with the default keyword classifier.
func CreateDecisionImpacts(d *decision.PlayerDecision, optionID string) ([]DecisionImpact, error) {
	return defaultGenerator.CreateDecisionImpacts(d, optionID)
}

// CreateDecisionImpacts derives the impacts of choosing optionID on d. It
// returns a *ValidationError if the option does not exist.
func (g *Generator) CreateDecisionImpacts(d *decision.PlayerDecision, optionID string) ([]DecisionImpact, error) {
	opt, ok := d.Option(optionID)
	if !ok {
		return nil, &ValidationError{DecisionID: d.ID, OptionID: optionID}
	}

	severity := severityFor(d.Importance)
	value := magnitude(severity)
	if strings.Contains(strings.ToLower(opt.Text+" "+opt.Impact), "negative") {
		value = -value
	}
	var duration time.Duration
	if severity == SeverityMinor {
		duration = MinorDuration
	}
	description := opt.Impact
	if description == "" {
		description = opt.Text
	}

	types := g.classifier.Classify(opt.Impact)
	impacts := make([]DecisionImpact, 0, len(types))
	for _, t := range types {
		conditions := make([]string, len(opt.Tags))
		copy(conditions, opt.Tags)
		impacts = append(impacts, DecisionImpact{
			ID:                 uuid.NewString(),
			Type:               t,
			Target:             targetFor(t, d),
			Severity:           severity,
			Description:        description,
			Value:              value,
			Duration:           duration,
			Conditions:         conditions,
			RelatedDecisionIDs: []string{},
		})
	}
	return impacts, nil
}

// NewRecord resolves d with optionID and attaches the derived impacts. The
// returned record has not yet been applied to any State.
func (g *Generator) NewRecord(d *decision.PlayerDecision, optionID, outcome string, now time.Time) (*RecordWithImpact, error) {
	impacts, err := g.CreateDecisionImpacts(d, optionID)
	if err != nil {
		return nil, err
	}
	rec, err := decision.NewRecord(d, optionID, outcome, now)
	if err != nil {
		return nil, err
	}
	return &RecordWithImpact{Record: rec, Impacts: impacts}, nil
}

func severityFor(imp decision.Importance) Severity {
	switch imp {
	case decision.ImportanceCritical:
		return SeverityMajor
	case decision.ImportanceSignificant:
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

func magnitude(s Severity) float64 {
	switch s {
	case SeverityMajor:
		return 8
	case SeverityModerate:
		return 5
	default:
		return 2
	}
}

func targetFor(t Type, d *decision.PlayerDecision) string {
	firstCharacter := ""
	for _, c := range d.Characters {
		if strings.TrimSpace(c) != "" {
			firstCharacter = c
			break
		}
	}

	switch t {
	case TypeReputation:
		if d.Location != nil && d.Location.Name != "" {
			return d.Location.Name
		}
		if firstCharacter != "" {
			return firstCharacter
		}
	case TypeRelationship:
		if firstCharacter != "" {
			return firstCharacter
		}
	case TypeWorldState:
		if d.Location != nil {
			if d.Location.Name != "" {
				return d.Location.Name
			}
			if d.Location.Type != "" {
				return d.Location.Type
			}
		}
	}
	return GeneralTarget
}
