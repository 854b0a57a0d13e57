package decision

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrOptionNotFound is returned when a selected option id is not part of a decision.
var ErrOptionNotFound = errors.New("option not found")

// Importance ranks how much a decision matters to the story.
type Importance string

const (
	ImportanceCritical    Importance = "critical"
	ImportanceSignificant Importance = "significant"
	ImportanceModerate    Importance = "moderate"
	ImportanceMinor       Importance = "minor"
)

// Valid reports whether i is one of the known importance levels.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceCritical, ImportanceSignificant, ImportanceModerate, ImportanceMinor:
		return true
	}
	return false
}

// ParseImportance normalizes s, falling back to moderate for unknown values.
func ParseImportance(s string) Importance {
	imp := Importance(strings.ToLower(strings.TrimSpace(s)))
	if !imp.Valid() {
		return ImportanceModerate
	}
	return imp
}

// StaticRelevance is the 0-10 relevance stamped on a record at creation time.
func (i Importance) StaticRelevance() float64 {
	switch i {
	case ImportanceCritical:
		return 10
	case ImportanceSignificant:
		return 8
	case ImportanceMinor:
		return 2
	default:
		return 5
	}
}

// Location is where the player currently is, e.g. {Type: "town", Name: "Dusty Gulch"}.
type Location struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Option is one choice offered to the player.
type Option struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Impact string   `json:"impact"`
	Tags   []string `json:"tags,omitempty"`
}

// PlayerDecision is a decision point presented to the player.
// It is not modified after it has been presented.
type PlayerDecision struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	Options     []Option   `json:"options"`
	Timestamp   time.Time  `json:"timestamp"`
	Context     string     `json:"context,omitempty"`
	Importance  Importance `json:"importance"`
	Characters  []string   `json:"characters,omitempty"`
	Location    *Location  `json:"location,omitempty"`
	AIGenerated bool       `json:"aiGenerated"`
}

// Option returns the option with the given id.
func (d *PlayerDecision) Option(id string) (Option, bool) {
	for _, opt := range d.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

// Record is the durable result of a resolved decision.
type Record struct {
	DecisionID        string    `json:"decisionId"`
	SelectedOptionID  string    `json:"selectedOptionId"`
	Timestamp         time.Time `json:"timestamp"`
	Narrative         string    `json:"narrative"`
	ImpactDescription string    `json:"impactDescription"`
	Tags              []string  `json:"tags"`
	RelevanceScore    float64   `json:"relevanceScore"`
}

// NewRecord builds the record for the player choosing optionID on d.
func NewRecord(d *PlayerDecision, optionID, outcome string, now time.Time) (Record, error) {
	opt, ok := d.Option(optionID)
	if !ok {
		return Record{}, fmt.Errorf("decision %s: %w: %s", d.ID, ErrOptionNotFound, optionID)
	}

	tags := make([]string, 0, len(opt.Tags)+len(d.Characters))
	tags = append(tags, opt.Tags...)
	for _, name := range d.Characters {
		tags = append(tags, "character:"+name)
	}

	return Record{
		DecisionID:        d.ID,
		SelectedOptionID:  optionID,
		Timestamp:         now,
		Narrative:         outcome,
		ImpactDescription: opt.Impact,
		Tags:              tags,
		RelevanceScore:    d.Importance.StaticRelevance(),
	}, nil
}

// ScoringRecord implements Scorable.
func (r Record) ScoringRecord() Record { return r }

// ScoringImpacts implements Scorable. Plain records carry no impact data.
func (r Record) ScoringImpacts() *ImpactSummary { return nil }
