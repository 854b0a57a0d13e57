package narrative

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/impact"
)

// CurrentVersion is the shape version written by this package.
const CurrentVersion = 2

const legacySceneID = "legacy-scene"

// StoryPoint is a milestone in the story.
type StoryPoint struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"description"`
	Significance string    `json:"significance,omitempty"`
	Characters   []string  `json:"characters,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Arc is a long-running narrative thread.
type Arc struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	IsActive    bool     `json:"isActive"`
	Branches    []string `json:"branches,omitempty"`
}

// Branch is an alternative path within an arc.
type Branch struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"isActive"`
}

// Context is everything the engine knows about the story so far.
type Context struct {
	Version           int                       `json:"version"`
	WorldContext      string                    `json:"worldContext"`
	CharacterFocus    []string                  `json:"characterFocus"`
	Themes            []string                  `json:"themes"`
	ImportantEvents   []string                  `json:"importantEvents"`
	StoryPoints       map[string]StoryPoint     `json:"storyPoints"`
	NarrativeArcs     map[string]Arc            `json:"narrativeArcs"`
	NarrativeBranches map[string]Branch         `json:"narrativeBranches"`
	CurrentStoryPoint string                    `json:"currentStoryPoint,omitempty"`
	ImpactState       impact.State              `json:"impactState"`
	PendingDecisions  []decision.PlayerDecision `json:"pendingDecisions"`
	DecisionHistory   []impact.RecordWithImpact `json:"decisionHistory"`
	// FadingDecisions are records pushed out of DecisionHistory whose
	// time-limited impacts are still fading out of ImpactState.
	FadingDecisions []impact.RecordWithImpact `json:"fadingDecisions,omitempty"`
}

// NewContext returns an empty context at the current version.
func NewContext(now time.Time) *Context {
	return &Context{
		Version:           CurrentVersion,
		CharacterFocus:    []string{},
		Themes:            []string{},
		ImportantEvents:   []string{},
		StoryPoints:       map[string]StoryPoint{},
		NarrativeArcs:     map[string]Arc{},
		NarrativeBranches: map[string]Branch{},
		ImpactState:       impact.NewState(now),
		PendingDecisions:  []decision.PlayerDecision{},
		DecisionHistory:   []impact.RecordWithImpact{},
	}
}

// QualityContext is the view of c used to judge a new decision.
func (c *Context) QualityContext() *decision.QualityContext {
	if c == nil {
		return nil
	}
	return &decision.QualityContext{
		CharacterFocus:  c.CharacterFocus,
		Themes:          c.Themes,
		ImportantEvents: c.ImportantEvents,
	}
}

// StoryPointText renders the current story point, or "" if there is none.
func (c *Context) StoryPointText() string {
	if c == nil || c.CurrentStoryPoint == "" {
		return ""
	}
	sp, ok := c.StoryPoints[c.CurrentStoryPoint]
	if !ok {
		return ""
	}
	if sp.Title != "" && sp.Description != "" {
		return sp.Title + ": " + sp.Description
	}
	return sp.Title + sp.Description
}

// SetStoryPoint records sp and makes it current.
func (c *Context) SetStoryPoint(sp StoryPoint) {
	if c.StoryPoints == nil {
		c.StoryPoints = map[string]StoryPoint{}
	}
	c.StoryPoints[sp.ID] = sp
	c.CurrentStoryPoint = sp.ID
}

// AddImportantEvent appends event, keeping at most limit entries.
func (c *Context) AddImportantEvent(event string, limit int) {
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}
	c.ImportantEvents = append(c.ImportantEvents, event)
	if limit > 0 && len(c.ImportantEvents) > limit {
		c.ImportantEvents = c.ImportantEvents[len(c.ImportantEvents)-limit:]
	}
}

// MigrateLegacy converts a decoded narrative state of any known shape into a
// Context. Current-version input is decoded as is. Older input may nest the
// state under "narrativeContext" and use "context" and "currentScene" in
// place of worldContext and a story point.
func MigrateLegacy(raw map[string]any, now time.Time) (*Context, error) {
	if raw == nil {
		return NewContext(now), nil
	}
	if nested, ok := raw["narrativeContext"].(map[string]any); ok {
		merged := make(map[string]any, len(raw)+len(nested))
		for k, v := range raw {
			if k != "narrativeContext" {
				merged[k] = v
			}
		}
		for k, v := range nested {
			merged[k] = v
		}
		raw = merged
	}

	if v, ok := raw["version"].(float64); ok && int(v) >= CurrentVersion {
		c := NewContext(now)
		if err := remarshal(raw, c); err != nil {
			return nil, fmt.Errorf("decoding narrative context: %w", err)
		}
		c.Version = CurrentVersion
		c.fillDefaults(now)
		return c, nil
	}

	c := NewContext(now)
	c.WorldContext = firstString(raw, "worldContext", "context")
	c.CharacterFocus = stringList(raw["characterFocus"])
	c.Themes = stringList(raw["themes"])
	c.ImportantEvents = stringList(raw["importantEvents"])

	if id := firstString(raw, "currentStoryPoint"); id != "" {
		c.CurrentStoryPoint = id
	}
	if scene := firstString(raw, "currentScene"); scene != "" {
		c.SetStoryPoint(StoryPoint{ID: legacySceneID, Description: scene, Timestamp: now})
	}

	fields := []struct {
		key string
		dst any
	}{
		{"storyPoints", &c.StoryPoints},
		{"narrativeArcs", &c.NarrativeArcs},
		{"narrativeBranches", &c.NarrativeBranches},
		{"impactState", &c.ImpactState},
		{"pendingDecisions", &c.PendingDecisions},
		{"decisionHistory", &c.DecisionHistory},
		{"fadingDecisions", &c.FadingDecisions},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok || v == nil {
			continue
		}
		if err := remarshal(v, f.dst); err != nil {
			return nil, fmt.Errorf("migrating %s: %w", f.key, err)
		}
	}
	c.fillDefaults(now)
	return c, nil
}

func (c *Context) fillDefaults(now time.Time) {
	if c.CharacterFocus == nil {
		c.CharacterFocus = []string{}
	}
	if c.Themes == nil {
		c.Themes = []string{}
	}
	if c.ImportantEvents == nil {
		c.ImportantEvents = []string{}
	}
	if c.StoryPoints == nil {
		c.StoryPoints = map[string]StoryPoint{}
	}
	if c.NarrativeArcs == nil {
		c.NarrativeArcs = map[string]Arc{}
	}
	if c.NarrativeBranches == nil {
		c.NarrativeBranches = map[string]Branch{}
	}
	if c.PendingDecisions == nil {
		c.PendingDecisions = []decision.PlayerDecision{}
	}
	if c.DecisionHistory == nil {
		c.DecisionHistory = []impact.RecordWithImpact{}
	}
	if c.ImpactState.ReputationImpacts == nil && c.ImpactState.RelationshipImpacts == nil &&
		c.ImpactState.WorldStateImpacts == nil && c.ImpactState.StoryArcImpacts == nil {
		c.ImpactState = impact.NewState(now)
	}
}

func remarshal(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
