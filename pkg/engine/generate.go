package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/boothill-gm/pkg/chat"
	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
)

// ErrInvalidResponse is returned by ParseDecisionResponse for unusable model output.
var ErrInvalidResponse = errors.New("invalid decision response")

// ContinueOptionText is appended when a generated decision has too few options.
const ContinueOptionText = "Continue forward"

var fillerOptions = []string{ContinueOptionText, "Wait and see what happens"}

const defaultPromptTokens = 1200

// DecisionSystemPrompt instructs the model to answer with a single decision.
const DecisionSystemPrompt = `You are the game master of a Boot Hill style western roleplaying game. Based on the story so far, write ONE meaningful decision for the player character.

Respond with a single JSON object and nothing else:
{"prompt": "...", "options": [{"text": "...", "impact": "...", "tags": ["..."]}], "importance": "critical|significant|moderate|minor", "context": "...", "characters": ["..."]}

Rules:
- 2 to 4 options, each a distinct course of action.
- "impact" describes the consequence, mentioning reputation, relationships, the town, the story or items where they apply.
- Stay true to the period and the characters already present.
- Never decide for the player.`

// GenerateDecision produces the next decision. With no cfg or client, or on
// any failure of the model call or its output, it returns a fallback decision.
// The result always has a prompt and at least two options.
func (s *DecisionService) GenerateDecision(ctx context.Context, state NarrativeState, character Character, cfg *APIConfig) decision.PlayerDecision {
	s.setPhase(PhaseGenerating)
	now := s.now()

	var qc *decision.QualityContext
	if state.Context != nil {
		qc = state.Context.QualityContext()
	}

	if cfg == nil || s.client == nil {
		d := FallbackDecision(state, character, now)
		s.report(SourceFallback, d, qc)
		return d
	}

	messages := BuildDecisionMessages(state, character, cfg.MaxContextTokens)
	raw, err := s.client.Call(ctx, messages, *cfg)
	if err != nil {
		s.logger.Warn("Decision generation failed, using fallback", "error", err, "provider", cfg.Provider)
		d := FallbackDecision(state, character, now)
		s.report(SourceFallback, d, qc)
		return d
	}

	d, err := ParseDecisionResponse(raw, now)
	if err != nil {
		s.logger.Warn("Decision response rejected, using fallback", "error", err, "raw_length", len(raw))
		d = FallbackDecision(state, character, now)
		s.report(SourceFallback, d, qc)
		return d
	}
	if d.Location == nil {
		d.Location = state.Location
	}
	s.report(SourceAI, d, qc)
	return d
}

func (s *DecisionService) report(source string, d decision.PlayerDecision, qc *decision.QualityContext) {
	q := decision.EvaluateDecisionQuality(&d, qc)
	if !q.Acceptable {
		s.logger.Info("Decision below quality bar",
			"decision_id", d.ID,
			"source", source,
			"score", q.Score,
			"suggestions", q.Suggestions)
	}
	s.observer.DecisionGenerated(source, q.Score)
}

// BuildDecisionMessages renders the system instructions and the narrative
// context for a decision request.
func BuildDecisionMessages(state NarrativeState, character Character, maxTokens int) []chat.ChatMessage {
	if maxTokens <= 0 {
		maxTokens = defaultPromptTokens
	}
	res := narrative.NewBuilder().
		WithContext(state.Context).
		WithHistory(state.History).
		WithLocation(state.Location).
		WithMaxTokens(maxTokens).
		Build()

	var sb strings.Builder
	if character.Name != "" {
		fmt.Fprintf(&sb, "## Player Character\n%s", character.Name)
		if len(character.Inventory) > 0 {
			fmt.Fprintf(&sb, " (carrying: %s)", strings.Join(character.Inventory, ", "))
		}
		sb.WriteString("\n\n")
	}
	if state.Location != nil && state.Location.Type != "" {
		fmt.Fprintf(&sb, "## Location\n%s", state.Location.Type)
		if state.Location.Name != "" {
			fmt.Fprintf(&sb, ": %s", state.Location.Name)
		}
		sb.WriteString("\n\n")
	}
	if res.Text != "" {
		sb.WriteString(res.Text)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Write the decision now.")

	return []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: DecisionSystemPrompt},
		{Role: chat.ChatRoleUser, Content: sb.String()},
	}
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

type wireOption struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Impact string   `json:"impact"`
	Tags   []string `json:"tags"`
}

type wireDecision struct {
	DecisionID string       `json:"decisionId"`
	Prompt     string       `json:"prompt"`
	Options    []wireOption `json:"options"`
	Context    string       `json:"context"`
	Importance string       `json:"importance"`
	Characters []string     `json:"characters"`
}

// ParseDecisionResponse extracts a decision from raw model output. The JSON
// may be wrapped in a markdown code fence or surrounded by prose. Missing ids
// are generated, unknown importance becomes moderate, and a "Continue
// forward" option is added when fewer than two usable options remain.
func ParseDecisionResponse(raw string, now time.Time) (decision.PlayerDecision, error) {
	body := extractJSON(raw)
	if body == "" {
		return decision.PlayerDecision{}, fmt.Errorf("%w: no JSON object found", ErrInvalidResponse)
	}

	var w wireDecision
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return decision.PlayerDecision{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	prompt := strings.TrimSpace(w.Prompt)
	if prompt == "" {
		return decision.PlayerDecision{}, fmt.Errorf("%w: missing prompt", ErrInvalidResponse)
	}

	d := decision.PlayerDecision{
		ID:          strings.TrimSpace(w.DecisionID),
		Prompt:      prompt,
		Options:     make([]decision.Option, 0, len(w.Options)+1),
		Timestamp:   now,
		Context:     strings.TrimSpace(w.Context),
		Importance:  decision.ParseImportance(w.Importance),
		Characters:  nonEmpty(w.Characters),
		AIGenerated: true,
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	seen := map[string]bool{}
	for _, o := range w.Options {
		text := strings.TrimSpace(o.Text)
		if text == "" {
			continue
		}
		id := strings.TrimSpace(o.ID)
		if id == "" || seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true
		d.Options = append(d.Options, decision.Option{
			ID:     id,
			Text:   text,
			Impact: strings.TrimSpace(o.Impact),
			Tags:   nonEmpty(o.Tags),
		})
	}
	for _, filler := range fillerOptions {
		if len(d.Options) >= 2 {
			break
		}
		d.Options = append(d.Options, decision.Option{
			ID:     uuid.NewString(),
			Text:   filler,
			Impact: "The story moves on.",
			Tags:   []string{},
		})
	}
	return d, nil
}

func extractJSON(raw string) string {
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
