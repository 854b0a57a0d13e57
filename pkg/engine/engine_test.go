package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/boothill-gm/pkg/chat"
	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/impact"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
)

type mockClient struct {
	CallFunc func(ctx context.Context, messages []chat.ChatMessage, cfg APIConfig) (string, error)

	mu    sync.Mutex
	calls [][]chat.ChatMessage
}

func (m *mockClient) Call(ctx context.Context, messages []chat.ChatMessage, cfg APIConfig) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()
	if m.CallFunc != nil {
		return m.CallFunc(ctx, messages, cfg)
	}
	return "", errors.New("no response configured")
}

type recordingObserver struct {
	sources  []string
	resolved []*impact.RecordWithImpact
}

func (o *recordingObserver) DecisionGenerated(source string, _ float64) {
	o.sources = append(o.sources, source)
}

func (o *recordingObserver) DecisionResolved(rec *impact.RecordWithImpact) {
	o.resolved = append(o.resolved, rec)
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time { return func() time.Time { return testNow } }

func TestGenerateDecision_FallbackGuarantee(t *testing.T) {
	tests := []struct {
		name     string
		location *decision.Location
		wantIn   string
	}{
		{"no location", nil, "The dust settles"},
		{"town", &decision.Location{Type: "town", Name: "Dusty Gulch"}, "townsfolk"},
		{"alias", &decision.Location{Type: "Trail"}, "Tracks cross the trail"},
		{"saloon", &decision.Location{Type: "saloon"}, "cheating"},
		{"unknown type", &decision.Location{Type: "riverboat"}, "The dust settles"},
	}

	svc := NewDecisionService(nil, nil, WithClock(fixedClock()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := svc.GenerateDecision(context.Background(), NarrativeState{Location: tt.location}, Character{Name: "Doc"}, nil)

			assert.NotEmpty(t, d.ID)
			assert.NotEmpty(t, d.Prompt)
			assert.Contains(t, d.Prompt, tt.wantIn)
			assert.GreaterOrEqual(t, len(d.Options), 2)
			assert.False(t, d.AIGenerated)
			assert.Equal(t, decision.ImportanceModerate, d.Importance)
			assert.Equal(t, testNow, d.Timestamp)
			for _, o := range d.Options {
				assert.NotEmpty(t, o.ID)
				assert.NotEmpty(t, o.Text)
			}
		})
	}
}

func TestGenerateDecision_FallbackWithoutName(t *testing.T) {
	d := FallbackDecision(NarrativeState{}, Character{}, testNow)
	assert.Equal(t, "The dust settles around you. A choice lies ahead. What will you do?", d.Prompt)
}

func TestGenerateDecision_NoClientUsesFallback(t *testing.T) {
	obs := &recordingObserver{}
	svc := NewDecisionService(nil, nil, WithObserver(obs))
	d := svc.GenerateDecision(context.Background(), NarrativeState{}, Character{}, &APIConfig{Provider: "anthropic"})
	assert.False(t, d.AIGenerated)
	assert.Equal(t, []string{SourceFallback}, obs.sources)
}

func TestGenerateDecision_AI(t *testing.T) {
	client := &mockClient{
		CallFunc: func(ctx context.Context, messages []chat.ChatMessage, cfg APIConfig) (string, error) {
			return "Here you go:\n```json\n" + `{
				"prompt": "Black Bart offers you a cut of the stagecoach job.",
				"options": [
					{"id": "join", "text": "Join the gang", "impact": "Your reputation with the law collapses"},
					{"text": "Turn him in", "impact": "Your relationship with the sheriff improves"}
				],
				"importance": "Significant",
				"characters": ["Black Bart", " "]
			}` + "\n```", nil
		},
	}
	obs := &recordingObserver{}
	svc := NewDecisionService(client, nil, WithClock(fixedClock()), WithObserver(obs))

	nctx := narrative.NewContext(testNow)
	nctx.WorldContext = "Arizona Territory"
	state := NarrativeState{
		Context:  nctx,
		History:  []string{"Bart slides into the seat across from you."},
		Location: &decision.Location{Type: "saloon", Name: "Silver Spur"},
	}
	d := svc.GenerateDecision(context.Background(), state, Character{Name: "Doc"}, &APIConfig{Provider: "mock", MaxRetries: 1})

	assert.True(t, d.AIGenerated)
	assert.Equal(t, "Black Bart offers you a cut of the stagecoach job.", d.Prompt)
	require.Len(t, d.Options, 2)
	assert.Equal(t, "join", d.Options[0].ID)
	assert.NotEmpty(t, d.Options[1].ID)
	assert.Equal(t, decision.ImportanceSignificant, d.Importance)
	assert.Equal(t, []string{"Black Bart"}, d.Characters)
	assert.Equal(t, state.Location, d.Location)
	assert.Equal(t, []string{SourceAI}, obs.sources)

	require.Len(t, client.calls, 1)
	msgs := client.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.ChatRoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "Doc")
	assert.Contains(t, msgs[1].Content, "saloon: Silver Spur")
	assert.Contains(t, msgs[1].Content, "Bart slides into the seat")
	assert.Contains(t, msgs[1].Content, "Arizona Territory")
}

func TestGenerateDecision_ErrorsFallBack(t *testing.T) {
	tests := []struct {
		name string
		call func(ctx context.Context, messages []chat.ChatMessage, cfg APIConfig) (string, error)
	}{
		{
			name: "transport error",
			call: func(ctx context.Context, messages []chat.ChatMessage, cfg APIConfig) (string, error) {
				return "", errors.New("connection refused")
			},
		},
		{
			name: "malformed json",
			call: func(ctx context.Context, messages []chat.ChatMessage, cfg APIConfig) (string, error) {
				return `{"prompt": "Draw!", "options": [`, nil
			},
		},
		{
			name: "no prompt",
			call: func(ctx context.Context, messages []chat.ChatMessage, cfg APIConfig) (string, error) {
				return `{"options": [{"text": "a"}, {"text": "b"}]}`, nil
			},
		},
		{
			name: "prose only",
			call: func(ctx context.Context, messages []chat.ChatMessage, cfg APIConfig) (string, error) {
				return "I cannot help with that.", nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			svc := NewDecisionService(&mockClient{CallFunc: tt.call}, nil, WithObserver(obs))
			d := svc.GenerateDecision(context.Background(), NarrativeState{}, Character{}, &APIConfig{})
			assert.False(t, d.AIGenerated)
			assert.NotEmpty(t, d.Prompt)
			assert.GreaterOrEqual(t, len(d.Options), 2)
			assert.Equal(t, []string{SourceFallback}, obs.sources)
		})
	}
}

func TestParseDecisionResponse(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		d, err := ParseDecisionResponse(`{"decisionId": "d-1", "prompt": "Cross the river?", "options": [{"id": "a", "text": "Ford it"}, {"id": "b", "text": "Find a bridge"}], "context": "Flood season"}`, testNow)
		require.NoError(t, err)
		assert.Equal(t, "d-1", d.ID)
		assert.Equal(t, "Flood season", d.Context)
		assert.Equal(t, decision.ImportanceModerate, d.Importance)
		assert.Equal(t, []string{"a", "b"}, []string{d.Options[0].ID, d.Options[1].ID})
		assert.True(t, d.AIGenerated)
	})

	t.Run("single option gets continue", func(t *testing.T) {
		d, err := ParseDecisionResponse("```\n{\"prompt\": \"The bridge is out.\", \"options\": [{\"text\": \"Swim\"}, {\"text\": \"  \"}], \"importance\": \"epic\"}\n```", testNow)
		require.NoError(t, err)
		require.Len(t, d.Options, 2)
		assert.Equal(t, "Swim", d.Options[0].Text)
		assert.Equal(t, ContinueOptionText, d.Options[1].Text)
		assert.Equal(t, decision.ImportanceModerate, d.Importance)
	})

	t.Run("no options gets two fillers", func(t *testing.T) {
		d, err := ParseDecisionResponse(`{"prompt": "Night falls on the trail."}`, testNow)
		require.NoError(t, err)
		require.Len(t, d.Options, 2)
		assert.NotEqual(t, d.Options[0].Text, d.Options[1].Text)
		assert.NotEqual(t, d.Options[0].ID, d.Options[1].ID)
	})

	t.Run("duplicate option ids are replaced", func(t *testing.T) {
		d, err := ParseDecisionResponse(`{"prompt": "Which horse?", "options": [{"id": "x", "text": "The bay"}, {"id": "x", "text": "The pinto"}]}`, testNow)
		require.NoError(t, err)
		assert.Equal(t, "x", d.Options[0].ID)
		assert.NotEqual(t, "x", d.Options[1].ID)
	})

	for _, raw := range []string{"", "no json here", `{"prompt": ""}`, `{"prompt": 5}`} {
		_, err := ParseDecisionResponse(raw, testNow)
		assert.ErrorIs(t, err, ErrInvalidResponse, raw)
	}
}

func TestDetectDecisionPoint(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		last    time.Time
		cfg     DetectionConfig
		present bool
		score   float64
		reason  string
	}{
		{
			name:    "explicit marker",
			text:    "Bart's hand hovers over his gun. What will you do?",
			cfg:     DefaultDetectionConfig(),
			present: true,
			score:   1,
			reason:  "explicit",
		},
		{
			name:    "explicit marker soon after last decision",
			text:    "[DECISION] The posse splits up.",
			last:    testNow.Add(-30 * time.Second),
			cfg:     DefaultDetectionConfig(),
			present: true,
			score:   0.775,
			reason:  "explicit",
		},
		{
			name:    "two keywords",
			text:    "You discover a crucial letter in the strongbox.",
			cfg:     DefaultDetectionConfig(),
			present: true,
			score:   0.65,
			reason:  "discover, crucial",
		},
		{
			name:    "one keyword",
			text:    "The ledger holds a secret.",
			cfg:     DefaultDetectionConfig(),
			present: false,
			score:   0.475,
			reason:  "secret",
		},
		{
			name:    "quiet narrative",
			text:    "You ride on through the afternoon heat.",
			cfg:     DefaultDetectionConfig(),
			present: false,
			score:   0.3,
			reason:  "no narrative signal",
		},
		{
			name:    "too soon",
			text:    "What will you do?",
			last:    testNow.Add(-10 * time.Second),
			cfg:     DefaultDetectionConfig(),
			present: false,
			reason:  "too soon",
		},
		{
			name:    "empty narrative",
			text:    "   ",
			cfg:     DefaultDetectionConfig(),
			present: false,
			reason:  "no narrative",
		},
		{
			name: "randomness lowers the score",
			text: "What will you do?",
			cfg: DetectionConfig{
				MinInterval: time.Second,
				Threshold:   0.6,
				Randomness:  1,
				Rand:        func() float64 { return 0 },
			},
			present: false,
			score:   0.5,
			reason:  "explicit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewDecisionService(nil, nil, WithClock(fixedClock()), WithDetection(tt.cfg))
			det := svc.DetectDecisionPoint(NarrativeState{History: []string{"earlier", tt.text}}, Character{}, GameState{}, tt.last)

			assert.Equal(t, tt.present, det.ShouldPresent)
			assert.InDelta(t, tt.score, det.Score, 0.006)
			assert.Contains(t, det.Reason, tt.reason)
			if tt.present {
				assert.Equal(t, PhaseDetecting, svc.Phase())
			} else {
				assert.Equal(t, PhaseNoDecision, svc.Phase())
			}
		})
	}
}

func TestDetectDecisionPoint_CustomDetector(t *testing.T) {
	cfg := DefaultDetectionConfig()
	cfg.Detector = NewKeywordDetector([]string{"gold"})
	svc := NewDecisionService(nil, nil, WithClock(fixedClock()), WithDetection(cfg))

	det := svc.DetectDecisionPoint(NarrativeState{History: []string{"You strike gold in the creek."}}, Character{}, GameState{}, time.Time{})
	assert.InDelta(t, 0.475, det.Score, 0.006)
	assert.Equal(t, "story keywords: gold", det.Reason)
}

func TestDetectDecisionPoint_NeverWhilePending(t *testing.T) {
	svc := NewDecisionService(nil, nil, WithClock(fixedClock()))
	require.NoError(t, svc.Present(FallbackDecision(NarrativeState{}, Character{}, testNow)))

	det := svc.DetectDecisionPoint(NarrativeState{History: []string{"What will you do?"}}, Character{}, GameState{CombatActive: true}, time.Time{})
	assert.False(t, det.ShouldPresent)
	assert.Equal(t, "decision already pending", det.Reason)
	assert.Equal(t, PhasePresented, svc.Phase())
}

func TestDecisionService_Lifecycle(t *testing.T) {
	obs := &recordingObserver{}
	svc := NewDecisionService(nil, nil, WithClock(fixedClock()), WithObserver(obs))
	assert.Equal(t, PhaseNoDecision, svc.Phase())

	state := NarrativeState{
		History:  []string{"A crucial choice: you discover the bank is being robbed."},
		Location: &decision.Location{Type: "town", Name: "Dusty Gulch"},
	}
	det := svc.DetectDecisionPoint(state, Character{}, GameState{}, time.Time{})
	require.True(t, det.ShouldPresent)
	assert.Equal(t, PhaseDetecting, svc.Phase())

	d := svc.GenerateDecision(context.Background(), state, Character{}, nil)
	assert.Equal(t, PhaseGenerating, svc.Phase())

	require.NoError(t, svc.Present(d))
	assert.Equal(t, PhasePresented, svc.Phase())
	assert.Equal(t, testNow, svc.LastDecisionAt())

	err := svc.Present(FallbackDecision(state, Character{}, testNow))
	assert.ErrorIs(t, err, ErrDecisionPending)

	_, err = svc.Resolve("someone-else", d.Options[0].ID, "")
	assert.ErrorIs(t, err, ErrStaleDecision)

	_, err = svc.Resolve(d.ID, "no-such-option", "")
	assert.ErrorIs(t, err, decision.ErrOptionNotFound)
	var verr *impact.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.NotNil(t, svc.Pending())

	rec, err := svc.Resolve(d.ID, d.Options[0].ID, "The stranger tips his hat.")
	require.NoError(t, err)
	assert.Equal(t, d.ID, rec.DecisionID)
	assert.Equal(t, "The stranger tips his hat.", rec.Narrative)
	assert.False(t, rec.ProcessedForImpact)
	require.NotEmpty(t, rec.Impacts)
	assert.Equal(t, impact.TypeReputation, rec.Impacts[0].Type)
	assert.Equal(t, "Dusty Gulch", rec.Impacts[0].Target)

	assert.Nil(t, svc.Pending())
	assert.Equal(t, PhaseResolved, svc.Phase())
	assert.Len(t, svc.History(), 1)
	assert.Len(t, obs.resolved, 1)

	_, err = svc.Resolve(d.ID, d.Options[0].ID, "")
	assert.ErrorIs(t, err, ErrNoPendingDecision)
}

func TestDecisionService_HistoryCap(t *testing.T) {
	svc := NewDecisionService(nil, nil, WithHistoryCap(3))
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		svc.RecordDecision(id, "opt", "outcome "+id)
	}

	history := svc.History()
	require.Len(t, history, 3)
	ids := make([]string, len(history))
	for i, r := range history {
		ids[i] = r.DecisionID
	}
	assert.Equal(t, []string{"d3", "d4", "d5"}, ids)

	// The returned slice is a copy.
	history[0].DecisionID = "changed"
	assert.Equal(t, "d3", svc.History()[0].DecisionID)
}

func TestDecisionService_DefaultHistoryCap(t *testing.T) {
	svc := NewDecisionService(nil, nil, WithHistoryCap(0))
	for i := 0; i < DefaultHistoryCap+5; i++ {
		svc.RecordDecision("d", "o", "")
	}
	assert.Len(t, svc.History(), DefaultHistoryCap)
}

func TestDecisionService_Restore(t *testing.T) {
	svc := NewDecisionService(nil, nil, WithHistoryCap(2))
	pending := FallbackDecision(NarrativeState{}, Character{}, testNow)
	history := []impact.RecordWithImpact{
		{Record: decision.Record{DecisionID: "a"}},
		{Record: decision.Record{DecisionID: "b"}},
		{Record: decision.Record{DecisionID: "c"}},
	}

	svc.Restore(&pending, history, testNow)
	assert.Equal(t, PhasePresented, svc.Phase())
	assert.Equal(t, pending.ID, svc.Pending().ID)
	assert.Equal(t, testNow, svc.LastDecisionAt())
	require.Len(t, svc.History(), 2)
	assert.Equal(t, "b", svc.History()[0].DecisionID)

	svc.Restore(nil, nil, time.Time{})
	assert.Equal(t, PhaseNoDecision, svc.Phase())
	assert.Nil(t, svc.Pending())
	assert.Empty(t, svc.History())
}

func TestIsStale(t *testing.T) {
	assert.False(t, IsStale(testNow, time.Time{}))
	assert.False(t, IsStale(testNow, testNow))
	assert.True(t, IsStale(testNow.Add(-time.Second), testNow))
	assert.False(t, IsStale(testNow.Add(time.Second), testNow))

	svc := NewDecisionService(nil, nil, WithClock(fixedClock()))
	assert.False(t, svc.IsStale(testNow.Add(-time.Hour)))
	require.NoError(t, svc.Present(FallbackDecision(NarrativeState{}, Character{}, testNow)))
	assert.True(t, svc.IsStale(testNow.Add(-time.Hour)))
	assert.False(t, svc.IsStale(testNow))

	svc.Discard()
	assert.Nil(t, svc.Pending())
	assert.Equal(t, PhaseNoDecision, svc.Phase())
}

func TestBuildDecisionMessages(t *testing.T) {
	msgs := BuildDecisionMessages(NarrativeState{}, Character{Name: "Doc", Inventory: []string{"Derringer"}}, 0)
	require.Len(t, msgs, 2)
	assert.Equal(t, DecisionSystemPrompt, msgs[0].Content)
	assert.Equal(t, chat.ChatRoleUser, msgs[1].Role)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "## Player Character\nDoc (carrying: Derringer)"))
	assert.True(t, strings.HasSuffix(msgs[1].Content, "Write the decision now."))
}
