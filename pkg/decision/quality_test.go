package decision

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goodDecision() *PlayerDecision {
	return &PlayerDecision{
		ID:     "d1",
		Prompt: "Sheriff Wyatt blocks the saloon door and demands to know why you rode into Dusty Gulch after the bank robbery.",
		Options: []Option{
			{ID: "a", Text: "Draw your revolver and confront him", Impact: "Reputation in town will suffer"},
			{ID: "b", Text: "Talk calmly and offer to help find the robbers", Impact: "The sheriff may become an ally"},
			{ID: "c", Text: "Back away slowly and watch from the general store", Impact: "You learn more about the robbery"},
		},
		Timestamp:  time.Now(),
		Importance: ImportanceSignificant,
	}
}

func TestEvaluateDecisionQuality_GoodDecision(t *testing.T) {
	res := EvaluateDecisionQuality(goodDecision(), nil)

	assert.True(t, res.Acceptable)
	assert.GreaterOrEqual(t, res.Score, AcceptableQuality)
	assert.Empty(t, res.Suggestions)
}

func TestEvaluateDecisionQuality_ShortPromptSingleOption(t *testing.T) {
	d := &PlayerDecision{
		Prompt:     "Go?",
		Options:    []Option{{ID: "a", Text: "Ride on", Impact: "Time passes"}},
		Importance: ImportanceMinor,
	}

	res := EvaluateDecisionQuality(d, nil)

	assert.Less(t, res.Score, AcceptableQuality)
	assert.False(t, res.Acceptable)
	require.NotEmpty(t, res.Suggestions)

	mentionsPrompt := false
	for _, s := range res.Suggestions {
		if strings.Contains(strings.ToLower(s), "prompt") {
			mentionsPrompt = true
		}
	}
	assert.True(t, mentionsPrompt, "expected a suggestion about the prompt, got %v", res.Suggestions)
}

func TestEvaluateDecisionQuality_SimilarOptions(t *testing.T) {
	d := goodDecision()
	d.Options = []Option{
		{ID: "a", Text: "Walk into the saloon", Impact: "x"},
		{ID: "b", Text: "Walk into the saloon quietly", Impact: "y"},
		{ID: "c", Text: "Talk to the sheriff and attack later", Impact: "z"},
	}

	res := EvaluateDecisionQuality(d, nil)
	found := false
	for _, s := range res.Suggestions {
		if strings.Contains(s, "too similar") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEvaluateDecisionQuality_WithContext(t *testing.T) {
	qc := &QualityContext{
		CharacterFocus:  []string{"Sheriff Wyatt"},
		Themes:          []string{"ally"},
		ImportantEvents: []string{"The bank robbery left Dusty Gulch without its savings"},
	}

	res := EvaluateDecisionQuality(goodDecision(), qc)
	assert.True(t, res.Acceptable, "suggestions: %v", res.Suggestions)

	offTopic := goodDecision()
	offTopic.Prompt = "A tumbleweed rolls past while you consider lunch options nearby."
	res = EvaluateDecisionQuality(offTopic, &QualityContext{
		CharacterFocus:  []string{"Calamity Jane"},
		Themes:          []string{"vengeance"},
		ImportantEvents: []string{"Railroad baron murdered in Deadwood"},
	})
	assert.Less(t, res.Score, EvaluateDecisionQuality(goodDecision(), qc).Score)
	assert.GreaterOrEqual(t, len(res.Suggestions), 3)
}

func TestEvaluateDecisionQuality_MissingImportanceAndImpact(t *testing.T) {
	d := goodDecision()
	d.Importance = ""
	d.Options[0].Impact = ""

	res := EvaluateDecisionQuality(d, nil)
	assert.Less(t, res.Score, EvaluateDecisionQuality(goodDecision(), nil).Score)
	assert.NotEmpty(t, res.Suggestions)
}

func TestEvaluateDecisionQuality_EmptyDecision(t *testing.T) {
	res := EvaluateDecisionQuality(&PlayerDecision{}, &QualityContext{})

	assert.False(t, res.Acceptable)
	assert.GreaterOrEqual(t, res.Score, 0.0)
	assert.NotEmpty(t, res.Suggestions)
}
