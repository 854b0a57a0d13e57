package impact

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/boothill-gm/pkg/decision"
)

func saloonDecision(importance decision.Importance, impactText string) *decision.PlayerDecision {
	return &decision.PlayerDecision{
		ID:         "dec-1",
		Prompt:     "A drunk cowboy picks a fight in the saloon.",
		Importance: importance,
		Characters: []string{"Sheriff Wyatt"},
		Location:   &decision.Location{Type: "town", Name: "Dusty Gulch"},
		Options: []decision.Option{
			{ID: "fight", Text: "Knock him down", Impact: impactText, Tags: []string{"approach:aggressive"}},
			{ID: "leave", Text: "Walk away", Impact: "Nothing much"},
		},
	}
}

func TestKeywordClassifier(t *testing.T) {
	kc := NewKeywordClassifier(nil)

	tests := []struct {
		text string
		want []Type
	}{
		{"Your reputation grows", []Type{TypeReputation}},
		{"The townsfolk's opinion of you changes", []Type{TypeReputation, TypeWorldState}},
		{"A new alliance forms", []Type{TypeRelationship}},
		{"The quest takes a turn", []Type{TypeStoryArc}},
		{"Your shooting skill improves", []Type{TypeCharacter}},
		{"You lose a weapon", []Type{TypeInventory}},
		{"A long history of violence", []Type{TypeWorldState}},
		{"", []Type{TypeWorldState}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, kc.Classify(tt.text))
		})
	}
}

type fixedClassifier []Type

func (f fixedClassifier) Classify(string) []Type { return f }

func TestCreateDecisionImpacts(t *testing.T) {
	tests := []struct {
		name       string
		importance decision.Importance
		impact     string
		wantType   Type
		wantTarget string
		wantSev    Severity
		wantValue  float64
		wantDur    time.Duration
	}{
		{
			name:       "critical reputation",
			importance: decision.ImportanceCritical,
			impact:     "Your reputation soars",
			wantType:   TypeReputation,
			wantTarget: "Dusty Gulch",
			wantSev:    SeverityMajor,
			wantValue:  8,
		},
		{
			name:       "significant relationship",
			importance: decision.ImportanceSignificant,
			impact:     "Friendship with the sheriff",
			wantType:   TypeRelationship,
			wantTarget: "Sheriff Wyatt",
			wantSev:    SeverityModerate,
			wantValue:  5,
		},
		{
			name:       "minor negative defaults to world-state",
			importance: decision.ImportanceMinor,
			impact:     "A negative mood settles over the bar",
			wantType:   TypeWorldState,
			wantTarget: "Dusty Gulch",
			wantSev:    SeverityMinor,
			wantValue:  -2,
			wantDur:    MinorDuration,
		},
		{
			name:       "moderate story arc",
			importance: decision.ImportanceModerate,
			impact:     "The mission changes course",
			wantType:   TypeStoryArc,
			wantTarget: GeneralTarget,
			wantSev:    SeverityMinor,
			wantValue:  2,
			wantDur:    MinorDuration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impacts, err := CreateDecisionImpacts(saloonDecision(tt.importance, tt.impact), "fight")
			require.NoError(t, err)
			require.Len(t, impacts, 1)

			imp := impacts[0]
			assert.NotEmpty(t, imp.ID)
			assert.Equal(t, tt.wantType, imp.Type)
			assert.Equal(t, tt.wantTarget, imp.Target)
			assert.Equal(t, tt.wantSev, imp.Severity)
			assert.Equal(t, tt.wantValue, imp.Value)
			assert.Equal(t, tt.wantDur, imp.Duration)
			assert.Equal(t, []string{"approach:aggressive"}, imp.Conditions)
			assert.NotNil(t, imp.RelatedDecisionIDs)
			assert.Empty(t, imp.RelatedDecisionIDs)
		})
	}
}

func TestCreateDecisionImpacts_Targets(t *testing.T) {
	d := saloonDecision(decision.ImportanceCritical, "Reputation and relationship shift")
	d.Location = nil
	d.Characters = nil

	impacts, err := CreateDecisionImpacts(d, "fight")
	require.NoError(t, err)
	require.Len(t, impacts, 2)
	for _, imp := range impacts {
		assert.Equal(t, GeneralTarget, imp.Target)
	}

	d.Characters = []string{"Doc"}
	impacts, err = CreateDecisionImpacts(d, "fight")
	require.NoError(t, err)
	assert.Equal(t, "Doc", impacts[0].Target)

	d.Location = &decision.Location{Type: "wilderness"}
	impacts, err = NewGenerator(fixedClassifier{TypeWorldState}).CreateDecisionImpacts(d, "fight")
	require.NoError(t, err)
	assert.Equal(t, "wilderness", impacts[0].Target)
}

func TestCreateDecisionImpacts_UnknownOption(t *testing.T) {
	_, err := CreateDecisionImpacts(saloonDecision(decision.ImportanceMinor, "x"), "dance")
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "dance", verr.OptionID)
	assert.Equal(t, "dec-1", verr.DecisionID)
	assert.True(t, errors.Is(err, decision.ErrOptionNotFound))
}

func TestGenerator_NewRecord(t *testing.T) {
	now := time.Now()
	g := NewGenerator(nil)

	rec, err := g.NewRecord(saloonDecision(decision.ImportanceSignificant, "Your reputation grows"), "fight", "He stays down.", now)
	require.NoError(t, err)
	assert.Equal(t, "fight", rec.SelectedOptionID)
	assert.False(t, rec.ProcessedForImpact)
	require.Len(t, rec.Impacts, 1)
	assert.Equal(t, 5.0, rec.Impacts[0].Value)

	_, err = g.NewRecord(saloonDecision(decision.ImportanceSignificant, "x"), "nope", "", now)
	assert.Error(t, err)
}

func TestRecordWithImpact_Scoring(t *testing.T) {
	now := time.Now()
	applied := now.Add(-10 * 24 * time.Hour)
	rec := RecordWithImpact{
		Record:             decision.Record{DecisionID: "d", Timestamp: applied, Tags: []string{"theme:honor"}, RelevanceScore: 5},
		Impacts:            []DecisionImpact{{Type: TypeReputation, Value: 2, Duration: MinorDuration}},
		ProcessedForImpact: true,
		LastImpactUpdate:   applied,
	}

	assert.Equal(t, 0.0, decision.CalculateRelevanceScore(rec, []string{"theme:honor"}, now, decision.DefaultRelevanceConfig()))

	rec.Impacts[0].Duration = 0
	assert.Greater(t, decision.CalculateRelevanceScore(rec, []string{"theme:honor"}, now, decision.DefaultRelevanceConfig()), 0.0)
}
