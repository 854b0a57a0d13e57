package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/boothill-gm/pkg/engine"
	"github.com/jwebster45206/boothill-gm/pkg/impact"
)

var _ engine.Observer = (*Metrics)(nil)

func TestDecisionCounters(t *testing.T) {
	m := New()
	m.DecisionGenerated(engine.SourceAI, 0.8)
	m.DecisionGenerated(engine.SourceFallback, 0.6)
	m.DecisionGenerated(engine.SourceFallback, 0.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsGenerated.WithLabelValues(engine.SourceAI)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisionsGenerated.WithLabelValues(engine.SourceFallback)))

	m.DecisionResolved(&impact.RecordWithImpact{Impacts: []impact.DecisionImpact{
		{Type: impact.TypeReputation},
		{Type: impact.TypeReputation},
		{Type: impact.TypeStoryArc},
	}})
	m.DecisionResolved(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisionsResolved))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.impactsApplied.WithLabelValues("reputation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.impactsApplied.WithLabelValues("story-arc")))
}

func TestObserveLLM(t *testing.T) {
	m := New()
	m.ObserveLLM("anthropic", nil, time.Second)
	m.ObserveLLM("anthropic", errors.New("timeout"), 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmRequests.WithLabelValues("anthropic", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmRequests.WithLabelValues("anthropic", "error")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.StaleDiscarded()
	m.ObserveContextTokens(300)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "boothill_stale_decisions_discarded_total 1")
	assert.Contains(t, string(body), "boothill_context_tokens_count 1")
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.StaleDiscarded()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.staleDiscarded))
}
