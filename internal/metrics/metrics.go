// Package metrics exposes prometheus collectors for decision generation,
// impact processing and LLM calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwebster45206/boothill-gm/pkg/impact"
)

const namespace = "boothill"

// Metrics holds the collectors on a private registry so that each process
// (and each test) gets its own set.
type Metrics struct {
	registry *prometheus.Registry

	decisionsGenerated *prometheus.CounterVec
	decisionQuality    prometheus.Histogram
	decisionsResolved  prometheus.Counter
	impactsApplied     *prometheus.CounterVec
	llmRequests        *prometheus.CounterVec
	llmDuration        *prometheus.HistogramVec
	contextTokens      prometheus.Histogram
	staleDiscarded     prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		decisionsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_generated_total",
			Help:      "Decisions generated, partitioned by source (ai or fallback).",
		}, []string{"source"}),
		decisionQuality: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_quality_score",
			Help:      "Quality score of generated decisions.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		decisionsResolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_resolved_total",
			Help:      "Decisions resolved by the player.",
		}),
		impactsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impacts_created_total",
			Help:      "Impacts created from resolved decisions, partitioned by type.",
		}, []string{"type"}),
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM requests, partitioned by provider and status.",
		}, []string{"provider", "status"}),
		llmDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		contextTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_tokens",
			Help:      "Estimated tokens in built narrative contexts.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 8),
		}),
		staleDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_decisions_discarded_total",
			Help:      "Generated decisions dropped because a newer one already existed.",
		}),
	}
}

// DecisionGenerated implements engine.Observer.
func (m *Metrics) DecisionGenerated(source string, quality float64) {
	m.decisionsGenerated.WithLabelValues(source).Inc()
	m.decisionQuality.Observe(quality)
}

// DecisionResolved implements engine.Observer.
func (m *Metrics) DecisionResolved(rec *impact.RecordWithImpact) {
	m.decisionsResolved.Inc()
	if rec == nil {
		return
	}
	for _, imp := range rec.Impacts {
		m.impactsApplied.WithLabelValues(string(imp.Type)).Inc()
	}
}

// ObserveLLM records one LLM request attempt.
func (m *Metrics) ObserveLLM(provider string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmRequests.WithLabelValues(provider, status).Inc()
	m.llmDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) ObserveContextTokens(n int) {
	m.contextTokens.Observe(float64(n))
}

func (m *Metrics) StaleDiscarded() {
	m.staleDiscarded.Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
