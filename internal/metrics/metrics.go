// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the outcome label.
const (
	OutcomeSuccess = "success"
	OutcomeBlocked = "blocked"
	OutcomeFailed  = "failed"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	piiAlarms       prometheus.Counter
	telemetryFailed prometheus.Counter
	budgetBlocks    prometheus.Counter
	gatherer        prometheus.Gatherer
}

// New creates the collectors and registers them with reg. Pass
// prometheus.NewRegistry() in tests to avoid global state.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_requests_total",
				Help: "Agent runs by agent type and outcome",
			},
			[]string{"agent_type", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),
		piiAlarms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steward_pii_alarms_total",
			Help: "Responses returned with personal information detected",
		}),
		telemetryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steward_telemetry_failures_total",
			Help: "Audit rows that could not be written",
		}),
		budgetBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steward_budget_blocks_total",
			Help: "Runs blocked by the budget check",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.requests, m.stageDuration, m.piiAlarms, m.telemetryFailed, m.budgetBlocks)
	return m
}

// Request counts one finished run.
func (m *Metrics) Request(agentType, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(agentType, outcome).Inc()
}

// Stage observes the duration of one pipeline stage.
func (m *Metrics) Stage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// PIIAlarm counts a response returned with personal information in it.
func (m *Metrics) PIIAlarm() {
	if m == nil {
		return
	}
	m.piiAlarms.Inc()
}

// TelemetryFailure counts a failed audit write.
func (m *Metrics) TelemetryFailure() {
	if m == nil {
		return
	}
	m.telemetryFailed.Inc()
}

// BudgetBlock counts a run stopped by the budget check.
func (m *Metrics) BudgetBlock() {
	if m == nil {
		return
	}
	m.budgetBlocks.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
