package eval

import (
	"fmt"

	"github.com/dativo-io/steward/internal/agentapi"
)

// CIThreshold is the minimum overall score the CI gate accepts.
const CIThreshold = 80.0

// Metric names as reported in results.
const (
	MetricEmpathy          = "empathy"
	MetricHallucination    = "hallucination"
	MetricCitationCoverage = "citation_coverage"
	MetricSacredDetection  = "sacred_detection"
	MetricLatency          = "latency_ms"
	MetricErrorRate        = "error_rate"
	MetricRefusalAccuracy  = "refusal_accuracy"
	MetricQuality          = "quality"
)

// Metrics are the post-execution measurements of one run. Nil fields were
// not measured and are skipped.
type Metrics struct {
	Empathy          *float64 `yaml:"empathy,omitempty" json:"empathy,omitempty"`
	Hallucination    *float64 `yaml:"hallucination,omitempty" json:"hallucination,omitempty"`
	CitationCoverage *float64 `yaml:"citation_coverage,omitempty" json:"citation_coverage,omitempty"`
	SacredDetection  *float64 `yaml:"sacred_detection,omitempty" json:"sacred_detection,omitempty"`
	LatencyMS        *float64 `yaml:"latency_ms,omitempty" json:"latency_ms,omitempty"`
	ErrorRate        *float64 `yaml:"error_rate,omitempty" json:"error_rate,omitempty"`
	RefusalAccuracy  *float64 `yaml:"refusal_accuracy,omitempty" json:"refusal_accuracy,omitempty"`
	Quality          *float64 `yaml:"quality,omitempty" json:"quality,omitempty"`
}

// MetricResult is the outcome of checking one metric against its bound.
type MetricResult struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Bound    float64 `json:"bound"`
	Passed   bool    `json:"passed"`
	Critical bool    `json:"critical"`
}

// Result is the scored evaluation of one run.
type Result struct {
	AgentType      string               `json:"agent_type"`
	Sensitivity    agentapi.Sensitivity `json:"sensitivity"`
	Score          float64              `json:"score"`
	Passed         bool                 `json:"passed"`
	FailedCritical bool                 `json:"failed_critical"`
	Metrics        []MetricResult       `json:"metrics"`
}

// CIReason explains why a result fails the CI gate.
type CIReason string

const (
	ReasonCriticalFailure     CIReason = "critical_failure"
	ReasonScoreBelowThreshold CIReason = "score_below_threshold"
)

// MetricFailed names a metric that missed its bound.
func MetricFailed(name string) CIReason {
	return CIReason("metric_failed:" + name)
}

// CIReport is the CI gate decision with every independent reason it failed.
type CIReport struct {
	Passed  bool       `json:"passed"`
	Score   float64    `json:"score"`
	Reasons []CIReason `json:"reasons,omitempty"`
}

// CI evaluates the gate. A critical breach, a low score and individual metric
// failures are each reported.
func (r Result) CI() CIReport {
	rep := CIReport{Score: r.Score}
	if r.FailedCritical {
		rep.Reasons = append(rep.Reasons, ReasonCriticalFailure)
	}
	if r.Score < CIThreshold {
		rep.Reasons = append(rep.Reasons, ReasonScoreBelowThreshold)
	}
	for _, m := range r.Metrics {
		if !m.Passed {
			rep.Reasons = append(rep.Reasons, MetricFailed(m.Name))
		}
	}
	rep.Passed = len(rep.Reasons) == 0
	return rep
}

// String renders the report for CLI output.
func (c CIReport) String() string {
	if c.Passed {
		return fmt.Sprintf("PASS score=%.1f", c.Score)
	}
	return fmt.Sprintf("FAIL score=%.1f reasons=%v", c.Score, c.Reasons)
}

// Scorer checks metrics against a threshold table. It holds no mutable state.
type Scorer struct {
	table *Table
}

// NewScorer returns a scorer over table, or over DefaultTable when nil.
func NewScorer(table *Table) *Scorer {
	if table == nil {
		table = DefaultTable()
	}
	return &Scorer{table: table}
}

// Thresholds returns the resolved bounds for an agent and sensitivity.
func (s *Scorer) Thresholds(agentType string, sensitivity agentapi.Sensitivity) Thresholds {
	return s.table.Resolve(agentType, sensitivity)
}

// Score evaluates every measured metric that has a bound. With nothing
// evaluated the score is 100.
func (s *Scorer) Score(agentType string, sensitivity agentapi.Sensitivity, m Metrics) Result {
	th := s.table.Resolve(agentType, sensitivity)
	res := Result{AgentType: agentType, Sensitivity: sensitivity, Passed: true}

	atLeast := func(name string, v, bound *float64, critical func(float64) bool) {
		if v == nil || bound == nil {
			return
		}
		res.add(MetricResult{Name: name, Value: *v, Bound: *bound, Passed: *v >= *bound, Critical: critical != nil && critical(*v)})
	}
	atMost := func(name string, v, bound *float64, critical func(float64) bool) {
		if v == nil || bound == nil {
			return
		}
		res.add(MetricResult{Name: name, Value: *v, Bound: *bound, Passed: *v <= *bound, Critical: critical != nil && critical(*v)})
	}

	var empathyCritical func(float64) bool
	if th.CriticalEmpathy != nil {
		floor := *th.CriticalEmpathy
		empathyCritical = func(v float64) bool { return v < floor }
	}
	atLeast(MetricEmpathy, m.Empathy, th.MinEmpathy, empathyCritical)

	var hallucinationCritical func(float64) bool
	if th.MaxHallucination != nil {
		ceiling := 2 * *th.MaxHallucination
		hallucinationCritical = func(v float64) bool { return v > ceiling }
	}
	atMost(MetricHallucination, m.Hallucination, th.MaxHallucination, hallucinationCritical)

	atLeast(MetricCitationCoverage, m.CitationCoverage, th.MinCitationCoverage, nil)

	var sacredCritical func(float64) bool
	if sensitivity == agentapi.SensitivitySacred && th.MinSacredDetection != nil {
		floor := *th.MinSacredDetection
		sacredCritical = func(v float64) bool { return v < floor }
	}
	atLeast(MetricSacredDetection, m.SacredDetection, th.MinSacredDetection, sacredCritical)

	atMost(MetricLatency, m.LatencyMS, th.MaxLatencyMS, nil)

	var errorCritical func(float64) bool
	if th.MaxErrorRate != nil {
		ceiling := 2 * *th.MaxErrorRate
		errorCritical = func(v float64) bool { return v > ceiling }
	}
	atMost(MetricErrorRate, m.ErrorRate, th.MaxErrorRate, errorCritical)

	atLeast(MetricRefusalAccuracy, m.RefusalAccuracy, th.MinRefusalAccuracy, nil)
	atLeast(MetricQuality, m.Quality, th.MinQuality, nil)

	res.Score = 100
	if n := len(res.Metrics); n > 0 {
		passed := 0
		for _, mr := range res.Metrics {
			if mr.Passed {
				passed++
			}
		}
		res.Score = float64(passed) / float64(n) * 100
	}
	return res
}

func (r *Result) add(m MetricResult) {
	r.Metrics = append(r.Metrics, m)
	if !m.Passed {
		r.Passed = false
	}
	if m.Critical {
		r.FailedCritical = true
	}
}
