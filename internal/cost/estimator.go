package cost

import (
	"math"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/recipe"
)

// charsPerToken is the fixed divisor used to estimate input tokens.
const charsPerToken = 4

// Recommendation is the outcome of a cost check.
type Recommendation string

const (
	RecommendProceed   Recommendation = "proceed"
	RecommendDowngrade Recommendation = "downgrade"
	RecommendBlock     Recommendation = "block"
	// RecommendQueue is part of the wire vocabulary; the estimator never returns it.
	RecommendQueue Recommendation = "queue"
)

// Policy is one tenant's budget state. Zero or negative ceilings mean unlimited.
type Policy struct {
	TenantID          string  `json:"tenant_id"`
	MaxCostPerRequest float64 `json:"max_cost_per_request"`
	MonthlyBudget     float64 `json:"monthly_budget_usd"`
	CurrentMonthSpend float64 `json:"current_month_spend"`
}

// UnlimitedPolicy is used when a tenant has no policy row.
func UnlimitedPolicy(tenantID string) Policy {
	return Policy{TenantID: tenantID}
}

// Remaining returns the unspent monthly budget, or -1 when unlimited.
func (p Policy) Remaining() float64 {
	if p.MonthlyBudget <= 0 {
		return -1
	}
	return p.MonthlyBudget - p.CurrentMonthSpend
}

// fits reports whether amount is allowed by both ceilings.
func (p Policy) fits(amount float64) bool {
	if p.MaxCostPerRequest > 0 && amount > p.MaxCostPerRequest {
		return false
	}
	if p.MonthlyBudget > 0 && p.CurrentMonthSpend+amount > p.MonthlyBudget {
		return false
	}
	return true
}

// Decision is derived fresh for every request and never cached.
type Decision struct {
	Model            string         `json:"model"`
	EstimatedCost    float64        `json:"estimated_cost"`
	InputTokens      int            `json:"input_tokens"`
	OutputTokens     int            `json:"output_tokens"`
	WithinBudget     bool           `json:"within_budget"`
	Recommendation   Recommendation `json:"recommendation"`
	RemainingMonthly float64        `json:"remaining_monthly"`
	SLOCompliant     bool           `json:"slo_compliant"`
}

// Estimator computes cost decisions from a static price table.
type Estimator struct {
	prices PriceTable
}

// NewEstimator creates an estimator. A nil table uses DefaultPrices.
func NewEstimator(prices PriceTable) *Estimator {
	if prices == nil {
		prices = DefaultPrices()
	}
	return &Estimator{prices: prices}
}

// Prices returns the estimator's price table.
func (e *Estimator) Prices() PriceTable {
	return e.prices
}

// EstimateInputTokens is a conservative, monotonic token estimate from the
// serialized input length.
func EstimateInputTokens(serialized string) int {
	return int(math.Ceil(float64(len(serialized)) / charsPerToken))
}

// Estimate picks the default model, the fallback model, or nothing.
func (e *Estimator) Estimate(rec recipe.Recipe, req *agentapi.Request, pol Policy) Decision {
	in := EstimateInputTokens(req.SerializedInput())
	out := rec.MaxOutputTokens / 2

	d := Decision{
		InputTokens:      in,
		OutputTokens:     out,
		RemainingMonthly: pol.Remaining(),
		SLOCompliant:     in <= rec.MaxInputTokens,
	}

	primary := e.prices.Cost(rec.DefaultModel, in, out)
	if pol.fits(primary) {
		d.Model = rec.DefaultModel
		d.EstimatedCost = primary
		d.WithinBudget = true
		d.Recommendation = RecommendProceed
		return d
	}

	fallback := e.prices.Cost(rec.FallbackModel, in, out)
	if pol.fits(fallback) {
		d.Model = rec.FallbackModel
		d.EstimatedCost = fallback
		d.WithinBudget = true
		d.Recommendation = RecommendDowngrade
		return d
	}

	d.Model = rec.DefaultModel
	d.EstimatedCost = primary
	d.WithinBudget = false
	d.Recommendation = RecommendBlock
	return d
}

// Actual returns the cost of a completed call from real token counts.
func (e *Estimator) Actual(model string, inputTokens, outputTokens int) float64 {
	return e.prices.Cost(model, inputTokens, outputTokens)
}
