// Package cost estimates per-request model spend, picks the model a request
// may use, and keeps per-tenant budget ledgers.
package cost

import "sort"

// Price is the USD price per 1K tokens for one model.
type Price struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// PriceTable maps a model id to its price. It is read-only after construction.
type PriceTable map[string]Price

// DefaultPrices lists USD prices per 1K tokens for the models the built-in
// recipes route to. Local models carry a nominal price so estimates stay
// monotonic in token count.
func DefaultPrices() PriceTable {
	return PriceTable{
		"gpt-4o":                     {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini":                {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"gpt-4-turbo":                {InputPer1K: 0.01, OutputPer1K: 0.03},
		"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-5-haiku-20241022":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
		"claude-3-haiku-20240307":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		"anthropic.claude-3-5-sonnet-20241022-v2:0": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"anthropic.claude-3-haiku-20240307-v1:0":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		"amazon.titan-text-premier-v1:0":            {InputPer1K: 0.0005, OutputPer1K: 0.0015},
		"llama3.1:8b":                               {InputPer1K: 0.00001, OutputPer1K: 0.00001},
	}
}

// Lookup returns the price for model. Unknown models fall back to the
// cheapest row so that an unpriced model never blocks on its own.
func (t PriceTable) Lookup(model string) (Price, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	return t.cheapest(), false
}

// Cost returns the USD cost of the given token counts on model.
func (t PriceTable) Cost(model string, inputTokens, outputTokens int) float64 {
	p, _ := t.Lookup(model)
	return float64(inputTokens)/1000*p.InputPer1K + float64(outputTokens)/1000*p.OutputPer1K
}

// Models returns the priced model ids in sorted order.
func (t PriceTable) Models() []string {
	out := make([]string, 0, len(t))
	for m := range t {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// cheapest picks the row with the lowest combined 1K price. Ties resolve by
// model id so the choice is deterministic.
func (t PriceTable) cheapest() Price {
	var (
		best     Price
		bestID   string
		bestCost = -1.0
	)
	for id, p := range t {
		c := p.InputPer1K + p.OutputPer1K
		if bestCost < 0 || c < bestCost || (c == bestCost && id < bestID) {
			best, bestID, bestCost = p, id, c
		}
	}
	return best
}
