// Package recipe holds the static per-agent configuration: models, token
// ceilings, guardrails and review requirements.
package recipe

import (
	"errors"
	"fmt"
)

// ErrUnknownAgent is returned for agent types without a recipe.
var ErrUnknownAgent = errors.New("unknown agent type")

// GuardrailKind is the closed set of guardrail tags.
type GuardrailKind string

const (
	GuardrailConsent      GuardrailKind = "consent"
	GuardrailPII          GuardrailKind = "pii"
	GuardrailCultural     GuardrailKind = "cultural"
	GuardrailJurisdiction GuardrailKind = "jurisdiction"
	GuardrailToxicity     GuardrailKind = "toxicity"
	GuardrailBudget       GuardrailKind = "budget"
)

// GuardrailAction is what a guardrail asks for when it fires.
type GuardrailAction string

const (
	ActionBlock       GuardrailAction = "block"
	ActionFlag        GuardrailAction = "flag"
	ActionElderReview GuardrailAction = "elder_review"
	ActionRedact      GuardrailAction = "redact"
)

var (
	validKinds = map[GuardrailKind]bool{
		GuardrailConsent: true, GuardrailPII: true, GuardrailCultural: true,
		GuardrailJurisdiction: true, GuardrailToxicity: true, GuardrailBudget: true,
	}
	validActions = map[GuardrailAction]bool{
		ActionBlock: true, ActionFlag: true, ActionElderReview: true, ActionRedact: true,
	}
)

// GuardrailConfig is a declarative rule interpreted by the governance evaluator.
type GuardrailConfig struct {
	Kind      GuardrailKind   `yaml:"kind" json:"kind"`
	Blocking  bool            `yaml:"blocking" json:"blocking"`
	Threshold *float64        `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Action    GuardrailAction `yaml:"action" json:"action"`
}

// Recipe is the immutable configuration of one agent type.
type Recipe struct {
	ID                  string            `yaml:"id" json:"id"`
	Name                string            `yaml:"name" json:"name"`
	Role                string            `yaml:"role" json:"role"`
	DefaultModel        string            `yaml:"default_model" json:"default_model"`
	FallbackModel       string            `yaml:"fallback_model" json:"fallback_model"`
	MaxInputTokens      int               `yaml:"max_input_tokens" json:"max_input_tokens"`
	MaxOutputTokens     int               `yaml:"max_output_tokens" json:"max_output_tokens"`
	DefaultTemperature  float64           `yaml:"default_temperature" json:"default_temperature"`
	Guardrails          []GuardrailConfig `yaml:"guardrails" json:"guardrails"`
	HumanInLoopRequired bool              `yaml:"human_in_loop_required" json:"human_in_loop_required"`
	RequiresCitations   bool              `yaml:"requires_citations" json:"requires_citations"`
	KPIs                []string          `yaml:"kpis,omitempty" json:"kpis,omitempty"`
}

// Guardrail returns the first guardrail of the given kind.
func (r Recipe) Guardrail(kind GuardrailKind) (GuardrailConfig, bool) {
	for _, g := range r.Guardrails {
		if g.Kind == kind {
			return g, true
		}
	}
	return GuardrailConfig{}, false
}

func (r Recipe) validate() error {
	if r.ID == "" {
		return fmt.Errorf("recipe id is required")
	}
	if r.DefaultModel == "" || r.FallbackModel == "" {
		return fmt.Errorf("recipe %s: default and fallback models are required", r.ID)
	}
	if r.MaxInputTokens <= 0 || r.MaxOutputTokens <= 0 {
		return fmt.Errorf("recipe %s: token ceilings must be positive", r.ID)
	}
	for _, g := range r.Guardrails {
		if !validKinds[g.Kind] {
			return fmt.Errorf("recipe %s: unknown guardrail kind %q", r.ID, g.Kind)
		}
		if !validActions[g.Action] {
			return fmt.Errorf("recipe %s: unknown guardrail action %q", r.ID, g.Action)
		}
	}
	return nil
}

// clone deep-copies the slices so callers cannot mutate catalog state.
func (r Recipe) clone() Recipe {
	out := r
	out.Guardrails = make([]GuardrailConfig, len(r.Guardrails))
	for i, g := range r.Guardrails {
		out.Guardrails[i] = g.clone()
	}
	out.KPIs = append([]string(nil), r.KPIs...)
	return out
}

func (g GuardrailConfig) clone() GuardrailConfig {
	if g.Threshold != nil {
		v := *g.Threshold
		g.Threshold = &v
	}
	return g
}
