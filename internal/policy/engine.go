// Package policy evaluates declarative data-residency rules with embedded OPA
// and validates the YAML configuration files the gateway loads at startup.
package policy

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/steward/internal/agentapi"
	stewardotel "github.com/dativo-io/steward/internal/otel"
)

var tracer = stewardotel.Tracer("github.com/dativo-io/steward/internal/policy")

//go:embed rego/*.rego
var embeddedPolicies embed.FS

const (
	jurisdictionFile  = "rego/jurisdiction.rego"
	jurisdictionQuery = "data.steward.jurisdiction.deny"
)

// Decision represents the result of policy evaluation.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Action  string   `json:"action"` // "allow" or "deny"
	Reasons []string `json:"reasons,omitempty"`
}

// Input is one jurisdiction check.
type Input struct {
	Jurisdiction  string
	Sensitivity   agentapi.Sensitivity
	Model         string
	Provider      string
	ProviderLocal bool
}

// Engine evaluates jurisdiction rules using a prepared OPA query.
type Engine struct {
	rules    Jurisdictions
	prepared rego.PreparedEvalQuery
}

// NewEngine compiles the embedded jurisdiction policy against rules.
func NewEngine(ctx context.Context, rules Jurisdictions) (*Engine, error) {
	ctx, span := tracer.Start(ctx, "policy.engine.new")
	defer span.End()

	content, err := embeddedPolicies.ReadFile(jurisdictionFile)
	if err != nil {
		return nil, fmt.Errorf("reading embedded policy %s: %w", jurisdictionFile, err)
	}

	r := rego.New(
		rego.Query(jurisdictionQuery),
		rego.Module(jurisdictionFile, string(content)),
		rego.Store(inmem.NewFromObject(rules.toData())),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("preparing Rego policy %s: %w", jurisdictionFile, err)
	}

	span.SetAttributes(attribute.Int("policy.jurisdictions", len(rules)))
	return &Engine{rules: rules, prepared: prepared}, nil
}

// Rules returns the rules the engine was built with.
func (e *Engine) Rules() Jurisdictions {
	return e.rules
}

// Evaluate checks one request against the jurisdiction rules. Unknown
// jurisdictions are allowed.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "policy.evaluate_jurisdiction",
		trace.WithAttributes(
			attribute.String("policy.jurisdiction", in.Jurisdiction),
			attribute.String("policy.provider", in.Provider),
		))
	defer span.End()

	input := map[string]interface{}{
		"jurisdiction":     strings.ToUpper(in.Jurisdiction),
		"sensitivity":      string(in.Sensitivity),
		"sensitivity_rank": in.Sensitivity.Rank(),
		"model":            in.Model,
		"provider":         in.Provider,
		"provider_local":   in.ProviderLocal,
	}

	reasons, err := evaluateDenyReasons(ctx, e.prepared, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	decision := &Decision{Allowed: true, Action: "allow", Reasons: reasons}
	if len(reasons) > 0 {
		decision.Allowed = false
		decision.Action = "deny"
	}
	span.SetAttributes(attribute.Bool("policy.allowed", decision.Allowed))
	return decision, nil
}

// evaluateDenyReasons runs a prepared query that yields a set of deny strings.
func evaluateDenyReasons(ctx context.Context, pq rego.PreparedEvalQuery, input map[string]interface{}) ([]string, error) {
	results, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", jurisdictionQuery, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	// OPA returns sets as []interface{} or, occasionally, map[string]interface{}.
	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, msg := range v {
			if s, ok := msg.(string); ok {
				reasons = append(reasons, s)
			}
		}
	case map[string]interface{}:
		for _, msg := range v {
			if s, ok := msg.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	return reasons, nil
}
