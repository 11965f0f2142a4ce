package governance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/classifier"
	"github.com/dativo-io/steward/internal/cost"
	stewardotel "github.com/dativo-io/steward/internal/otel"
	"github.com/dativo-io/steward/internal/policy"
	"github.com/dativo-io/steward/internal/recipe"
	"github.com/dativo-io/steward/internal/safety"
)

var tracer = stewardotel.Tracer("github.com/dativo-io/steward/internal/governance")

// PreInput is everything the pre-execution checks may look at.
type PreInput struct {
	Recipe  recipe.Recipe
	Request *agentapi.Request
	// Model is the model the cost stage selected.
	Model  string
	Safety safety.Verdict
	Cost   cost.Decision
}

// PostInput is everything the post-execution checks may look at.
type PostInput struct {
	Recipe    recipe.Recipe
	Request   *agentapi.Request
	Data      any
	Citations []agentapi.Citation
	ContentID string
}

// PreCheck evaluates one guardrail before execution and records its findings.
type PreCheck func(ctx context.Context, e *Evaluator, g recipe.GuardrailConfig, in PreInput, out *Findings)

// PostCheck evaluates one guardrail against the response.
type PostCheck func(ctx context.Context, e *Evaluator, g recipe.GuardrailConfig, in PostInput, out *Findings)

type checks struct {
	pre  PreCheck
	post PostCheck
}

// Findings collects what the checks of one phase raised.
type Findings struct {
	flags       []Flag
	escalations []EscalationRequest
	redacted    any
}

// Flag records a flag.
func (f *Findings) Flag(kind, detail string, sev Severity) {
	f.flags = append(f.flags, Flag{Type: kind, Severity: sev, Detail: detail})
}

// Escalate records an escalation.
func (f *Findings) Escalate(target Target, urgency Urgency, reason, contentID string) {
	f.escalations = append(f.escalations, EscalationRequest{Target: target, Reason: reason, Urgency: urgency, ContentID: contentID})
}

// SetRedacted records a masked copy of the response payload.
func (f *Findings) SetRedacted(v any) {
	f.redacted = v
}

// HasEscalation reports whether an escalation to target was already recorded.
func (f *Findings) HasEscalation(target Target) bool {
	for _, e := range f.escalations {
		if e.Target == target {
			return true
		}
	}
	return false
}

// Evaluator interprets guardrails. It is safe for concurrent use.
type Evaluator struct {
	jurisdiction *policy.Engine
	scanner      *classifier.Scanner
	now          func() time.Time

	mu     sync.RWMutex
	checks map[recipe.GuardrailKind]checks
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithJurisdictionEngine enables the jurisdiction guardrail. Without an engine
// jurisdiction guardrails are skipped.
func WithJurisdictionEngine(engine *policy.Engine) Option {
	return func(e *Evaluator) { e.jurisdiction = engine }
}

// WithScanner overrides the default PII scanner.
func WithScanner(s *classifier.Scanner) Option {
	return func(e *Evaluator) { e.scanner = s }
}

// WithClock sets the audit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator returns an evaluator with the built-in guardrail checks.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		now: time.Now,
		checks: map[recipe.GuardrailKind]checks{
			recipe.GuardrailConsent:      {pre: checkConsent},
			recipe.GuardrailCultural:     {pre: checkCultural},
			recipe.GuardrailJurisdiction: {pre: checkJurisdiction},
			recipe.GuardrailToxicity:     {pre: checkToxicity},
			recipe.GuardrailBudget:       {pre: checkBudget},
			recipe.GuardrailPII:          {post: checkPII},
		},
	}
	for _, o := range opts {
		o(e)
	}
	if e.scanner == nil {
		e.scanner = classifier.MustNewScanner()
	}
	return e
}

// Register adds or replaces the checks for a guardrail kind. Either check may
// be nil.
func (e *Evaluator) Register(kind recipe.GuardrailKind, pre PreCheck, post PostCheck) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks[kind] = checks{pre: pre, post: post}
}

func (e *Evaluator) lookup(kind recipe.GuardrailKind) (checks, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.checks[kind]
	return c, ok
}

// Pre runs the recipe's pre-execution checks in guardrail order.
func (e *Evaluator) Pre(ctx context.Context, in PreInput) *Verdict {
	ctx, span := tracer.Start(ctx, "governance.pre")
	defer span.End()

	f := &Findings{}
	for _, g := range in.Recipe.Guardrails {
		c, ok := e.lookup(g.Kind)
		if !ok {
			log.Debug().Str("kind", string(g.Kind)).Str("agent_type", in.Recipe.ID).Msg("guardrail_kind_ignored")
			continue
		}
		if c.pre != nil {
			c.pre(ctx, e, g, in, f)
		}
	}

	v := compose(PhasePre, in.Recipe.ID, in.Request.Context, f, e.now())
	e.finish(span, v)
	return v
}

// Post runs the recipe's post-execution checks. Nothing is checked when there
// is no response data.
func (e *Evaluator) Post(ctx context.Context, in PostInput) *Verdict {
	ctx, span := tracer.Start(ctx, "governance.post")
	defer span.End()

	f := &Findings{}
	if !isEmpty(in.Data) {
		for _, g := range in.Recipe.Guardrails {
			c, ok := e.lookup(g.Kind)
			if !ok {
				log.Debug().Str("kind", string(g.Kind)).Str("agent_type", in.Recipe.ID).Msg("guardrail_kind_ignored")
				continue
			}
			if c.post != nil {
				c.post(ctx, e, g, in, f)
			}
		}
		checkCitations(in, f)
	}

	v := compose(PhasePost, in.Recipe.ID, in.Request.Context, f, e.now())
	e.finish(span, v)
	return v
}

func (e *Evaluator) finish(span trace.Span, v *Verdict) {
	span.SetAttributes(
		attribute.String("governance.phase", string(v.Audit.Phase)),
		attribute.String("governance.decision", string(v.Audit.Decision)),
		attribute.Int("governance.flags", len(v.Flags)),
		attribute.Int("governance.escalations", len(v.Escalations)),
	)
	log.Debug().
		Str("agent_type", v.Audit.AgentType).
		Str("tenant_id", v.Audit.Context.TenantID).
		Str("phase", string(v.Audit.Phase)).
		Str("decision", string(v.Audit.Decision)).
		Int("flags", len(v.Flags)).
		Msg("governance_evaluated")
}
