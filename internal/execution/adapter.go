package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/llm"
	stewardotel "github.com/dativo-io/steward/internal/otel"
	"github.com/dativo-io/steward/internal/recipe"
)

var tracer = stewardotel.Tracer("github.com/dativo-io/steward/internal/execution")

// DefaultTimeout bounds a model call when neither the request nor the
// deployment sets one.
const DefaultTimeout = 30 * time.Second

// inputShare is the fraction of a reported total attributed to input when the
// backend does not split usage.
const inputShare = 0.7

// Result is one completed model call.
type Result struct {
	Output
	Model         string
	ResponseModel string
	Provider      string
	FinishReason  string
	InputTokens   int
	OutputTokens  int
	Duration      time.Duration
	Raw           string
}

// Adapter runs model calls for the orchestrator.
type Adapter struct {
	router  *llm.Router
	breaker *CircuitBreaker
	timeout time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the deployment default call timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithCircuitBreaker enables per tenant and agent circuit breaking.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(a *Adapter) { a.breaker = cb }
}

// NewAdapter creates an adapter that resolves models through router.
func NewAdapter(router *llm.Router, opts ...Option) *Adapter {
	a := &Adapter{router: router, timeout: DefaultTimeout}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Execute calls model on behalf of req. Unparseable answers are not errors;
// they come back as raw text with Structured=false.
func (a *Adapter) Execute(ctx context.Context, rec recipe.Recipe, req *agentapi.Request, model string) (*Result, error) {
	tenantID := req.Context.TenantID
	if a.breaker != nil {
		if err := a.breaker.Check(tenantID, rec.ID); err != nil {
			return nil, err
		}
		defer a.breaker.Release(tenantID, rec.ID)
	}

	provider, err := a.router.Resolve(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("resolving model %s: %w", model, err)
	}

	maxTokens := rec.MaxOutputTokens
	if req.Options.MaxTokens != nil {
		maxTokens = *req.Options.MaxTokens
	}
	temperature := rec.DefaultTemperature
	if req.Options.Temperature != nil {
		temperature = *req.Options.Temperature
	}
	timeout := a.timeout
	if req.Options.Timeout > 0 {
		timeout = req.Options.Timeout
	}

	ctx, span := tracer.Start(ctx, "execution.generate", trace.WithAttributes(
		stewardotel.LLMRequestAttributes(provider.Name(), model, temperature, maxTokens)...,
	))
	defer span.End()
	span.SetAttributes(attribute.String("execution.timeout", timeout.String()))

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := provider.Generate(callCtx, &llm.Request{
		Model:       model,
		Messages:    BuildPrompt(rec, req),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		// A caller that went away says nothing about the backend's health.
		if a.breaker != nil && ctx.Err() == nil {
			a.breaker.RecordFailure(tenantID, rec.ID)
		}
		log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("agent_type", rec.ID).
			Str("model", model).
			Dur("duration", elapsed).
			Msg("model_call_failed")
		return nil, fmt.Errorf("model %s: %w", model, err)
	}
	if a.breaker != nil {
		a.breaker.RecordSuccess(tenantID, rec.ID)
	}

	in, out := splitTokens(resp)
	span.SetAttributes(stewardotel.LLMUsageAttributes(in, out)...)

	return &Result{
		Output:        ParseOutput(resp.Content),
		Model:         model,
		ResponseModel: resp.Model,
		Provider:      provider.Name(),
		FinishReason:  resp.FinishReason,
		InputTokens:   in,
		OutputTokens:  out,
		Duration:      elapsed,
		Raw:           resp.Content,
	}, nil
}

// splitTokens returns the backend's own split when it reported one and
// apportions the total otherwise.
func splitTokens(resp *llm.Response) (int, int) {
	if resp.InputTokens > 0 || resp.OutputTokens > 0 {
		return resp.InputTokens, resp.OutputTokens
	}
	total := resp.Total()
	in := int(float64(total) * inputShare)
	return in, total - in
}
