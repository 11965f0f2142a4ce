package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dativo-io/steward/internal/agentapi"
	stewardotel "github.com/dativo-io/steward/internal/otel"
)

var tracer = stewardotel.Tracer("github.com/dativo-io/steward/internal/safety")

// ConcernUnavailable prefixes the concern recorded when the classifier could
// not be consulted.
const ConcernUnavailable = "classifier_unavailable"

// Adapter maps agent requests onto a Client and turns every failure into a
// non-approved verdict.
type Adapter struct {
	client          Client
	timeout         time.Duration
	failClosedLevel Level
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithTimeout bounds each classifier call. Zero means no extra bound.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.timeout = d }
}

// WithFailClosedLevel sets the level reported when the classifier fails.
// Only review_required and blocked are accepted; anything else is ignored.
func WithFailClosedLevel(l Level) AdapterOption {
	return func(a *Adapter) {
		if l == LevelReviewRequired || l == LevelBlocked {
			a.failClosedLevel = l
		}
	}
}

// NewAdapter wraps client.
func NewAdapter(client Client, opts ...AdapterOption) *Adapter {
	a := &Adapter{client: client, failClosedLevel: LevelReviewRequired}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ClassifierSensitivity maps a request sensitivity to the classifier's
// vocabulary, which has no sacred tier.
func ClassifierSensitivity(s agentapi.Sensitivity) agentapi.Sensitivity {
	if s == agentapi.SensitivitySacred {
		return agentapi.SensitivityHigh
	}
	return s
}

// Classify classifies content on behalf of actx. It never returns an error;
// classifier failures produce a fail-closed verdict.
func (a *Adapter) Classify(ctx context.Context, content string, actx agentapi.Context, operation string) Verdict {
	ctx, span := tracer.Start(ctx, "safety.classify")
	defer span.End()
	span.SetAttributes(
		attribute.String("safety.operation", operation),
		stewardotel.Sensitivity.String(string(actx.Sensitivity)),
	)

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	sacred := actx.Sensitivity == agentapi.SensitivitySacred
	v, err := a.client.Classify(callCtx, Request{
		Content:              content,
		UserID:               actx.UserID,
		ContextType:          "agent_request",
		Operation:            operation,
		Sensitivity:          ClassifierSensitivity(actx.Sensitivity),
		CulturalAffiliations: actx.CulturalAffiliations,
		RequiresElderReview:  sacred,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classifier unavailable")
		log.Warn().Err(err).
			Str("tenant_id", actx.TenantID).
			Str("operation", operation).
			Str("fail_closed_level", string(a.failClosedLevel)).
			Msg("safety_classifier_failed")
		return a.failClosed(err, actx)
	}

	if v.Level == "" {
		v.Level = LevelReviewRequired
	}
	if sacred {
		v.Cultural.Sacred = true
		v.Cultural.Sensitivity = agentapi.SensitivitySacred
	}
	span.SetAttributes(
		attribute.String("safety.level", string(v.Level)),
		attribute.Bool("safety.approved", v.Approved),
		attribute.Int("safety.concerns", len(v.Concerns)),
	)
	return v
}

func (a *Adapter) failClosed(err error, actx agentapi.Context) Verdict {
	return Verdict{
		Approved:            false,
		Level:               a.failClosedLevel,
		Concerns:            []string{fmt.Sprintf("%s: %v", ConcernUnavailable, err)},
		ElderReviewRequired: true,
		Cultural: CulturalContext{
			Sensitivity: actx.Sensitivity,
			Sacred:      actx.Sensitivity == agentapi.SensitivitySacred,
		},
	}
}
