// Package agent runs agent requests through the gateway pipeline.
//
// Every request passes the same states in a fixed order:
//
//	cost check → safety check → governance (pre) → model execution →
//	governance (post) → metadata and eval → review routing → telemetry
//
// A request that is blocked never reaches the model. Only configuration
// errors (unknown agent type, malformed request) are returned as errors;
// every other outcome is a Response with Success=false or true.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/cost"
	"github.com/dativo-io/steward/internal/eval"
	"github.com/dativo-io/steward/internal/execution"
	"github.com/dativo-io/steward/internal/governance"
	"github.com/dativo-io/steward/internal/metrics"
	stewardotel "github.com/dativo-io/steward/internal/otel"
	"github.com/dativo-io/steward/internal/recipe"
	"github.com/dativo-io/steward/internal/review"
	"github.com/dativo-io/steward/internal/safety"
	"github.com/dativo-io/steward/internal/telemetry"
)

var tracer = stewardotel.Tracer("github.com/dativo-io/steward/internal/agent")

// Stage names, used for span names and the stage duration histogram.
const (
	stageCost           = "cost_check"
	stageSafety         = "safety_check"
	stageGovernancePre  = "governance_pre"
	stageExecute        = "execute_model"
	stageGovernancePost = "governance_post"
	stageEval           = "eval"
	stageTelemetry      = "telemetry"
)

// Classifier produces a safety verdict for request content. safety.Adapter
// implements it and never fails open.
type Classifier interface {
	Classify(ctx context.Context, content string, actx agentapi.Context, operation string) safety.Verdict
}

// Recorder persists one audit row per run.
type Recorder interface {
	Record(ctx context.Context, row *telemetry.Row) error
}

// ReviewQueue accepts responses that need a human decision.
type ReviewQueue interface {
	Enqueue(ctx context.Context, item *review.Item) (string, error)
}

// Config holds the dependencies for constructing an Orchestrator.
type Config struct {
	Catalog    *recipe.Catalog
	Ledger     cost.Ledger           // nil = in-memory ledger
	Estimator  *cost.Estimator       // nil = default price table
	Safety     Classifier            // required
	Governance *governance.Evaluator // nil = built-in checks
	Executor   *execution.Adapter    // required
	Scorer     *eval.Scorer          // nil = eval disabled
	Recorder   Recorder              // nil = no telemetry
	Reviews    ReviewQueue           // nil = escalations are logged only
	Metrics    *metrics.Metrics      // optional
	// EnforceBudget turns a block recommendation into a hard stop and
	// reserves the estimated cost before execution.
	EnforceBudget bool
}

// Orchestrator sequences one pipeline run per request. It holds no per-run
// state and is safe for concurrent use.
type Orchestrator struct {
	catalog    *recipe.Catalog
	ledger     cost.Ledger
	estimator  *cost.Estimator
	safety     Classifier
	governance *governance.Evaluator
	executor   *execution.Adapter
	scorer     *eval.Scorer
	recorder   Recorder
	reviews    ReviewQueue
	metrics    *metrics.Metrics
	enforce    bool
}

// NewOrchestrator creates an orchestrator with the given dependencies.
func NewOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		catalog:    cfg.Catalog,
		ledger:     cfg.Ledger,
		estimator:  cfg.Estimator,
		safety:     cfg.Safety,
		governance: cfg.Governance,
		executor:   cfg.Executor,
		scorer:     cfg.Scorer,
		recorder:   cfg.Recorder,
		reviews:    cfg.Reviews,
		metrics:    cfg.Metrics,
		enforce:    cfg.EnforceBudget,
	}
	if o.catalog == nil {
		o.catalog = recipe.MustDefaultCatalog()
	}
	if o.ledger == nil {
		o.ledger = cost.NewMemoryLedger()
	}
	if o.estimator == nil {
		o.estimator = cost.NewEstimator(nil)
	}
	if o.governance == nil {
		o.governance = governance.NewEvaluator()
	}
	return o
}

// Catalog returns the recipe catalog the orchestrator resolves agents from.
func (o *Orchestrator) Catalog() *recipe.Catalog {
	return o.catalog
}

// run is the state of one request as it moves through the pipeline.
type run struct {
	req           *agentapi.Request
	rec           recipe.Recipe
	correlationID string
	start         time.Time

	decision cost.Decision
	reserved float64
	settled  bool
	verdict  safety.Verdict
	pre      *governance.Verdict
	result   *execution.Result
	post     *governance.Verdict
}

// Execute runs req through the pipeline. The error is non-nil only for a
// *ConfigurationError, which is returned before any external call.
func (o *Orchestrator) Execute(ctx context.Context, req *agentapi.Request) (*agentapi.Response, error) {
	if req == nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("%w: request is required", agentapi.ErrInvalidRequest)}
	}
	if err := req.Validate(); err != nil {
		return nil, &ConfigurationError{AgentType: req.AgentType, Err: err}
	}
	rec, err := o.catalog.Get(req.AgentType)
	if err != nil {
		return nil, &ConfigurationError{AgentType: req.AgentType, Err: err}
	}

	r := &run{
		req:           req,
		rec:           rec,
		correlationID: "corr_" + uuid.New().String()[:12],
		start:         time.Now(),
	}

	ctx, span := tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		stewardotel.RunAttributes(r.correlationID, req.Context.TenantID, rec.ID, string(req.Context.Sensitivity))...,
	))
	defer span.End()

	log.Info().
		Func(stewardotel.LogTraceFields(ctx)).
		Str("correlation_id", r.correlationID).
		Str("tenant_id", req.Context.TenantID).
		Str("agent_type", rec.ID).
		Str("sensitivity", string(req.Context.Sensitivity)).
		Msg("agent_run_started")

	resp := o.pipeline(ctx, r)

	span.SetAttributes(
		stewardotel.SafetyStatus.String(string(resp.Metadata.SafetyStatus)),
		attribute.Bool("agent.success", resp.Success),
	)
	if !resp.Success {
		span.SetStatus(codes.Error, resp.Error)
	}
	o.metrics.Request(rec.ID, outcomeOf(resp))

	log.Info().
		Func(stewardotel.LogTraceFields(ctx)).
		Str("correlation_id", r.correlationID).
		Str("agent_type", rec.ID).
		Bool("success", resp.Success).
		Str("safety_status", string(resp.Metadata.SafetyStatus)).
		Str("model", resp.Metadata.Model).
		Float64("cost", resp.Metadata.EstimatedCost).
		Dur("duration", resp.Metadata.Duration).
		Str("review_id", resp.Metadata.ReviewID).
		Msg("agent_run_completed")
	return resp, nil
}

func (o *Orchestrator) pipeline(ctx context.Context, r *run) *agentapi.Response {
	if resp := o.costCheck(ctx, r); resp != nil {
		return resp
	}
	if err := ctx.Err(); err != nil {
		return o.cancelled(ctx, r, err)
	}

	r.verdict = o.safetyCheck(ctx, r)
	if r.verdict.Blocked() {
		return o.block(ctx, r, fmt.Errorf("%w: %s", ErrSafetyBlocked, concernsReason(r.verdict)))
	}
	if err := ctx.Err(); err != nil {
		return o.cancelled(ctx, r, err)
	}

	r.pre = o.governancePre(ctx, r)
	if !r.pre.Allowed {
		return o.block(ctx, r, fmt.Errorf("%w: %s", ErrGovernanceBlocked, r.pre.Reason))
	}
	if err := ctx.Err(); err != nil {
		return o.cancelled(ctx, r, err)
	}

	res, err := o.executeModel(ctx, r)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.cancelled(ctx, r, ctxErr)
		}
		return o.fail(ctx, r, err)
	}
	r.result = res
	if err := ctx.Err(); err != nil {
		return o.cancelled(ctx, r, err)
	}

	r.post = o.governancePost(ctx, r)
	resp := o.assemble(ctx, r)
	o.evaluate(ctx, r, resp)
	if err := ctx.Err(); err != nil {
		return o.cancelled(ctx, r, err)
	}

	// The run is committed from here: the review item and every audit sink
	// are written even if the caller goes away.
	commit := context.WithoutCancel(ctx)
	o.routeReview(commit, r, resp)
	o.record(commit, r, resp)
	return resp
}

// stage opens the span for one pipeline state. The returned func ends it
// and observes the stage duration.
func (o *Orchestrator) stage(ctx context.Context, name string) (context.Context, trace.Span, func()) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "agent."+name)
	return ctx, span, func() {
		o.metrics.Stage(name, time.Since(start))
		span.End()
	}
}

func (o *Orchestrator) costCheck(ctx context.Context, r *run) *agentapi.Response {
	ctx, span, done := o.stage(ctx, stageCost)
	defer done()

	tenantID := r.req.Context.TenantID
	pol, err := o.ledger.Policy(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		if o.enforce {
			log.Error().Err(err).
				Str("correlation_id", r.correlationID).
				Str("tenant_id", tenantID).
				Msg("budget_policy_unavailable")
			return agentapi.Blocked(r.rec.ID, r.correlationID, "budget check failed: "+err.Error())
		}
		log.Warn().Err(err).
			Str("correlation_id", r.correlationID).
			Str("tenant_id", tenantID).
			Msg("budget_policy_unavailable")
		pol = cost.UnlimitedPolicy(tenantID)
	}

	r.decision = o.estimator.Estimate(r.rec, r.req, pol)
	span.SetAttributes(
		attribute.String("cost.recommendation", string(r.decision.Recommendation)),
		attribute.String("cost.model", r.decision.Model),
		attribute.Float64("cost.estimated_usd", r.decision.EstimatedCost),
		attribute.Bool("cost.slo_compliant", r.decision.SLOCompliant),
	)

	if r.decision.Recommendation == cost.RecommendBlock {
		if o.enforce {
			return o.budgetBlock(r, fmt.Sprintf("estimated $%.6f exceeds the budget of tenant %s", r.decision.EstimatedCost, tenantID))
		}
		log.Warn().
			Str("correlation_id", r.correlationID).
			Str("tenant_id", tenantID).
			Float64("estimated_cost", r.decision.EstimatedCost).
			Float64("remaining_monthly", r.decision.RemainingMonthly).
			Msg("budget_block_not_enforced")
	}
	if !o.enforce {
		return nil
	}

	if _, err := o.ledger.Reserve(ctx, tenantID, r.decision.EstimatedCost); err != nil {
		if errors.Is(err, cost.ErrBudgetExceeded) {
			return o.budgetBlock(r, "reservation refused, budget exhausted by concurrent requests")
		}
		span.RecordError(err)
		log.Error().Err(err).
			Str("correlation_id", r.correlationID).
			Str("tenant_id", tenantID).
			Msg("budget_reserve_failed")
		return agentapi.Blocked(r.rec.ID, r.correlationID, "budget check failed: "+err.Error())
	}
	r.reserved = r.decision.EstimatedCost
	return nil
}

// budgetBlock stops the run. Budget blocks write no telemetry row.
func (o *Orchestrator) budgetBlock(r *run, detail string) *agentapi.Response {
	err := fmt.Errorf("%w: %s", ErrBudgetExceeded, detail)
	o.metrics.BudgetBlock()
	log.Warn().Err(err).
		Str("correlation_id", r.correlationID).
		Str("tenant_id", r.req.Context.TenantID).
		Str("agent_type", r.rec.ID).
		Msg("budget_blocked")
	return agentapi.Blocked(r.rec.ID, r.correlationID, err.Error())
}

func (o *Orchestrator) safetyCheck(ctx context.Context, r *run) safety.Verdict {
	ctx, span, done := o.stage(ctx, stageSafety)
	defer done()

	v := o.safety.Classify(ctx, r.req.SerializedInput(), r.req.Context, r.rec.ID)
	span.SetAttributes(
		attribute.String("safety.level", string(v.Level)),
		attribute.Bool("safety.approved", v.Approved),
		attribute.Bool("safety.elder_review_required", v.ElderReviewRequired),
	)
	return v
}

func (o *Orchestrator) governancePre(ctx context.Context, r *run) *governance.Verdict {
	ctx, _, done := o.stage(ctx, stageGovernancePre)
	defer done()

	return o.governance.Pre(ctx, governance.PreInput{
		Recipe:  r.rec,
		Request: r.req,
		Model:   r.decision.Model,
		Safety:  r.verdict,
		Cost:    r.decision,
	})
}

func (o *Orchestrator) executeModel(ctx context.Context, r *run) (*execution.Result, error) {
	ctx, span, done := o.stage(ctx, stageExecute)
	defer done()

	res, err := o.executor.Execute(ctx, r.rec, r.req, r.decision.Model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		return nil, err
	}
	span.SetAttributes(stewardotel.LLMUsageAttributes(res.InputTokens, res.OutputTokens)...)
	span.SetAttributes(
		stewardotel.GenAISystem.String(res.Provider),
		stewardotel.GenAIRequestModel.String(res.Model),
		stewardotel.GenAIResponseFinishReason.String(res.FinishReason),
		attribute.Bool("execution.structured", res.Structured),
	)
	return res, nil
}

func (o *Orchestrator) governancePost(ctx context.Context, r *run) *governance.Verdict {
	ctx, _, done := o.stage(ctx, stageGovernancePost)
	defer done()

	v := o.governance.Post(ctx, governance.PostInput{
		Recipe:    r.rec,
		Request:   r.req,
		Data:      r.result.Result,
		Citations: r.result.Citations,
		ContentID: contentID(r.req.Context),
	})
	for _, f := range v.Flags {
		if f.Type == string(recipe.GuardrailPII) && f.Severity.Blocking() {
			o.metrics.PIIAlarm()
			log.Error().
				Func(stewardotel.LogTraceFields(ctx)).
				Str("correlation_id", r.correlationID).
				Str("tenant_id", r.req.Context.TenantID).
				Str("agent_type", r.rec.ID).
				Str("detail", f.Detail).
				Bool("redacted", v.Redacted != nil).
				Msg("pii_alarm")
			break
		}
	}
	return v
}

// assemble builds the success response and settles the reservation against
// the real token counts.
func (o *Orchestrator) assemble(ctx context.Context, r *run) *agentapi.Response {
	res := r.result
	actual := o.estimator.Actual(r.decision.Model, res.InputTokens, res.OutputTokens)
	o.settle(ctx, r, actual)
	cost.RecordCostMetrics(ctx, actual, r.rec.ID, r.decision.Model, r.decision.Recommendation == cost.RecommendDowngrade)

	data := res.Result
	if r.post.Redacted != nil {
		data = r.post.Redacted
	}
	return &agentapi.Response{
		Success:   true,
		Data:      data,
		Citations: res.Citations,
		Metadata: agentapi.Metadata{
			AgentType:       r.rec.ID,
			Model:           r.decision.Model,
			InputTokens:     res.InputTokens,
			OutputTokens:    res.OutputTokens,
			Duration:        time.Since(r.start),
			EstimatedCost:   actual,
			SafetyStatus:    safetyStatus(r.verdict, r.pre, r.post),
			ConsentVerified: !r.verdict.ElderReviewRequired,
			CorrelationID:   r.correlationID,
		},
	}
}

// safetyStatus derives the caller-visible status. Any escalation wins over
// plain flags.
func safetyStatus(v safety.Verdict, pre, post *governance.Verdict) agentapi.SafetyStatus {
	escalated := v.ElderReviewRequired
	flagged := v.Level == safety.LevelReviewRequired
	for _, g := range []*governance.Verdict{pre, post} {
		if g == nil {
			continue
		}
		escalated = escalated || len(g.Escalations) > 0
		flagged = flagged || len(g.Flags) > 0
	}
	switch {
	case escalated:
		return agentapi.StatusElderReviewRequired
	case flagged:
		return agentapi.StatusFlagged
	default:
		return agentapi.StatusApproved
	}
}

func (o *Orchestrator) evaluate(ctx context.Context, r *run, resp *agentapi.Response) {
	if o.scorer == nil {
		return
	}
	_, span, done := o.stage(ctx, stageEval)
	defer done()

	latency := float64(resp.Metadata.Duration.Milliseconds())
	errorRate := 0.0
	hallucination := 0.0
	if r.post.HasFlag(governance.FlagHallucination) {
		hallucination = 1
	}
	m := eval.Metrics{
		LatencyMS:     &latency,
		ErrorRate:     &errorRate,
		Hallucination: &hallucination,
	}
	switch {
	case len(resp.Citations) > 0:
		coverage := 1.0
		m.CitationCoverage = &coverage
	case r.rec.RequiresCitations:
		coverage := 0.0
		m.CitationCoverage = &coverage
	}

	result := o.scorer.Score(r.rec.ID, r.req.Context.Sensitivity, m)
	score := result.Score
	resp.Metadata.EvalScore = &score
	span.SetAttributes(
		attribute.Float64("eval.score", result.Score),
		attribute.Bool("eval.passed", result.Passed),
		attribute.Bool("eval.failed_critical", result.FailedCritical),
	)
	if !result.Passed {
		log.Info().
			Str("correlation_id", r.correlationID).
			Str("agent_type", r.rec.ID).
			Float64("score", result.Score).
			Bool("failed_critical", result.FailedCritical).
			Msg("eval_below_threshold")
	}
}

// routeReview parks escalated responses and human-in-the-loop recipes in the
// review queue. The caller receives Success=true with the review id but no
// data or citations; the content is released through the review API after
// approval. If the enqueue fails the content is still withheld.
func (o *Orchestrator) routeReview(ctx context.Context, r *run, resp *agentapi.Response) {
	var reason string
	switch {
	case resp.Metadata.SafetyStatus == agentapi.StatusElderReviewRequired:
		reason = "elder review required"
	case r.rec.HumanInLoopRequired:
		reason = "recipe requires human review"
	default:
		return
	}
	if o.reviews == nil {
		log.Warn().
			Str("correlation_id", r.correlationID).
			Str("agent_type", r.rec.ID).
			Str("reason", reason).
			Msg("review_queue_not_configured")
		return
	}

	id, err := o.reviews.Enqueue(ctx, &review.Item{
		CorrelationID: r.correlationID,
		TenantID:      r.req.Context.TenantID,
		AgentType:     r.rec.ID,
		Reason:        reason,
		Escalations:   escalations(r),
		Response:      resp,
	})
	if err != nil {
		log.Error().Err(err).
			Str("correlation_id", r.correlationID).
			Str("agent_type", r.rec.ID).
			Msg("review_enqueue_failed")
		withhold(resp)
		return
	}
	resp.Metadata.ReviewID = id
	withhold(resp)
	log.Info().
		Str("correlation_id", r.correlationID).
		Str("agent_type", r.rec.ID).
		Str("review_id", id).
		Msg("agent_response_held_for_review")
}

func withhold(resp *agentapi.Response) {
	resp.Data = nil
	resp.Citations = nil
}

// escalations collects both governance phases. A classifier elder request
// with no governance counterpart becomes an elder escalation of its own.
func escalations(r *run) []governance.EscalationRequest {
	var out []governance.EscalationRequest
	elder := false
	for _, g := range []*governance.Verdict{r.pre, r.post} {
		if g == nil {
			continue
		}
		out = append(out, g.Escalations...)
		elder = elder || len(g.EscalationsTo(governance.TargetElder)) > 0
	}
	if r.verdict.ElderReviewRequired && !elder {
		out = append(out, governance.EscalationRequest{
			Target:    governance.TargetElder,
			Reason:    "safety classifier requested elder review",
			Urgency:   governance.UrgencyImportant,
			ContentID: contentID(r.req.Context),
		})
	}
	return out
}

// record writes the audit row. Failures are logged and counted, never
// returned.
func (o *Orchestrator) record(ctx context.Context, r *run, resp *agentapi.Response) {
	if o.recorder == nil {
		return
	}
	ctx, span, done := o.stage(ctx, stageTelemetry)
	defer done()

	md := resp.Metadata
	row := &telemetry.Row{
		CorrelationID:   r.correlationID,
		TenantID:        r.req.Context.TenantID,
		UserID:          r.req.Context.UserID,
		AgentType:       r.rec.ID,
		Model:           r.decision.Model,
		InputTokens:     md.InputTokens,
		OutputTokens:    md.OutputTokens,
		DurationMS:      time.Since(r.start).Milliseconds(),
		EstimatedCost:   md.EstimatedCost,
		SafetyStatus:    md.SafetyStatus,
		ConsentVerified: md.ConsentVerified,
		ProjectID:       r.req.Context.ProjectID,
		StoryID:         r.req.Context.StoryID,
		EvalScore:       md.EvalScore,
		Flags:           flags(r),
		Success:         resp.Success,
		Error:           resp.Error,
		InputHash:       telemetry.HashContent(r.req.SerializedInput()),
		ReviewID:        md.ReviewID,
	}
	if resp.Success && r.result != nil {
		row.OutputHash = telemetry.HashContent(r.result.Raw)
	}

	// Sinks must agree, so a caller cancellation cannot cut the fan-out short.
	if err := o.recorder.Record(context.WithoutCancel(ctx), row); err != nil {
		err = fmt.Errorf("%w: %w", ErrTelemetry, err)
		span.RecordError(err)
		o.metrics.TelemetryFailure()
		log.Error().Err(err).
			Str("correlation_id", r.correlationID).
			Str("agent_type", r.rec.ID).
			Msg("agent_telemetry_failed")
	}
}

func flags(r *run) []governance.Flag {
	var out []governance.Flag
	for _, g := range []*governance.Verdict{r.pre, r.post} {
		if g != nil {
			out = append(out, g.Flags...)
		}
	}
	return out
}

// block ends a run stopped by the classifier or by governance. Unlike
// budget blocks these are audited.
func (o *Orchestrator) block(ctx context.Context, r *run, err error) *agentapi.Response {
	log.Warn().Err(err).
		Func(stewardotel.LogTraceFields(ctx)).
		Str("correlation_id", r.correlationID).
		Str("tenant_id", r.req.Context.TenantID).
		Str("agent_type", r.rec.ID).
		Msg("agent_run_blocked")
	o.release(ctx, r)
	resp := agentapi.Blocked(r.rec.ID, r.correlationID, err.Error())
	o.record(ctx, r, resp)
	return resp
}

// fail ends a run whose model call errored. The audit row carries the error
// and no usage.
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) *agentapi.Response {
	err := fmt.Errorf("%w: %w", ErrExecution, cause)
	log.Error().Err(err).
		Func(stewardotel.LogTraceFields(ctx)).
		Str("correlation_id", r.correlationID).
		Str("tenant_id", r.req.Context.TenantID).
		Str("agent_type", r.rec.ID).
		Str("model", r.decision.Model).
		Msg("agent_execution_failed")
	o.release(ctx, r)
	resp := agentapi.Failed(r.rec.ID, r.correlationID, r.decision.Model, time.Since(r.start), err.Error())
	o.record(ctx, r, resp)
	return resp
}

// cancelled ends a run whose caller went away. No audit row is written.
func (o *Orchestrator) cancelled(ctx context.Context, r *run, err error) *agentapi.Response {
	if r.result != nil && !r.settled {
		o.settle(ctx, r, o.estimator.Actual(r.decision.Model, r.result.InputTokens, r.result.OutputTokens))
	} else {
		o.release(ctx, r)
	}
	log.Warn().Err(err).
		Str("correlation_id", r.correlationID).
		Str("agent_type", r.rec.ID).
		Msg("agent_run_cancelled")
	return agentapi.Failed(r.rec.ID, r.correlationID, r.decision.Model, time.Since(r.start), err.Error())
}

// release returns an unused reservation.
func (o *Orchestrator) release(ctx context.Context, r *run) {
	if r.reserved == 0 {
		return
	}
	o.adjust(ctx, r, -r.reserved)
	r.reserved = 0
}

// settle replaces the reservation with the actual cost.
func (o *Orchestrator) settle(ctx context.Context, r *run, actual float64) {
	delta := actual - r.reserved
	r.reserved = 0
	r.settled = true
	if delta != 0 {
		o.adjust(ctx, r, delta)
	}
}

func (o *Orchestrator) adjust(ctx context.Context, r *run, delta float64) {
	// Ledger bookkeeping must complete even when the caller has gone away.
	if err := o.ledger.Adjust(context.WithoutCancel(ctx), r.req.Context.TenantID, delta); err != nil {
		log.Error().Err(err).
			Str("correlation_id", r.correlationID).
			Str("tenant_id", r.req.Context.TenantID).
			Float64("delta", delta).
			Msg("budget_adjust_failed")
	}
}

func concernsReason(v safety.Verdict) string {
	if len(v.Concerns) == 0 {
		return "content classified as " + string(v.Level)
	}
	return strings.Join(v.Concerns, "; ")
}

func contentID(c agentapi.Context) string {
	switch {
	case c.StoryID != "":
		return c.StoryID
	case c.TranscriptID != "":
		return c.TranscriptID
	default:
		return c.ProjectID
	}
}

func outcomeOf(resp *agentapi.Response) string {
	switch {
	case resp.Success:
		return metrics.OutcomeSuccess
	case resp.Metadata.SafetyStatus == agentapi.StatusBlocked:
		return metrics.OutcomeBlocked
	default:
		return metrics.OutcomeFailed
	}
}
