package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/cost"
	"github.com/dativo-io/steward/internal/policy"
	"github.com/dativo-io/steward/internal/recipe"
	"github.com/dativo-io/steward/internal/safety"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultJurisdictions())
	require.NoError(t, err)
	return NewEvaluator(WithJurisdictionEngine(engine), WithClock(func() time.Time { return fixedNow }))
}

func guardrails(gs ...recipe.GuardrailConfig) recipe.Recipe {
	return recipe.Recipe{ID: "test-agent", DefaultModel: "gpt-4o", Guardrails: gs}
}

func request(sens agentapi.Sensitivity, consent ...string) *agentapi.Request {
	return &agentapi.Request{
		AgentType: "test-agent",
		Context:   agentapi.Context{TenantID: "t1", Sensitivity: sens, ConsentScope: consent, StoryID: "story-9"},
		Input:     map[string]any{"text": "hello"},
	}
}

func TestPre_ConsentBlocking(t *testing.T) {
	e := newTestEvaluator(t)
	rec := guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailConsent, Blocking: true, Action: recipe.ActionBlock})

	for _, consent := range [][]string{nil, {}, {""}} {
		v := e.Pre(context.Background(), PreInput{Recipe: rec, Request: request(agentapi.SensitivityLow, consent...)})
		assert.False(t, v.Allowed)
		require.Len(t, v.Flags, 1)
		assert.Equal(t, SeverityCritical, v.Flags[0].Severity)
		assert.Equal(t, "consent scope is missing", v.Reason)
		assert.Equal(t, DecisionDeny, v.Audit.Decision)
	}

	v := e.Pre(context.Background(), PreInput{Recipe: rec, Request: request(agentapi.SensitivityLow, "transcript:123")})
	assert.True(t, v.Allowed)
	assert.Empty(t, v.Flags)
	assert.Equal(t, DecisionAllow, v.Audit.Decision)
}

func TestPre_ConsentNonBlockingWarns(t *testing.T) {
	e := newTestEvaluator(t)
	rec := guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailConsent, Action: recipe.ActionFlag})

	v := e.Pre(context.Background(), PreInput{Recipe: rec, Request: request(agentapi.SensitivityLow)})
	assert.True(t, v.Allowed)
	require.Len(t, v.Flags, 1)
	assert.Equal(t, SeverityWarning, v.Flags[0].Severity)
	assert.Equal(t, DecisionFlag, v.Audit.Decision)
}

func TestPre_SacredEscalatesExactlyOnce(t *testing.T) {
	e := newTestEvaluator(t)
	tests := []struct {
		name string
		rec  recipe.Recipe
		req  *agentapi.Request
	}{
		{"non-blocking cultural", guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailCultural, Action: recipe.ActionElderReview}), request(agentapi.SensitivitySacred, "s")},
		{"blocking cultural", guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailCultural, Blocking: true}), request(agentapi.SensitivitySacred, "s")},
		{"duplicate cultural guardrails", guardrails(
			recipe.GuardrailConfig{Kind: recipe.GuardrailCultural},
			recipe.GuardrailConfig{Kind: recipe.GuardrailCultural, Blocking: true},
		), request(agentapi.SensitivitySacred, "s")},
		{"alongside failing consent", guardrails(
			recipe.GuardrailConfig{Kind: recipe.GuardrailConsent, Blocking: true},
			recipe.GuardrailConfig{Kind: recipe.GuardrailCultural},
		), request(agentapi.SensitivitySacred)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Pre(context.Background(), PreInput{Recipe: tt.rec, Request: tt.req})
			elder := v.EscalationsTo(TargetElder)
			require.Len(t, elder, 1)
			assert.Equal(t, UrgencyImportant, elder[0].Urgency)
			assert.Equal(t, "story-9", elder[0].ContentID)
		})
	}
}

func TestPre_SacredWithConsentIsAllowedButEscalated(t *testing.T) {
	e := newTestEvaluator(t)
	rec, err := recipe.MustDefaultCatalog().Get("de-escalator")
	require.NoError(t, err)

	v := e.Pre(context.Background(), PreInput{
		Recipe:  rec,
		Request: request(agentapi.SensitivitySacred, "transcript:1"),
		Model:   rec.DefaultModel,
		Safety:  safety.Verdict{Approved: true, Level: safety.LevelReviewRequired},
	})
	assert.True(t, v.Allowed)
	assert.Equal(t, DecisionEscalate, v.Audit.Decision)
	assert.Len(t, v.EscalationsTo(TargetElder), 1)
}

func TestPre_NonSacredHasNoElderEscalation(t *testing.T) {
	e := newTestEvaluator(t)
	rec := guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailCultural})
	for _, s := range []agentapi.Sensitivity{agentapi.SensitivityLow, agentapi.SensitivityMedium, agentapi.SensitivityHigh} {
		v := e.Pre(context.Background(), PreInput{Recipe: rec, Request: request(s, "x")})
		assert.Empty(t, v.Escalations, s)
	}
}

func TestPre_Jurisdiction(t *testing.T) {
	e := newTestEvaluator(t)
	tests := []struct {
		name         string
		blocking     bool
		jurisdiction string
		model        string
		sensitivity  agentapi.Sensitivity
		allowed      bool
		escalations  int
	}{
		{"no jurisdiction skipped", true, "", "gpt-4o", agentapi.SensitivityLow, true, 0},
		{"AU denies openai when blocking", true, "AU", "gpt-4o", agentapi.SensitivityLow, false, 0},
		{"AU allows bedrock", true, "au", "anthropic.claude-3-haiku-20240307-v1:0", agentapi.SensitivityLow, true, 0},
		{"AU sacred needs local", true, "AU", "anthropic.claude-3-haiku-20240307-v1:0", agentapi.SensitivitySacred, false, 0},
		{"AU sacred on ollama", true, "AU", "llama3.1:8b", agentapi.SensitivitySacred, true, 0},
		{"non-blocking escalates to compliance", false, "AU", "gpt-4o", agentapi.SensitivityLow, true, 1},
		{"unknown jurisdiction allowed", true, "FR", "gpt-4o", agentapi.SensitivityHigh, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(tt.sensitivity, "c")
			req.Context.Jurisdiction = tt.jurisdiction
			rec := guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailJurisdiction, Blocking: tt.blocking})

			v := e.Pre(context.Background(), PreInput{Recipe: rec, Request: req, Model: tt.model})
			assert.Equal(t, tt.allowed, v.Allowed, v.Reason)
			assert.Len(t, v.EscalationsTo(TargetCompliance), tt.escalations)
			if tt.escalations > 0 {
				assert.Equal(t, UrgencyRoutine, v.Escalations[0].Urgency)
			}
		})
	}
}

func TestPre_JurisdictionWithoutEngineIsSkipped(t *testing.T) {
	e := NewEvaluator()
	req := request(agentapi.SensitivityLow, "c")
	req.Context.Jurisdiction = "AU"
	v := e.Pre(context.Background(), PreInput{
		Recipe: guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailJurisdiction, Blocking: true}), Request: req, Model: "gpt-4o",
	})
	assert.True(t, v.Allowed)
}

func TestPre_Toxicity(t *testing.T) {
	one := 1.0
	e := newTestEvaluator(t)
	tests := []struct {
		name      string
		guardrail recipe.GuardrailConfig
		verdict   safety.Verdict
		allowed   bool
		flags     int
		admin     int
	}{
		{"clean", recipe.GuardrailConfig{Kind: recipe.GuardrailToxicity, Blocking: true}, safety.Verdict{Approved: true, Level: safety.LevelSafe}, true, 0, 0},
		{"one concern blocks at zero threshold", recipe.GuardrailConfig{Kind: recipe.GuardrailToxicity, Blocking: true},
			safety.Verdict{Level: safety.LevelReviewRequired, Concerns: []string{"toxicity: insult"}}, false, 1, 0},
		{"within threshold", recipe.GuardrailConfig{Kind: recipe.GuardrailToxicity, Blocking: true, Threshold: &one},
			safety.Verdict{Level: safety.LevelReviewRequired, Concerns: []string{"harassment: x", "sacred_content: y"}}, true, 0, 0},
		{"over threshold non-blocking elder_review", recipe.GuardrailConfig{Kind: recipe.GuardrailToxicity, Threshold: &one, Action: recipe.ActionElderReview},
			safety.Verdict{Level: safety.LevelReviewRequired, Concerns: []string{"toxicity: a", "threat: b"}}, true, 1, 1},
		{"blocked level counts", recipe.GuardrailConfig{Kind: recipe.GuardrailToxicity, Threshold: &one},
			safety.Verdict{Level: safety.LevelBlocked}, true, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Pre(context.Background(), PreInput{Recipe: guardrails(tt.guardrail), Request: request(agentapi.SensitivityLow, "c"), Safety: tt.verdict})
			assert.Equal(t, tt.allowed, v.Allowed)
			assert.Len(t, v.Flags, tt.flags)
			assert.Len(t, v.EscalationsTo(TargetAdmin), tt.admin)
		})
	}
}

func TestPre_Budget(t *testing.T) {
	e := newTestEvaluator(t)
	tests := []struct {
		name     string
		blocking bool
		rec      cost.Recommendation
		severity Severity
		allowed  bool
	}{
		{"downgrade info", false, cost.RecommendDowngrade, SeverityInfo, true},
		{"block warns", false, cost.RecommendBlock, SeverityWarning, true},
		{"block errors when blocking", true, cost.RecommendBlock, SeverityError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Pre(context.Background(), PreInput{
				Recipe:  guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailBudget, Blocking: tt.blocking}),
				Request: request(agentapi.SensitivityLow, "c"),
				Cost:    cost.Decision{Model: "gpt-4o-mini", Recommendation: tt.rec},
			})
			require.Len(t, v.Flags, 1)
			assert.Equal(t, tt.severity, v.Flags[0].Severity)
			assert.Equal(t, tt.allowed, v.Allowed)
		})
	}

	v := e.Pre(context.Background(), PreInput{
		Recipe:  guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailBudget, Blocking: true}),
		Request: request(agentapi.SensitivityLow, "c"),
		Cost:    cost.Decision{Recommendation: cost.RecommendProceed},
	})
	assert.Empty(t, v.Flags)
}

func TestPre_UnknownKindIgnored(t *testing.T) {
	e := newTestEvaluator(t)
	v := e.Pre(context.Background(), PreInput{
		Recipe:  guardrails(recipe.GuardrailConfig{Kind: "astrology", Blocking: true}),
		Request: request(agentapi.SensitivityLow),
	})
	assert.True(t, v.Allowed)
}

func TestPre_ReasonJoinsBlockingFlags(t *testing.T) {
	e := newTestEvaluator(t)
	req := request(agentapi.SensitivityLow)
	req.Context.Jurisdiction = "AU"
	v := e.Pre(context.Background(), PreInput{
		Recipe: guardrails(
			recipe.GuardrailConfig{Kind: recipe.GuardrailConsent, Blocking: true},
			recipe.GuardrailConfig{Kind: recipe.GuardrailBudget},
			recipe.GuardrailConfig{Kind: recipe.GuardrailJurisdiction, Blocking: true},
		),
		Request: req,
		Model:   "gpt-4o",
		Cost:    cost.Decision{Model: "gpt-4o-mini", Recommendation: cost.RecommendDowngrade},
	})
	assert.False(t, v.Allowed)
	assert.Equal(t, "consent scope is missing; provider openai is not permitted under jurisdiction AU", v.Reason)
	assert.Len(t, v.Flags, 3)
	assert.Equal(t, fixedNow, v.Audit.Timestamp)
	assert.Equal(t, PhasePre, v.Audit.Phase)
	assert.Equal(t, "test-agent", v.Audit.AgentType)
}

func TestPost_PII(t *testing.T) {
	e := newTestEvaluator(t)
	data := map[string]any{"result": "Reach Aunty May at may@example.org"}

	v := e.Post(context.Background(), PostInput{
		Recipe:  guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailPII, Action: recipe.ActionFlag}),
		Request: request(agentapi.SensitivityLow, "c"),
		Data:    data,
	})
	assert.False(t, v.Allowed)
	require.True(t, v.HasFlag("pii"))
	assert.Equal(t, SeverityError, v.Flags[0].Severity)
	assert.Nil(t, v.Redacted)
	assert.Equal(t, PhasePost, v.Audit.Phase)
}

func TestPost_PIIRedact(t *testing.T) {
	e := newTestEvaluator(t)
	rec := guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailPII, Action: recipe.ActionRedact})

	v := e.Post(context.Background(), PostInput{Recipe: rec, Request: request(agentapi.SensitivityLow, "c"),
		Data: map[string]any{"result": "email may@example.org"}})
	redacted, ok := v.Redacted.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "email [EMAIL]", redacted["result"])

	v = e.Post(context.Background(), PostInput{Recipe: rec, Request: request(agentapi.SensitivityLow, "c"),
		Data: "email may@example.org"})
	assert.Equal(t, "email [EMAIL]", v.Redacted)
}

func TestPost_Citations(t *testing.T) {
	e := newTestEvaluator(t)
	rec := guardrails()
	rec.RequiresCitations = true

	v := e.Post(context.Background(), PostInput{Recipe: rec, Request: request(agentapi.SensitivityLow, "c"), Data: "a summary"})
	assert.True(t, v.Allowed)
	assert.True(t, v.HasFlag(FlagHallucination))
	assert.Equal(t, DecisionFlag, v.Audit.Decision)

	v = e.Post(context.Background(), PostInput{Recipe: rec, Request: request(agentapi.SensitivityLow, "c"), Data: "a summary",
		Citations: []agentapi.Citation{{TranscriptID: "t", Text: "quote"}}})
	assert.False(t, v.HasFlag(FlagHallucination))

	rec.RequiresCitations = false
	v = e.Post(context.Background(), PostInput{Recipe: rec, Request: request(agentapi.SensitivityLow, "c"), Data: "a summary"})
	assert.Empty(t, v.Flags)
}

func TestPost_NoDataRunsNothing(t *testing.T) {
	e := newTestEvaluator(t)
	rec := guardrails(recipe.GuardrailConfig{Kind: recipe.GuardrailPII})
	rec.RequiresCitations = true
	for _, data := range []any{nil, "", "   ", map[string]any{}} {
		v := e.Post(context.Background(), PostInput{Recipe: rec, Request: request(agentapi.SensitivityLow), Data: data})
		assert.True(t, v.Allowed)
		assert.Empty(t, v.Flags)
		assert.Equal(t, DecisionAllow, v.Audit.Decision)
	}
}

func TestRegister_AddsGuardrailKind(t *testing.T) {
	e := newTestEvaluator(t)
	e.Register("language", func(_ context.Context, _ *Evaluator, g recipe.GuardrailConfig, in PreInput, out *Findings) {
		if _, ok := in.Request.Input["lang"]; !ok {
			out.Flag(string(g.Kind), "language not declared", SeverityInfo)
		}
	}, nil)

	v := e.Pre(context.Background(), PreInput{Recipe: guardrails(recipe.GuardrailConfig{Kind: "language"}), Request: request(agentapi.SensitivityLow)})
	require.Len(t, v.Flags, 1)
	assert.Equal(t, "language", v.Flags[0].Type)
}

func TestAuditSnapshotIsIndependent(t *testing.T) {
	e := newTestEvaluator(t)
	req := request(agentapi.SensitivityLow, "scope-a")
	v := e.Pre(context.Background(), PreInput{Recipe: guardrails(), Request: req})
	req.Context.ConsentScope[0] = "mutated"
	assert.Equal(t, []string{"scope-a"}, v.Audit.Context.ConsentScope)
}
