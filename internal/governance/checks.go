package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/cost"
	"github.com/dativo-io/steward/internal/llm"
	"github.com/dativo-io/steward/internal/policy"
	"github.com/dativo-io/steward/internal/recipe"
	"github.com/dativo-io/steward/internal/safety"
)

// toxicityCategories are the concern categories counted by the toxicity
// guardrail. A concern's category is the text before its first colon.
var toxicityCategories = map[string]bool{
	"toxicity":   true,
	"abuse":      true,
	"harassment": true,
	"hate":       true,
	"threat":     true,
	"violence":   true,
}

func checkConsent(_ context.Context, _ *Evaluator, g recipe.GuardrailConfig, in PreInput, out *Findings) {
	if in.Request.Context.HasConsent() {
		return
	}
	if g.Blocking {
		out.Flag(string(g.Kind), "consent scope is missing", SeverityCritical)
		return
	}
	out.Flag(string(g.Kind), "consent scope is missing", SeverityWarning)
}

// checkCultural escalates sacred content to an elder. At most one elder
// escalation is raised per evaluation.
func checkCultural(_ context.Context, _ *Evaluator, g recipe.GuardrailConfig, in PreInput, out *Findings) {
	actx := in.Request.Context
	if actx.Sensitivity != agentapi.SensitivitySacred {
		return
	}
	out.Flag(string(g.Kind), "sacred content requires elder review", SeverityWarning)
	if !out.HasEscalation(TargetElder) {
		out.Escalate(TargetElder, UrgencyImportant, "sacred content", contentID(actx))
	}
}

func checkJurisdiction(ctx context.Context, e *Evaluator, g recipe.GuardrailConfig, in PreInput, out *Findings) {
	actx := in.Request.Context
	if actx.Jurisdiction == "" {
		return
	}
	if e.jurisdiction == nil {
		log.Debug().Str("jurisdiction", actx.Jurisdiction).Msg("jurisdiction_engine_not_configured")
		return
	}

	provider, err := llm.InferProvider(in.Model)
	if err != nil {
		provider = ""
	}
	decision, err := e.jurisdiction.Evaluate(ctx, policy.Input{
		Jurisdiction:  actx.Jurisdiction,
		Sensitivity:   actx.Sensitivity,
		Model:         in.Model,
		Provider:      provider,
		ProviderLocal: llm.IsLocal(provider),
	})
	if err != nil {
		log.Error().Err(err).Str("jurisdiction", actx.Jurisdiction).Msg("jurisdiction_policy_failed")
		sev := SeverityWarning
		if g.Blocking {
			sev = SeverityError
		}
		out.Flag(string(g.Kind), "jurisdiction policy could not be evaluated", sev)
		return
	}
	if decision.Allowed {
		return
	}

	detail := strings.Join(decision.Reasons, "; ")
	if g.Blocking {
		out.Flag(string(g.Kind), detail, SeverityError)
		return
	}
	out.Flag(string(g.Kind), detail, SeverityWarning)
	out.Escalate(TargetCompliance, UrgencyRoutine, detail, contentID(actx))
}

func checkToxicity(_ context.Context, _ *Evaluator, g recipe.GuardrailConfig, in PreInput, out *Findings) {
	var hits []string
	for _, c := range in.Safety.Concerns {
		if toxicityCategories[concernCategory(c)] {
			hits = append(hits, c)
		}
	}

	limit := 0.0
	if g.Threshold != nil {
		limit = *g.Threshold
	}
	if float64(len(hits)) <= limit && in.Safety.Level != safety.LevelBlocked {
		return
	}

	detail := fmt.Sprintf("toxic content detected (%d concerns)", len(hits))
	if len(hits) > 0 {
		detail = "toxic content detected: " + strings.Join(hits, ", ")
	}
	sev := SeverityWarning
	if g.Blocking {
		sev = SeverityError
	}
	out.Flag(string(g.Kind), detail, sev)
	if g.Action == recipe.ActionElderReview {
		out.Escalate(TargetAdmin, UrgencyUrgent, detail, contentID(in.Request.Context))
	}
}

func checkBudget(_ context.Context, _ *Evaluator, g recipe.GuardrailConfig, in PreInput, out *Findings) {
	switch in.Cost.Recommendation {
	case cost.RecommendDowngrade:
		out.Flag(string(g.Kind), fmt.Sprintf("downgraded to %s to stay within budget", in.Cost.Model), SeverityInfo)
	case cost.RecommendBlock:
		detail := fmt.Sprintf("estimated cost %.4f USD exceeds budget", in.Cost.EstimatedCost)
		if g.Blocking {
			out.Flag(string(g.Kind), detail, SeverityError)
			return
		}
		out.Flag(string(g.Kind), detail, SeverityWarning)
	}
}

func checkPII(ctx context.Context, e *Evaluator, g recipe.GuardrailConfig, in PostInput, out *Findings) {
	text, isString := serialize(in.Data)
	result := e.scanner.Scan(ctx, text)
	if !result.HasPII {
		return
	}

	out.Flag(string(g.Kind), "response contains personal information: "+strings.Join(result.Types(), ", "), SeverityError)
	if g.Action != recipe.ActionRedact {
		return
	}

	redacted := e.scanner.Redact(ctx, text)
	if isString {
		out.SetRedacted(redacted)
		return
	}
	var structured any
	if err := json.Unmarshal([]byte(redacted), &structured); err != nil {
		out.SetRedacted(redacted)
		return
	}
	out.SetRedacted(structured)
}

// checkCitations flags citation-requiring agents whose response has none.
func checkCitations(in PostInput, out *Findings) {
	if !in.Recipe.RequiresCitations || len(in.Citations) > 0 {
		return
	}
	out.Flag(FlagHallucination, "response has no citations", SeverityWarning)
}

func concernCategory(c string) string {
	if i := strings.Index(c, ":"); i >= 0 {
		c = c[:i]
	}
	return strings.ToLower(strings.TrimSpace(c))
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

func serialize(data any) (string, bool) {
	if s, ok := data.(string); ok {
		return s, true
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data), false
	}
	return string(b), false
}

func isEmpty(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}
