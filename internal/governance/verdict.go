// Package governance interprets a recipe's guardrails before and after model
// execution and composes the results into an auditable verdict.
package governance

import (
	"strings"
	"time"

	"github.com/dativo-io/steward/internal/agentapi"
)

// Severity of a governance flag.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a flag of this severity disallows the request.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// FlagHallucination is the flag type raised by the citation heuristic.
const FlagHallucination = "hallucination"

// Flag is one finding of a guardrail check.
type Flag struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// Phase is when an evaluation ran.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// Decision is the audited outcome of one evaluation.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionDeny     Decision = "deny"
	DecisionFlag     Decision = "flag"
	DecisionEscalate Decision = "escalate"
)

// AuditEntry is emitted for every evaluation, allowed or not.
type AuditEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	AgentType string           `json:"agent_type"`
	Phase     Phase            `json:"phase"`
	Decision  Decision         `json:"decision"`
	Reason    string           `json:"reason,omitempty"`
	Context   agentapi.Context `json:"context"`
}

// Target is the role an escalation is routed to.
type Target string

const (
	TargetElder      Target = "elder"
	TargetAdmin      Target = "admin"
	TargetCompliance Target = "compliance"
)

// Urgency of an escalation.
type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencyImportant Urgency = "important"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyCritical  Urgency = "critical"
)

// EscalationRequest asks a human role to look at the content.
type EscalationRequest struct {
	Target    Target  `json:"target"`
	Reason    string  `json:"reason"`
	Urgency   Urgency `json:"urgency"`
	ContentID string  `json:"content_id,omitempty"`
}

// Verdict is the composed result of one evaluation phase.
type Verdict struct {
	Allowed     bool                `json:"allowed"`
	Reason      string              `json:"reason,omitempty"`
	Flags       []Flag              `json:"flags,omitempty"`
	Audit       AuditEntry          `json:"audit"`
	Escalations []EscalationRequest `json:"escalations,omitempty"`
	// Redacted is the response payload with personal information masked. It
	// is only set by the post phase.
	Redacted any `json:"-"`
}

// HasFlag reports whether a flag of type t was raised.
func (v *Verdict) HasFlag(t string) bool {
	for _, f := range v.Flags {
		if f.Type == t {
			return true
		}
	}
	return false
}

// EscalationsTo returns the escalations routed to target.
func (v *Verdict) EscalationsTo(target Target) []EscalationRequest {
	var out []EscalationRequest
	for _, e := range v.Escalations {
		if e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

func compose(phase Phase, agentType string, actx agentapi.Context, f *Findings, now time.Time) *Verdict {
	v := &Verdict{
		Allowed:     true,
		Flags:       f.flags,
		Escalations: f.escalations,
		Redacted:    f.redacted,
	}

	var blocking []string
	for _, fl := range f.flags {
		if fl.Severity.Blocking() {
			blocking = append(blocking, fl.Detail)
		}
	}
	if len(blocking) > 0 {
		v.Allowed = false
		v.Reason = strings.Join(blocking, "; ")
	}

	decision := DecisionAllow
	switch {
	case !v.Allowed:
		decision = DecisionDeny
	case len(v.Escalations) > 0:
		decision = DecisionEscalate
	case len(v.Flags) > 0:
		decision = DecisionFlag
	}

	v.Audit = AuditEntry{
		Timestamp: now.UTC(),
		AgentType: agentType,
		Phase:     phase,
		Decision:  decision,
		Reason:    v.Reason,
		Context:   snapshot(actx),
	}
	return v
}

func snapshot(c agentapi.Context) agentapi.Context {
	c.CulturalAffiliations = append([]string(nil), c.CulturalAffiliations...)
	c.ConsentScope = append([]string(nil), c.ConsentScope...)
	return c
}
