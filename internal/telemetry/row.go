// Package telemetry records one audit row per agent run. Rows are signed and
// kept in SQLite, and can be mirrored to the shared Postgres audit table.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/governance"
)

// Row is the audit record of a completed or failed run.
type Row struct {
	ID              string                `json:"id"`
	CorrelationID   string                `json:"correlation_id"`
	Timestamp       time.Time             `json:"timestamp"`
	TenantID        string                `json:"tenant_id"`
	UserID          string                `json:"user_id"`
	AgentType       string                `json:"agent_type"`
	Model           string                `json:"model,omitempty"`
	InputTokens     int                   `json:"input_tokens"`
	OutputTokens    int                   `json:"output_tokens"`
	DurationMS      int64                 `json:"duration_ms"`
	EstimatedCost   float64               `json:"estimated_cost"`
	SafetyStatus    agentapi.SafetyStatus `json:"safety_status"`
	ConsentVerified bool                  `json:"consent_verified"`
	ProjectID       string                `json:"project_id,omitempty"`
	StoryID         string                `json:"story_id,omitempty"`
	EvalScore       *float64              `json:"eval_score,omitempty"`
	Flags           []governance.Flag     `json:"flags,omitempty"`
	Success         bool                  `json:"success"`
	Error           string                `json:"error,omitempty"`
	InputHash       string                `json:"input_hash,omitempty"`
	OutputHash      string                `json:"output_hash,omitempty"`
	ReviewID        string                `json:"review_id,omitempty"`
	Signature       string                `json:"signature"`
}

// HashContent returns a sha256 digest so rows can reference content without
// storing it.
func HashContent(s string) string {
	if s == "" {
		return ""
	}
	h := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(h[:])
}

// Summary is a compact projection used by listings.
type Summary struct {
	ID           string                `json:"id"`
	Timestamp    time.Time             `json:"timestamp"`
	TenantID     string                `json:"tenant_id"`
	AgentType    string                `json:"agent_type"`
	Model        string                `json:"model,omitempty"`
	SafetyStatus agentapi.SafetyStatus `json:"safety_status"`
	Success      bool                  `json:"success"`
	Cost         float64               `json:"cost"`
	DurationMS   int64                 `json:"duration_ms"`
	FlagCount    int                   `json:"flag_count"`
}

// Summarize projects a row into a Summary.
func Summarize(r *Row) Summary {
	return Summary{
		ID:           r.ID,
		Timestamp:    r.Timestamp,
		TenantID:     r.TenantID,
		AgentType:    r.AgentType,
		Model:        r.Model,
		SafetyStatus: r.SafetyStatus,
		Success:      r.Success,
		Cost:         r.EstimatedCost,
		DurationMS:   r.DurationMS,
		FlagCount:    len(r.Flags),
	}
}
