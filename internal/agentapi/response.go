package agentapi

import "time"

// SafetyStatus is the caller-visible outcome class of a run.
type SafetyStatus string

const (
	StatusApproved            SafetyStatus = "approved"
	StatusFlagged             SafetyStatus = "flagged"
	StatusBlocked             SafetyStatus = "blocked"
	StatusElderReviewRequired SafetyStatus = "elder_review_required"
)

// Citation ties part of a model answer to a transcript segment.
type Citation struct {
	TranscriptID string  `json:"transcript_id"`
	SegmentIndex int     `json:"segment_index"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
}

// Metadata describes how a run was executed.
type Metadata struct {
	AgentType       string        `json:"agent_type"`
	Model           string        `json:"model,omitempty"`
	InputTokens     int           `json:"input_tokens"`
	OutputTokens    int           `json:"output_tokens"`
	Duration        time.Duration `json:"duration_ns"`
	EstimatedCost   float64       `json:"estimated_cost"`
	SafetyStatus    SafetyStatus  `json:"safety_status"`
	EvalScore       *float64      `json:"eval_score,omitempty"`
	ConsentVerified bool          `json:"consent_verified"`
	CorrelationID   string        `json:"correlation_id,omitempty"`
	ReviewID        string        `json:"review_id,omitempty"`
}

// Response is the result of one run. Blocked and failed runs both have
// Success=false and are told apart by Metadata.SafetyStatus.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     string     `json:"error,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Metadata  Metadata   `json:"metadata"`
}

// Blocked builds a response for a run stopped before execution.
func Blocked(agentType, correlationID, reason string) *Response {
	return &Response{
		Success: false,
		Error:   reason,
		Metadata: Metadata{
			AgentType:     agentType,
			SafetyStatus:  StatusBlocked,
			CorrelationID: correlationID,
		},
	}
}

// Failed builds a response for a run whose execution errored. No payload or
// usage is attached.
func Failed(agentType, correlationID, model string, duration time.Duration, errMsg string) *Response {
	return &Response{
		Success: false,
		Error:   errMsg,
		Metadata: Metadata{
			AgentType:     agentType,
			Model:         model,
			Duration:      duration,
			SafetyStatus:  StatusFlagged,
			CorrelationID: correlationID,
		},
	}
}
