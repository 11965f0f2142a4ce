package agentapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest is returned when a request cannot enter the pipeline.
var ErrInvalidRequest = errors.New("invalid agent request")

// Context is the per-request caller context. It is built fresh for every
// request and only ever persisted folded into telemetry rows.
type Context struct {
	TenantID             string      `json:"tenant_id" yaml:"tenant_id"`
	UserID               string      `json:"user_id" yaml:"user_id"`
	ProjectID            string      `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	StoryID              string      `json:"story_id,omitempty" yaml:"story_id,omitempty"`
	TranscriptID         string      `json:"transcript_id,omitempty" yaml:"transcript_id,omitempty"`
	StorytellerID        string      `json:"storyteller_id,omitempty" yaml:"storyteller_id,omitempty"`
	Sensitivity          Sensitivity `json:"sensitivity" yaml:"sensitivity"`
	CulturalAffiliations []string    `json:"cultural_affiliations,omitempty" yaml:"cultural_affiliations,omitempty"`
	ConsentScope         []string    `json:"consent_scope,omitempty" yaml:"consent_scope,omitempty"`
	Jurisdiction         string      `json:"jurisdiction,omitempty" yaml:"jurisdiction,omitempty"`
}

// HasConsent reports whether at least one non-empty consent scope is present.
func (c Context) HasConsent() bool {
	for _, s := range c.ConsentScope {
		if s != "" {
			return true
		}
	}
	return false
}

// Options are optional per-request execution overrides.
type Options struct {
	MaxTokens   *int          `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Request is one call to an agent. The input payload is opaque to the gateway
// and moved through to the model unmodified.
type Request struct {
	AgentType string         `json:"agent_type" yaml:"agent_type"`
	Context   Context        `json:"context" yaml:"context"`
	Input     map[string]any `json:"input" yaml:"input"`
	Options   Options        `json:"options,omitempty" yaml:"options,omitempty"`
}

// Validate checks the fields every pipeline stage relies on.
func (r *Request) Validate() error {
	if r.AgentType == "" {
		return fmt.Errorf("%w: agent_type is required", ErrInvalidRequest)
	}
	if r.Context.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	}
	if r.Input == nil {
		return fmt.Errorf("%w: input is required", ErrInvalidRequest)
	}
	if r.Context.Sensitivity == "" {
		r.Context.Sensitivity = SensitivityLow
	}
	if !r.Context.Sensitivity.Valid() {
		return fmt.Errorf("%w: unknown sensitivity %q", ErrInvalidRequest, r.Context.Sensitivity)
	}
	if r.Options.MaxTokens != nil && *r.Options.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidRequest)
	}
	if r.Options.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidRequest)
	}
	return nil
}

// SerializedInput returns the input as compact JSON. Map keys are sorted by
// encoding/json, so the result is deterministic.
func (r *Request) SerializedInput() string {
	b, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Sprintf("%v", r.Input)
	}
	return string(b)
}
