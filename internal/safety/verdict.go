// Package safety adapts an external content-safety classifier to the agent
// pipeline. Every failure of the classifier fails closed.
package safety

import (
	"context"
	"strings"

	"github.com/dativo-io/steward/internal/agentapi"
)

// Level is the classifier's overall judgement of a piece of content.
type Level string

const (
	LevelSafe           Level = "safe"
	LevelReviewRequired Level = "review_required"
	LevelBlocked        Level = "blocked"
)

// ParseLevel normalizes the vocabulary classifiers use for their verdicts.
// Anything it does not recognise is treated as needing review.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe", "approved", "ok", "pass", "allow", "allowed":
		return LevelSafe
	case "blocked", "block", "unsafe", "rejected", "deny", "denied":
		return LevelBlocked
	default:
		return LevelReviewRequired
	}
}

// CulturalContext is the classifier's reading of the cultural weight of the
// content.
type CulturalContext struct {
	Sensitivity       agentapi.Sensitivity `json:"sensitivity"`
	Sacred            bool                 `json:"sacred"`
	Ceremonial        bool                 `json:"ceremonial"`
	RequiredProtocols []string             `json:"required_protocols,omitempty"`
}

// Verdict is the outcome of one classification.
type Verdict struct {
	Approved            bool            `json:"approved"`
	Level               Level           `json:"level"`
	Concerns            []string        `json:"concerns,omitempty"`
	ElderReviewRequired bool            `json:"elder_review_required"`
	Recommendations     []string        `json:"recommendations,omitempty"`
	Cultural            CulturalContext `json:"cultural"`
}

// Blocked reports whether the verdict stops a run outright.
func (v Verdict) Blocked() bool {
	return v.Level == LevelBlocked && !v.Approved
}

// ConcernsWithPrefix returns the concerns whose category matches prefix.
// Concerns are written as "category: detail".
func (v Verdict) ConcernsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range v.Concerns {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Request is what a Client is asked to classify. Sensitivity has already been
// mapped to the classifier's vocabulary.
type Request struct {
	Content              string
	UserID               string
	ContextType          string
	Operation            string
	Sensitivity          agentapi.Sensitivity
	CulturalAffiliations []string
	RequiresElderReview  bool
}

// Client classifies content. Implementations must honour ctx cancellation.
type Client interface {
	Classify(ctx context.Context, req Request) (Verdict, error)
}
