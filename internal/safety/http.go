package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dativo-io/steward/internal/agentapi"
)

// ErrMalformedResponse is returned when the classifier answers with a body
// that cannot be interpreted.
var ErrMalformedResponse = errors.New("malformed classifier response")

const maxResponseBytes = 1 << 20

// HTTPClient calls a classifier service over HTTP JSON.
type HTTPClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient returns a client that POSTs to url. A zero timeout leaves the
// deadline to the caller's context.
func NewHTTPClient(url, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type culturalMetadata struct {
	SensitivityLevel     string   `json:"sensitivity_level"`
	CulturalAffiliations []string `json:"cultural_affiliations,omitempty"`
	RequiresElderReview  bool     `json:"requires_elder_review"`
}

type classifyRequest struct {
	Content          string           `json:"content"`
	UserID           string           `json:"user_id"`
	ContextType      string           `json:"context_type"`
	Operation        string           `json:"operation"`
	CulturalMetadata culturalMetadata `json:"cultural_metadata"`
}

type classifyResponse struct {
	Approved            *bool    `json:"approved"`
	SafetyLevel         string   `json:"safety_level"`
	DetectedConcerns    []string `json:"detected_concerns"`
	ElderReviewRequired bool     `json:"elder_review_required"`
	Recommendations     []string `json:"recommendations"`
	CulturalContext     struct {
		Sensitivity       string   `json:"sensitivity"`
		Sacred            bool     `json:"sacred"`
		Ceremonial        bool     `json:"ceremonial"`
		RequiredProtocols []string `json:"required_protocols"`
	} `json:"cultural_context"`
}

// Classify sends req to the classifier and decodes its verdict.
func (c *HTTPClient) Classify(ctx context.Context, req Request) (Verdict, error) {
	body, err := json.Marshal(classifyRequest{
		Content:     req.Content,
		UserID:      req.UserID,
		ContextType: req.ContextType,
		Operation:   req.Operation,
		CulturalMetadata: culturalMetadata{
			SensitivityLevel:     string(req.Sensitivity),
			CulturalAffiliations: req.CulturalAffiliations,
			RequiresElderReview:  req.RequiresElderReview,
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshalling classifier request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("creating classifier request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// #nosec G107 -- URL comes from operator configuration
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Verdict{}, fmt.Errorf("classifier call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Verdict{}, fmt.Errorf("reading classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var cr classifyResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if cr.Approved == nil || cr.SafetyLevel == "" {
		return Verdict{}, fmt.Errorf("%w: approved and safety_level are required", ErrMalformedResponse)
	}

	sens, err := agentapi.ParseSensitivity(cr.CulturalContext.Sensitivity)
	if err != nil {
		sens = req.Sensitivity
	}
	return Verdict{
		Approved:            *cr.Approved,
		Level:               ParseLevel(cr.SafetyLevel),
		Concerns:            cr.DetectedConcerns,
		ElderReviewRequired: cr.ElderReviewRequired,
		Recommendations:     cr.Recommendations,
		Cultural: CulturalContext{
			Sensitivity:       sens,
			Sacred:            cr.CulturalContext.Sacred,
			Ceremonial:        cr.CulturalContext.Ceremonial,
			RequiredProtocols: cr.CulturalContext.RequiredProtocols,
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
