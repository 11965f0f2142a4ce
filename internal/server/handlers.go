package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/steward/internal/agent"
	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/cost"
	"github.com/dativo-io/steward/internal/execution"
	"github.com/dativo-io/steward/internal/recipe"
	"github.com/dativo-io/steward/internal/requestctx"
	"github.com/dativo-io/steward/internal/review"
	"github.com/dativo-io/steward/internal/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if s.version != "" {
		resp["version"] = s.version
	}
	if r.URL.Query().Get("detail") == "true" {
		resp["components"] = map[string]string{
			"telemetry_store": enabled(s.store != nil),
			"review_queue":    enabled(s.reviews != nil),
			"budget_ledger":   enabled(s.ledger != nil),
			"rate_limit":      enabled(s.tenants != nil),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func enabled(ok bool) string {
	if ok {
		return "ok"
	}
	return "disabled"
}

type executeRequest struct {
	Context agentapi.Context `json:"context"`
	Input   map[string]any   `json:"input"`
	Options agentapi.Options `json:"options"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	tenantID := requestctx.TenantID(r.Context())
	if body.Context.TenantID == "" {
		body.Context.TenantID = tenantID
	}
	if body.Context.TenantID != tenantID {
		writeError(w, http.StatusForbidden, "forbidden", "context.tenant_id does not match the authenticated tenant")
		return
	}
	if body.Context.UserID == "" {
		if id, ok := requestctx.IdentityFrom(r.Context()); ok {
			body.Context.UserID = id.UserID
		}
	}

	req := &agentapi.Request{
		AgentType: chi.URLParam(r, "type"),
		Context:   body.Context,
		Input:     body.Input,
		Options:   body.Options,
	}
	resp, err := s.orch.Execute(r.Context(), req)
	if err != nil {
		var cfgErr *agent.ConfigurationError
		switch {
		case errors.As(err, &cfgErr) && errors.Is(err, recipe.ErrUnknownAgent):
			writeError(w, http.StatusNotFound, "unknown_agent", err.Error())
		case errors.As(err, &cfgErr):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			log.Error().Err(err).Str("agent_type", req.AgentType).Msg("execute_handler_failed")
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecipesList(w http.ResponseWriter, _ *http.Request) {
	recipes := s.orch.Catalog().List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"recipes": recipes, "count": len(recipes)})
}

func (s *Server) handleRecipeGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orch.Catalog().Get(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_agent", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "telemetry store not configured")
		return
	}
	q := r.URL.Query()
	f := telemetry.Filter{
		TenantID:     requestctx.TenantID(r.Context()),
		AgentType:    q.Get("agent_type"),
		SafetyStatus: agentapi.SafetyStatus(q.Get("safety_status")),
		Limit:        defaultListLimit,
	}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "from: "+err.Error())
		return
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "to: "+err.Error())
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	rows, err := s.store.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	summaries := make([]telemetry.Summary, 0, len(rows))
	for i := range rows {
		summaries = append(summaries, telemetry.Summarize(&rows[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": summaries, "count": len(summaries)})
}

func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "telemetry store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	row, err := s.store.Get(r.Context(), id)
	if errors.Is(err, telemetry.ErrNotFound) || (err == nil && row.TenantID != requestctx.TenantID(r.Context())) {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	verified, err := s.store.Verify(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": row, "verified": verified})
}

func (s *Server) handleReviewsList(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "review queue not configured")
		return
	}
	items, err := s.reviews.ListPending(r.Context(), requestctx.TenantID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if items == nil {
		items = []*review.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reviews": items, "count": len(items)})
}

// reviewStatus is what a requester sees for a held response. The content is
// only included once a reviewer has approved it.
type reviewStatus struct {
	ID        string             `json:"id"`
	Status    review.Status      `json:"status"`
	Reason    string             `json:"reason"`
	DecidedBy string             `json:"decided_by,omitempty"`
	DecidedAt *time.Time         `json:"decided_at,omitempty"`
	Response  *agentapi.Response `json:"response,omitempty"`
}

func (s *Server) handleReviewGet(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "review queue not configured")
		return
	}
	ctx := r.Context()
	item, err := s.reviews.Get(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, review.ErrNotFound) || (err == nil && item.TenantID != requestctx.TenantID(ctx)) {
		writeError(w, http.StatusNotFound, "not_found", "review not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	out := reviewStatus{
		ID:        item.ID,
		Status:    item.Status,
		Reason:    item.Reason,
		DecidedBy: item.DecidedBy,
		DecidedAt: item.DecidedAt,
	}
	if item.Status == review.StatusApproved && item.Response != nil {
		out.Response = item.Response
		out.Response.Metadata.ReviewID = item.ID
	}
	writeJSON(w, http.StatusOK, out)
}

type decisionRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleReviewApprove(w http.ResponseWriter, r *http.Request) {
	s.decideReview(w, r, review.StatusApproved)
}

func (s *Server) handleReviewReject(w http.ResponseWriter, r *http.Request) {
	s.decideReview(w, r, review.StatusRejected)
}

func (s *Server) decideReview(w http.ResponseWriter, r *http.Request, status review.Status) {
	if s.reviews == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "review queue not configured")
		return
	}
	var body decisionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
			return
		}
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	item, err := s.reviews.Get(ctx, id)
	if errors.Is(err, review.ErrNotFound) || (err == nil && item.TenantID != requestctx.TenantID(ctx)) {
		writeError(w, http.StatusNotFound, "not_found", "review not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	identity, _ := requestctx.IdentityFrom(ctx)
	if status == review.StatusApproved {
		err = s.reviews.Approve(ctx, id, identity.Reviewer(), body.Note)
	} else {
		err = s.reviews.Reject(ctx, id, identity.Reviewer(), body.Note)
	}
	switch {
	case errors.Is(err, review.ErrNotPending):
		writeError(w, http.StatusConflict, "not_pending", err.Error())
		return
	case errors.Is(err, review.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "review not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

// circuitAgent resolves the {type} parameter for the circuit routes and
// writes the error response when it cannot.
func (s *Server) circuitAgent(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.breaker == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "circuit breaker not configured")
		return "", false
	}
	rec, err := s.orch.Catalog().Get(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_agent", err.Error())
		return "", false
	}
	return rec.ID, true
}

func (s *Server) handleCircuitGet(w http.ResponseWriter, r *http.Request) {
	agentType, ok := s.circuitAgent(w, r)
	if !ok {
		return
	}
	state := s.breaker.State(requestctx.TenantID(r.Context()), agentType)
	writeJSON(w, http.StatusOK, map[string]string{"agent_type": agentType, "state": state.String()})
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	agentType, ok := s.circuitAgent(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	tenantID := requestctx.TenantID(ctx)
	s.breaker.Reset(tenantID, agentType)

	identity, _ := requestctx.IdentityFrom(ctx)
	log.Info().
		Str("tenant_id", tenantID).
		Str("agent_type", agentType).
		Str("reset_by", identity.Reviewer()).
		Msg("circuit_reset")
	writeJSON(w, http.StatusOK, map[string]string{"agent_type": agentType, "state": execution.CircuitClosed.String()})
}

func (s *Server) handleBudgetGet(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "budget ledger not configured")
		return
	}
	pol, err := s.ledger.Policy(r.Context(), requestctx.TenantID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, budgetView(pol))
}

type budgetRequest struct {
	MaxCostPerRequest *float64 `json:"max_cost_per_request"`
	MonthlyBudget     *float64 `json:"monthly_budget_usd"`
}

func (s *Server) handleBudgetPut(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "budget ledger not configured")
		return
	}
	var body budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	ctx := r.Context()
	tenantID := requestctx.TenantID(ctx)
	pol, err := s.ledger.Policy(ctx, tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if body.MaxCostPerRequest != nil {
		pol.MaxCostPerRequest = *body.MaxCostPerRequest
	}
	if body.MonthlyBudget != nil {
		pol.MonthlyBudget = *body.MonthlyBudget
	}
	if err := s.ledger.SetPolicy(ctx, pol); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	log.Info().
		Str("tenant_id", tenantID).
		Float64("max_cost_per_request", pol.MaxCostPerRequest).
		Float64("monthly_budget_usd", pol.MonthlyBudget).
		Msg("budget_policy_updated")

	pol, err = s.ledger.Policy(ctx, tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, budgetView(pol))
}

type budgetResponse struct {
	cost.Policy
	Remaining float64 `json:"remaining_monthly"`
}

func budgetView(p cost.Policy) budgetResponse {
	return budgetResponse{Policy: p, Remaining: p.Remaining()}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
