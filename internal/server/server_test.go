package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/steward/internal/agent"
	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/cost"
	"github.com/dativo-io/steward/internal/execution"
	"github.com/dativo-io/steward/internal/llm"
	"github.com/dativo-io/steward/internal/metrics"
	"github.com/dativo-io/steward/internal/recipe"
	"github.com/dativo-io/steward/internal/review"
	"github.com/dativo-io/steward/internal/safety"
	"github.com/dativo-io/steward/internal/telemetry"
	"github.com/dativo-io/steward/internal/tenant"
	"github.com/dativo-io/steward/internal/testutil"
)

const (
	acmeKey    = "acme-key"
	globexKey  = "globex-key"
	jwtSecret  = "jwt-secret-for-tests"
	executeURL = "/v1/agents/interview-analyzer/execute"
)

type testServer struct {
	handler http.Handler
	store   *telemetry.Store
	queue   *review.Queue
	ledger  *cost.MemoryLedger
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	dir := t.TempDir()

	store, err := telemetry.NewStore(filepath.Join(dir, "telemetry.db"), testutil.TestSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue, err := review.NewQueue(filepath.Join(dir, "review.db"), testutil.TestEncryptionKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })

	ledger := cost.NewMemoryLedger()
	router := llm.NewRouter(
		&testutil.MockProvider{ProviderName: llm.ProviderOpenAI, Content: testutil.AnswerWithCitation},
		&testutil.MockProvider{ProviderName: llm.ProviderAnthropic, Content: testutil.AnswerWithCitation},
		&testutil.MockProvider{ProviderName: llm.ProviderOllama, Content: testutil.AnswerWithCitation},
	)
	m := metrics.New(prometheus.NewRegistry())
	orch := agent.NewOrchestrator(agent.Config{
		Catalog:       recipe.MustDefaultCatalog(),
		Ledger:        ledger,
		Safety:        safety.NewAdapter(testutil.ApprovingClassifier()),
		Executor:      execution.NewAdapter(router, execution.WithTimeout(2*time.Second)),
		Recorder:      telemetry.NewRecorder(store),
		Reviews:       queue,
		Metrics:       m,
		EnforceBudget: true,
	})

	auth := NewAuthenticator(map[string]string{acmeKey: "acme", globexKey: "globex"}, jwtSecret)
	all := append([]Option{
		WithTelemetryStore(store),
		WithReviewQueue(queue),
		WithLedger(ledger),
		WithMetrics(m),
		WithVersion("test"),
	}, opts...)
	srv := NewServer(orch, auth, all...)
	return &testServer{handler: srv.Routes(), store: store, queue: queue, ledger: ledger}
}

func (ts *testServer) do(t *testing.T, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = strings.NewReader(string(b))
	} else {
		payload = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-Steward-Key", key)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func executeBody(sensitivity agentapi.Sensitivity) map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{
			"user_id":       "user-1",
			"story_id":      "story:42",
			"sensitivity":   sensitivity,
			"consent_scope": []string{"analysis"},
		},
		"input": map[string]interface{}{"transcript": "I came home to the river"},
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health?detail=true", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	decode(t, rec, &out)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "test", out["version"])
	comp, _ := out["components"].(map[string]interface{})
	require.NotNil(t, comp)
	assert.Equal(t, "ok", comp["telemetry_store"])
	assert.Equal(t, "disabled", comp["rate_limit"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, executeURL, acmeKey, executeBody(agentapi.SensitivityLow)).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "steward_")
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header func(r *http.Request)
		want   int
	}{
		{"missing credential", func(*http.Request) {}, http.StatusUnauthorized},
		{"unknown key", func(r *http.Request) { r.Header.Set("X-Steward-Key", "nope") }, http.StatusUnauthorized},
		{"api key header", func(r *http.Request) { r.Header.Set("X-Steward-Key", acmeKey) }, http.StatusOK},
		{"api key bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+acmeKey) }, http.StatusOK},
		{"jwt", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, jwtSecret, jwt.MapClaims{
				"tenant": "acme", "sub": "elder-1", "exp": time.Now().Add(time.Hour).Unix(),
			}))
		}, http.StatusOK},
		{"jwt wrong secret", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, "other", jwt.MapClaims{"tenant": "acme"}))
		}, http.StatusUnauthorized},
		{"jwt expired", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, jwtSecret, jwt.MapClaims{
				"tenant": "acme", "exp": time.Now().Add(-time.Hour).Unix(),
			}))
		}, http.StatusUnauthorized},
		{"jwt without tenant", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, jwtSecret, jwt.MapClaims{"sub": "user-1"}))
		}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/recipes", nil)
			tt.header(req)
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestExecuteEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, executeURL, acmeKey, executeBody(agentapi.SensitivityLow))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp agentapi.Response
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "interview-analyzer", resp.Metadata.AgentType)
	assert.Equal(t, agentapi.StatusApproved, resp.Metadata.SafetyStatus)
	require.Len(t, resp.Citations, 1)

	rows, err := ts.store.List(context.Background(), telemetry.Filter{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "user-1", rows[0].UserID)
}

func TestExecuteEndpoint_Errors(t *testing.T) {
	ts := newTestServer(t)

	t.Run("unknown agent", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/agents/poet/execute", acmeKey, executeBody(agentapi.SensitivityLow))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, executeURL, strings.NewReader("{"))
		req.Header.Set("X-Steward-Key", acmeKey)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("invalid sensitivity", func(t *testing.T) {
		body := executeBody(agentapi.SensitivityLow)
		body["context"].(map[string]interface{})["sensitivity"] = "extreme"
		rec := ts.do(t, http.MethodPost, executeURL, acmeKey, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("tenant mismatch", func(t *testing.T) {
		body := executeBody(agentapi.SensitivityLow)
		body["context"].(map[string]interface{})["tenant_id"] = "globex"
		rec := ts.do(t, http.MethodPost, executeURL, acmeKey, body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestExecuteEndpoint_BudgetBlockIsNotAnHTTPError(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.ledger.SetPolicy(context.Background(), cost.Policy{
		TenantID: "acme", MonthlyBudget: 1, CurrentMonthSpend: 1,
	}))

	rec := ts.do(t, http.MethodPost, executeURL, acmeKey, executeBody(agentapi.SensitivityLow))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp agentapi.Response
	decode(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, agentapi.StatusBlocked, resp.Metadata.SafetyStatus)
}

func TestRecipesEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/recipes", acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rec, &list)
	assert.Equal(t, len(recipe.Defaults()), list.Count)

	rec = ts.do(t, http.MethodGet, "/v1/recipes/de-escalator", acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpt-4o")

	rec = ts.do(t, http.MethodGet, "/v1/recipes/poet", acmeKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditEndpoints(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, executeURL, acmeKey, executeBody(agentapi.SensitivityLow)).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/agents/content-intake/execute", acmeKey, executeBody(agentapi.SensitivityLow)).Code)

	rec := ts.do(t, http.MethodGet, "/v1/audit?agent_type=interview-analyzer", acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs  []telemetry.Summary `json:"runs"`
		Count int                 `json:"count"`
	}
	decode(t, rec, &list)
	require.Equal(t, 1, list.Count)
	id := list.Runs[0].ID

	rec = ts.do(t, http.MethodGet, "/v1/audit/"+id, acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Run      telemetry.Row `json:"run"`
		Verified bool          `json:"verified"`
	}
	decode(t, rec, &got)
	assert.Equal(t, id, got.Run.ID)
	assert.True(t, got.Verified)

	t.Run("other tenant sees nothing", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/audit/"+id, globexKey, nil).Code)

		rec := ts.do(t, http.MethodGet, "/v1/audit", globexKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &list)
		assert.Zero(t, list.Count)
	})
	t.Run("bad query", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/audit?from=yesterday", acmeKey, nil).Code)
		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/audit?limit=-1", acmeKey, nil).Code)
	})
}

func TestReviewEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/agents/story-summarizer/execute", acmeKey, executeBody(agentapi.SensitivityLow))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp agentapi.Response
	decode(t, rec, &resp)
	reviewID := resp.Metadata.ReviewID
	require.NotEmpty(t, reviewID)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Data, "content is held until a reviewer approves it")

	var status reviewStatus
	rec = ts.do(t, http.MethodGet, "/v1/reviews/"+reviewID, acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &status)
	assert.Equal(t, review.StatusPending, status.Status)
	assert.Nil(t, status.Response)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/reviews/"+reviewID, globexKey, nil).Code)

	rec = ts.do(t, http.MethodGet, "/v1/reviews", acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Reviews []review.Item `json:"reviews"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Reviews, 1)
	assert.Equal(t, reviewID, list.Reviews[0].ID)

	// Another tenant can neither see nor decide the item.
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/reviews/"+reviewID+"/approve", globexKey, nil).Code)

	token := signToken(t, jwtSecret, jwt.MapClaims{"tenant": "acme", "sub": "elder-1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/reviews/"+reviewID+"/approve", strings.NewReader(`{"note":"respectful"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	item, err := ts.queue.Get(context.Background(), reviewID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusApproved, item.Status)
	assert.Equal(t, "elder-1", item.DecidedBy)
	assert.Equal(t, "respectful", item.Note)

	rec = ts.do(t, http.MethodGet, "/v1/reviews/"+reviewID, acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = reviewStatus{}
	decode(t, rec, &status)
	assert.Equal(t, review.StatusApproved, status.Status)
	require.NotNil(t, status.Response, "approval releases the content")
	assert.NotNil(t, status.Response.Data)
	assert.Len(t, status.Response.Citations, 1)
	assert.Equal(t, reviewID, status.Response.Metadata.ReviewID)

	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/v1/reviews/"+reviewID+"/reject", acmeKey, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/reviews/rev_missing/approve", acmeKey, nil).Code)
}

func TestCircuitEndpoints(t *testing.T) {
	cb := execution.NewCircuitBreaker(1, time.Hour)
	ts := newTestServer(t, WithCircuitBreaker(cb))
	cb.RecordFailure("acme", "de-escalator")

	var out map[string]string
	rec := ts.do(t, http.MethodGet, "/v1/agents/de-escalator/circuit", acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &out)
	assert.Equal(t, "open", out["state"])

	rec = ts.do(t, http.MethodGet, "/v1/agents/de-escalator/circuit", globexKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &out)
	assert.Equal(t, "closed", out["state"], "circuits are per tenant")

	// A reset from another tenant leaves acme's circuit alone.
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/agents/de-escalator/circuit/reset", globexKey, nil).Code)
	assert.Equal(t, execution.CircuitOpen, cb.State("acme", "de-escalator"))

	rec = ts.do(t, http.MethodPost, "/v1/agents/de-escalator/circuit/reset", acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &out)
	assert.Equal(t, "closed", out["state"])
	assert.Equal(t, execution.CircuitClosed, cb.State("acme", "de-escalator"))

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/agents/nope/circuit/reset", acmeKey, nil).Code)

	bare := newTestServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, bare.do(t, http.MethodGet, "/v1/agents/de-escalator/circuit", acmeKey, nil).Code)
}

func TestBudgetEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/v1/budget", acmeKey, map[string]float64{
		"max_cost_per_request": 0.5,
		"monthly_budget_usd":   100,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, executeURL, acmeKey, executeBody(agentapi.SensitivityLow)).Code)

	rec = ts.do(t, http.MethodGet, "/v1/budget", acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got budgetResponse
	decode(t, rec, &got)
	assert.Equal(t, "acme", got.TenantID)
	assert.InDelta(t, 0.5, got.MaxCostPerRequest, 1e-9)
	assert.InDelta(t, 100, got.MonthlyBudget, 1e-9)
	assert.Greater(t, got.CurrentMonthSpend, 0.0)
	assert.InDelta(t, 100-got.CurrentMonthSpend, got.Remaining, 1e-9)

	// Policies are per tenant.
	rec = ts.do(t, http.MethodGet, "/v1/budget", globexKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &got)
	assert.Zero(t, got.MonthlyBudget)
}

func TestOptionalComponentsDisabled(t *testing.T) {
	orch := agent.NewOrchestrator(agent.Config{
		Safety:   safety.NewAdapter(testutil.ApprovingClassifier()),
		Executor: execution.NewAdapter(llm.NewRouter()),
	})
	h := NewServer(orch, NewAuthenticator(map[string]string{acmeKey: "acme"}, "")).Routes()

	for _, path := range []string{"/v1/audit", "/v1/reviews", "/v1/budget"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Steward-Key", acmeKey)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	ts := newTestServer(t, WithTenantManager(tenant.NewManager(1)))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, ts.do(t, http.MethodGet, "/v1/recipes", acmeKey, nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := ts.do(t, http.MethodGet, "/v1/recipes", acmeKey, nil)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Limits are per tenant.
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/recipes", globexKey, nil).Code)
}

func TestRateLimitMiddleware_UnknownTenant(t *testing.T) {
	ts := newTestServer(t, WithTenantManager(tenant.NewManager(0, "acme")))
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/recipes", acmeKey, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/v1/recipes", globexKey, nil).Code)
}
