package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dativo-io/steward/internal/agent"
	"github.com/dativo-io/steward/internal/cost"
	"github.com/dativo-io/steward/internal/execution"
	"github.com/dativo-io/steward/internal/metrics"
	"github.com/dativo-io/steward/internal/otel"
	"github.com/dativo-io/steward/internal/review"
	"github.com/dativo-io/steward/internal/telemetry"
	"github.com/dativo-io/steward/internal/tenant"
)

const defaultTimeout = 60 * time.Second

// maxBodyBytes bounds request bodies on every route.
const maxBodyBytes = 4 << 20

// Server holds the dependencies of the HTTP API.
type Server struct {
	router      *chi.Mux
	orch        *agent.Orchestrator
	auth        *Authenticator
	store       *telemetry.Store
	reviews     *review.Queue
	ledger      cost.Ledger
	breaker     *execution.CircuitBreaker
	metrics     *metrics.Metrics
	tenants     *tenant.Manager
	corsOrigins []string
	version     string
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithTelemetryStore enables the audit routes.
func WithTelemetryStore(st *telemetry.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithReviewQueue enables the review routes.
func WithReviewQueue(q *review.Queue) Option {
	return func(s *Server) { s.reviews = q }
}

// WithLedger enables the budget routes.
func WithLedger(l cost.Ledger) Option {
	return func(s *Server) { s.ledger = l }
}

// WithCircuitBreaker enables the circuit status and reset routes. cb must be
// the breaker the orchestrator's executor uses.
func WithCircuitBreaker(cb *execution.CircuitBreaker) Option {
	return func(s *Server) { s.breaker = cb }
}

// WithMetrics serves m at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTenantManager sets the per-tenant rate limiter.
func WithTenantManager(tm *tenant.Manager) Option {
	return func(s *Server) { s.tenants = tm }
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithVersion is reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer builds a Server around the orchestrator and authenticator.
func NewServer(orch *agent.Orchestrator, auth *Authenticator, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		orch:        orch,
		auth:        auth,
		corsOrigins: []string{"*"},
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = NewAuthenticator(nil, "")
	}
	return s
}

// Routes returns the chi router with all middleware and routes. The execute
// route has no request timeout; the execution adapter bounds the model call.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxBodyBytes))
	r.Use(otel.Middleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Steward-Key", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.auth))
		r.Use(RateLimitMiddleware(s.tenants))

		r.Post("/v1/agents/{type}/execute", s.handleExecute)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Get("/v1/recipes", s.handleRecipesList)
			r.Get("/v1/recipes/{type}", s.handleRecipeGet)

			r.Get("/v1/audit", s.handleAuditList)
			r.Get("/v1/audit/{id}", s.handleAuditGet)

			r.Get("/v1/reviews", s.handleReviewsList)
			r.Get("/v1/reviews/{id}", s.handleReviewGet)
			r.Post("/v1/reviews/{id}/approve", s.handleReviewApprove)
			r.Post("/v1/reviews/{id}/reject", s.handleReviewReject)

			r.Get("/v1/agents/{type}/circuit", s.handleCircuitGet)
			r.Post("/v1/agents/{type}/circuit/reset", s.handleCircuitReset)

			r.Get("/v1/budget", s.handleBudgetGet)
			r.Put("/v1/budget", s.handleBudgetPut)
		})
	})

	return r
}
