package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/steward/internal/agent"
	"github.com/dativo-io/steward/internal/config"
	"github.com/dativo-io/steward/internal/cost"
	"github.com/dativo-io/steward/internal/eval"
	"github.com/dativo-io/steward/internal/execution"
	"github.com/dativo-io/steward/internal/governance"
	"github.com/dativo-io/steward/internal/llm"
	"github.com/dativo-io/steward/internal/metrics"
	"github.com/dativo-io/steward/internal/policy"
	"github.com/dativo-io/steward/internal/recipe"
	"github.com/dativo-io/steward/internal/review"
	"github.com/dativo-io/steward/internal/safety"
	"github.com/dativo-io/steward/internal/telemetry"
)

// components is everything a command needs to run the pipeline. Close
// releases the stores in reverse order of opening.
type components struct {
	cfg     *config.Config
	catalog *recipe.Catalog
	ledger  cost.Ledger
	store   *telemetry.Store
	reviews *review.Queue
	sink    *telemetry.PostgresSink
	metrics *metrics.Metrics
	breaker *execution.CircuitBreaker
	orch    *agent.Orchestrator
}

func (c *components) Close() error {
	var errs []error
	if c.sink != nil {
		errs = append(errs, c.sink.Close())
	}
	if c.reviews != nil {
		errs = append(errs, c.reviews.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.ledger != nil {
		errs = append(errs, c.ledger.Close())
	}
	return errors.Join(errs...)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return cfg, nil
}

// openComponents builds the full pipeline from configuration. reg may be nil,
// in which case no Prometheus metrics are collected.
func openComponents(ctx context.Context, cfg *config.Config, reg *prometheus.Registry) (_ *components, err error) {
	c := &components{cfg: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if c.catalog, err = recipe.Load(cfg.RecipesFile); err != nil {
		return nil, fmt.Errorf("loading recipes: %w", err)
	}
	if c.ledger, err = openLedger(ctx, cfg); err != nil {
		return nil, fmt.Errorf("opening budget ledger: %w", err)
	}
	if c.store, err = telemetry.NewStore(cfg.TelemetryDBPath(), cfg.SigningKey); err != nil {
		return nil, fmt.Errorf("opening telemetry store: %w", err)
	}
	if c.reviews, err = review.NewQueue(cfg.ReviewDBPath(), cfg.ReviewKey); err != nil {
		return nil, fmt.Errorf("opening review queue: %w", err)
	}

	var sinks []telemetry.Sink
	if cfg.PostgresDSN != "" {
		if c.sink, err = telemetry.NewPostgresSinkFromDSN(ctx, cfg.PostgresDSN); err != nil {
			return nil, fmt.Errorf("opening postgres audit sink: %w", err)
		}
		sinks = append(sinks, c.sink)
	}

	gov, err := newGovernance(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var scorer *eval.Scorer
	if cfg.EvalEnabled {
		table, err := eval.LoadTable(cfg.EvalThresholdsFile)
		if err != nil {
			return nil, err
		}
		scorer = eval.NewScorer(table)
	}

	if reg != nil {
		c.metrics = metrics.New(reg)
	}

	router := llm.NewRouterFromConfig(ctx, llm.Config{
		OpenAIKey:     cfg.OpenAIAPIKey,
		AnthropicKey:  cfg.AnthropicAPIKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		IncludeOllama: true,
		BedrockRegion: cfg.BedrockRegion,
	})

	c.breaker = execution.NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown)
	c.orch = agent.NewOrchestrator(agent.Config{
		Catalog:    c.catalog,
		Ledger:     c.ledger,
		Estimator:  cost.NewEstimator(nil),
		Safety:     newSafety(cfg),
		Governance: gov,
		Executor: execution.NewAdapter(router,
			execution.WithTimeout(cfg.ExecuteTimeout),
			execution.WithCircuitBreaker(c.breaker),
		),
		Scorer:        scorer,
		Recorder:      telemetry.NewRecorder(c.store, telemetry.WithSinks(sinks...)),
		Reviews:       c.reviews,
		Metrics:       c.metrics,
		EnforceBudget: cfg.BudgetEnforce,
	})
	return c, nil
}

func openLedger(ctx context.Context, cfg *config.Config) (cost.Ledger, error) {
	switch cfg.BudgetLedger {
	case config.LedgerPostgres:
		l, err := cost.NewPostgresLedgerFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.LedgerRedis:
		l, err := cost.NewRedisLedgerFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.LedgerMemory:
		log.Warn().Msg("budget_ledger_in_memory")
		return cost.NewMemoryLedger(), nil
	default:
		l, err := cost.NewSQLiteLedger(cfg.BudgetDBPath())
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

func newSafety(cfg *config.Config) *safety.Adapter {
	var client safety.Client
	if cfg.ClassifierURL != "" {
		client = safety.NewHTTPClient(cfg.ClassifierURL, cfg.ClassifierAPIKey, cfg.ClassifierTimeout)
	} else {
		log.Warn().Str("fallback", "keyword").Msg("classifier_url_not_set")
		client = safety.NewKeywordClassifier()
	}
	return safety.NewAdapter(client,
		safety.WithTimeout(cfg.ClassifierTimeout),
		safety.WithFailClosedLevel(safety.ParseLevel(cfg.ClassifierFailClosed)),
	)
}

func newGovernance(ctx context.Context, cfg *config.Config) (*governance.Evaluator, error) {
	rules := policy.DefaultJurisdictions()
	if cfg.JurisdictionsFile != "" {
		loaded, err := policy.LoadJurisdictions(ctx, cfg.JurisdictionsFile)
		if err != nil {
			return nil, fmt.Errorf("loading jurisdictions: %w", err)
		}
		rules = loaded
	}
	engine, err := policy.NewEngine(ctx, rules)
	if err != nil {
		return nil, fmt.Errorf("jurisdiction engine: %w", err)
	}
	return governance.NewEvaluator(governance.WithJurisdictionEngine(engine)), nil
}
