// Package doctor provides preflight checks for steward configuration and its
// collaborators. Used by `steward doctor`.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dativo-io/steward/internal/config"
	"github.com/dativo-io/steward/internal/cost"
	"github.com/dativo-io/steward/internal/eval"
	"github.com/dativo-io/steward/internal/policy"
	"github.com/dativo-io/steward/internal/recipe"
	"github.com/dativo-io/steward/internal/review"
	"github.com/dativo-io/steward/internal/telemetry"
)

// Check statuses, worst last.
const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which check categories run.
type Options struct {
	SkipUpstream bool // skip classifier and Ollama connectivity (for CI/offline)
	HTTPClient   *http.Client
}

// Run executes all checks against cfg and returns a report.
func Run(ctx context.Context, cfg *config.Config, opts Options) *Report {
	report := &Report{}

	report.Checks = append(report.Checks, checkDataDir(cfg))
	report.Checks = append(report.Checks, checkCryptoKeys(cfg)...)
	report.Checks = append(report.Checks, checkRecipes(cfg))
	report.Checks = append(report.Checks, checkJurisdictions(ctx, cfg))
	report.Checks = append(report.Checks, checkThresholds(cfg))
	report.Checks = append(report.Checks, checkStores(cfg)...)
	report.Checks = append(report.Checks, checkLedger(ctx, cfg))
	report.Checks = append(report.Checks, checkProviders(cfg))
	if !opts.SkipUpstream {
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 5 * time.Second}
		}
		report.Checks = append(report.Checks, checkUpstreams(ctx, client, cfg)...)
	}

	for _, c := range report.Checks {
		switch c.Status {
		case StatusPass:
			report.Summary.Pass++
		case StatusWarn:
			report.Summary.Warn++
		case StatusFail:
			report.Summary.Fail++
		}
	}

	report.Status = StatusPass
	if report.Summary.Warn > 0 {
		report.Status = StatusWarn
	}
	if report.Summary.Fail > 0 {
		report.Status = StatusFail
	}
	return report
}

func pass(name, category, msg string) CheckResult {
	return CheckResult{Name: name, Category: category, Status: StatusPass, Message: msg}
}

func fail(name, category, msg, fix string) CheckResult {
	return CheckResult{Name: name, Category: category, Status: StatusFail, Message: msg, Fix: fix}
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return fail("data_dir_writable", "config", fmt.Sprintf("%s: %v", cfg.DataDir, err),
			"Ensure the directory exists and is writable, or set STEWARD_DATA_DIR")
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fail("data_dir_writable", "config", fmt.Sprintf("%s not writable: %v", cfg.DataDir, err), "")
	}
	_ = os.Remove(testFile)
	return pass("data_dir_writable", "config", cfg.DataDir+" (writable)")
}

func checkCryptoKeys(cfg *config.Config) []CheckResult {
	keys := []struct {
		name, env string
		derived   bool
	}{
		{"signing_key", "STEWARD_SIGNING_KEY", cfg.UsingDefaultSigningKey()},
		{"review_key", "STEWARD_REVIEW_KEY", cfg.UsingDefaultReviewKey()},
	}
	results := make([]CheckResult, 0, len(keys))
	for _, k := range keys {
		if k.derived {
			results = append(results, CheckResult{
				Name: k.name, Category: "config", Status: StatusWarn,
				Message: "Using generated default", Fix: "Set " + k.env + " for production",
			})
			continue
		}
		results = append(results, pass(k.name, "config", "Configured"))
	}
	return results
}

func checkRecipes(cfg *config.Config) CheckResult {
	cat, err := recipe.Load(cfg.RecipesFile)
	if err != nil {
		return fail("recipes_valid", "config", err.Error(), "Fix the overlay at "+cfg.RecipesFile)
	}
	source := "built-in"
	if cfg.RecipesFile != "" {
		source = cfg.RecipesFile
	}
	return pass("recipes_valid", "config", fmt.Sprintf("%d recipes (%s)", len(cat.List()), source))
}

func checkJurisdictions(ctx context.Context, cfg *config.Config) CheckResult {
	rules := policy.DefaultJurisdictions()
	if cfg.JurisdictionsFile != "" {
		loaded, err := policy.LoadJurisdictions(ctx, cfg.JurisdictionsFile)
		if err != nil {
			return fail("jurisdictions_valid", "config", err.Error(), "Fix the rules at "+cfg.JurisdictionsFile)
		}
		rules = loaded
	}
	if _, err := policy.NewEngine(ctx, rules); err != nil {
		return fail("jurisdictions_valid", "config", err.Error(), "")
	}
	return pass("jurisdictions_valid", "config", strings.Join(rules.Codes(), ", "))
}

func checkThresholds(cfg *config.Config) CheckResult {
	if !cfg.EvalEnabled {
		return pass("eval_thresholds", "config", "eval disabled")
	}
	if _, err := eval.LoadTable(cfg.EvalThresholdsFile); err != nil {
		return fail("eval_thresholds", "config", err.Error(), "Fix the thresholds at "+cfg.EvalThresholdsFile)
	}
	return pass("eval_thresholds", "config", "loaded")
}

func checkStores(cfg *config.Config) []CheckResult {
	var results []CheckResult
	store, err := telemetry.NewStore(cfg.TelemetryDBPath(), cfg.SigningKey)
	if err != nil {
		results = append(results, fail("telemetry_db", "storage", err.Error(), ""))
	} else {
		_ = store.Close()
		results = append(results, pass("telemetry_db", "storage", cfg.TelemetryDBPath()))
	}

	q, err := review.NewQueue(cfg.ReviewDBPath(), cfg.ReviewKey)
	if err != nil {
		results = append(results, fail("review_db", "storage", err.Error(), ""))
	} else {
		_ = q.Close()
		results = append(results, pass("review_db", "storage", cfg.ReviewDBPath()))
	}
	return results
}

func checkLedger(ctx context.Context, cfg *config.Config) CheckResult {
	var (
		ledger cost.Ledger
		err    error
		where  string
	)
	switch cfg.BudgetLedger {
	case config.LedgerPostgres:
		where = "postgres"
		var l *cost.PostgresLedger
		if l, err = cost.NewPostgresLedgerFromDSN(ctx, cfg.PostgresDSN); err == nil {
			ledger = l
		}
	case config.LedgerRedis:
		where = "redis"
		var l *cost.RedisLedger
		if l, err = cost.NewRedisLedgerFromURL(cfg.RedisURL); err == nil {
			ledger = l
		}
	case config.LedgerMemory:
		return CheckResult{
			Name: "budget_ledger", Category: "storage", Status: StatusWarn,
			Message: "in-memory ledger: spend is lost on restart",
			Fix:     "Set budget.ledger to sqlite, postgres or redis",
		}
	default:
		where = cfg.BudgetDBPath()
		var l *cost.SQLiteLedger
		if l, err = cost.NewSQLiteLedger(cfg.BudgetDBPath()); err == nil {
			ledger = l
		}
	}
	if err != nil {
		return fail("budget_ledger", "storage", err.Error(), "Check the "+cfg.BudgetLedger+" connection settings")
	}
	defer ledger.Close()
	if _, err := ledger.Policy(ctx, "doctor"); err != nil {
		return fail("budget_ledger", "storage", err.Error(), "")
	}
	return pass("budget_ledger", "storage", where)
}

func checkProviders(cfg *config.Config) CheckResult {
	var providers []string
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, "openai")
	}
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, "anthropic")
	}
	if cfg.BedrockRegion != "" {
		providers = append(providers, "bedrock")
	}
	if len(providers) == 0 {
		return CheckResult{
			Name: "llm_providers", Category: "config", Status: StatusWarn,
			Message: "No hosted provider configured; only local Ollama models will run",
			Fix:     "Set STEWARD_OPENAI_API_KEY, STEWARD_ANTHROPIC_API_KEY or STEWARD_BEDROCK_REGION",
		}
	}
	return pass("llm_providers", "config", strings.Join(providers, ", ")+" + ollama")
}

func checkUpstreams(ctx context.Context, client *http.Client, cfg *config.Config) []CheckResult {
	var results []CheckResult
	if cfg.ClassifierURL == "" {
		results = append(results, CheckResult{
			Name: "classifier", Category: "upstream", Status: StatusWarn,
			Message: "classifier.url not set; using the built-in keyword classifier",
			Fix:     "Set STEWARD_CLASSIFIER_URL",
		})
	} else {
		results = append(results, checkUpstream(ctx, client, "classifier", cfg.ClassifierURL)...)
	}

	ollama := cfg.OllamaBaseURL
	if ollama == "" {
		ollama = "http://localhost:11434"
	}
	results = append(results, checkUpstream(ctx, client, "ollama", strings.TrimRight(ollama, "/")+"/api/tags")...)
	return results
}

func checkUpstream(ctx context.Context, client *http.Client, name, url string) []CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return []CheckResult{fail("upstream_"+name, "upstream", fmt.Sprintf("Invalid URL: %v", err), "")}
	}
	start := time.Now()
	resp, err := client.Do(req) //nolint:gosec // URL from operator config
	latency := time.Since(start)
	if err != nil {
		return []CheckResult{fail("upstream_"+name, "upstream", fmt.Sprintf("Connection failed: %v", err),
			"Check network connectivity and the configured URL")}
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return []CheckResult{fail("upstream_"+name, "upstream", fmt.Sprintf("%s returned %d", url, resp.StatusCode), "")}
	}

	results := []CheckResult{pass("upstream_"+name, "upstream", fmt.Sprintf("%s (%dms)", url, latency.Milliseconds()))}
	if latency > 2*time.Second {
		results = append(results, fail("upstream_latency_"+name, "upstream",
			fmt.Sprintf("%.1fs (> 2s threshold)", latency.Seconds()), "The pipeline timeout may be exceeded"))
	} else if latency > time.Second {
		results = append(results, CheckResult{
			Name: "upstream_latency_" + name, Category: "upstream", Status: StatusWarn,
			Message: fmt.Sprintf("%.1fs (> 1s threshold)", latency.Seconds()),
		})
	}
	return results
}
