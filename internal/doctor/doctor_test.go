package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/steward/internal/config"
)

func loadConfig(t *testing.T, set map[string]interface{}) *config.Config {
	t.Helper()
	for _, env := range []string{
		"STEWARD_SIGNING_KEY", "STEWARD_REVIEW_KEY", "STEWARD_DATA_DIR",
		"STEWARD_BUDGET_LEDGER", "STEWARD_OPENAI_API_KEY", "STEWARD_CLASSIFIER_URL",
	} {
		t.Setenv(env, "")
	}
	v := viper.New()
	config.SetDefaults(v)
	v.Set(config.KeyDataDir, t.TempDir())
	for k, val := range set {
		v.Set(k, val)
	}
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

func find(t *testing.T, r *Report, name string) CheckResult {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not in report", name)
	return CheckResult{}
}

func TestRun_DefaultConfig(t *testing.T) {
	cfg := loadConfig(t, nil)

	report := Run(context.Background(), cfg, Options{SkipUpstream: true})

	assert.Equal(t, StatusPass, find(t, report, "data_dir_writable").Status)
	assert.Equal(t, StatusPass, find(t, report, "recipes_valid").Status)
	assert.Equal(t, StatusPass, find(t, report, "jurisdictions_valid").Status)
	assert.Equal(t, StatusPass, find(t, report, "eval_thresholds").Status)
	assert.Equal(t, StatusPass, find(t, report, "telemetry_db").Status)
	assert.Equal(t, StatusPass, find(t, report, "review_db").Status)
	assert.Equal(t, StatusPass, find(t, report, "budget_ledger").Status)

	// Generated keys and no hosted provider are warnings, not failures.
	assert.Equal(t, StatusWarn, find(t, report, "signing_key").Status)
	assert.Equal(t, StatusWarn, find(t, report, "review_key").Status)
	assert.Equal(t, StatusWarn, find(t, report, "llm_providers").Status)
	assert.Equal(t, StatusWarn, report.Status)
	assert.Zero(t, report.Summary.Fail)

	for _, c := range report.Checks {
		assert.NotEqual(t, "upstream", c.Category, "upstream checks must be skipped")
	}
}

func TestRun_InvalidRecipesFailsReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recipes: [not: valid: yaml"), 0o600))
	cfg := loadConfig(t, map[string]interface{}{config.KeyRecipesFile: path})

	report := Run(context.Background(), cfg, Options{SkipUpstream: true})

	c := find(t, report, "recipes_valid")
	assert.Equal(t, StatusFail, c.Status)
	assert.Contains(t, c.Fix, path)
	assert.Equal(t, StatusFail, report.Status)
	assert.GreaterOrEqual(t, report.Summary.Fail, 1)
}

func TestRun_MemoryLedgerWarns(t *testing.T) {
	cfg := loadConfig(t, map[string]interface{}{config.KeyBudgetLedger: config.LedgerMemory})

	report := Run(context.Background(), cfg, Options{SkipUpstream: true})

	assert.Equal(t, StatusWarn, find(t, report, "budget_ledger").Status)
}

func TestRun_ProvidersConfigured(t *testing.T) {
	cfg := loadConfig(t, nil)
	cfg.OpenAIAPIKey = "sk-test"
	cfg.BedrockRegion = "ap-southeast-2"

	c := checkProviders(cfg)
	assert.Equal(t, StatusPass, c.Status)
	assert.Equal(t, "openai, bedrock + ollama", c.Message)
}

func TestRun_Upstreams(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := loadConfig(t, nil)
	cfg.ClassifierURL = srv.URL + "/broken"
	cfg.OllamaBaseURL = srv.URL + "/"

	report := Run(context.Background(), cfg, Options{HTTPClient: srv.Client()})

	assert.Equal(t, StatusFail, find(t, report, "upstream_classifier").Status)
	assert.Equal(t, StatusPass, find(t, report, "upstream_ollama").Status)
	assert.ElementsMatch(t, []string{"/broken", "/api/tags"}, paths)
}

func TestRun_ClassifierUnsetWarns(t *testing.T) {
	cfg := loadConfig(t, nil)
	cfg.OllamaBaseURL = "http://127.0.0.1:1"

	report := Run(context.Background(), cfg, Options{})

	assert.Equal(t, StatusWarn, find(t, report, "classifier").Status)
	assert.Equal(t, StatusFail, find(t, report, "upstream_ollama").Status)
}

func TestCheckResult_StatusValues(t *testing.T) {
	for _, s := range []string{StatusPass, StatusWarn, StatusFail} {
		c := CheckResult{Status: s}
		assert.Contains(t, []string{"pass", "warn", "fail"}, c.Status)
	}
}
