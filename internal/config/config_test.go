package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	for _, env := range []string{
		"STEWARD_SIGNING_KEY", "STEWARD_REVIEW_KEY", "STEWARD_DATA_DIR",
		"STEWARD_BUDGET_LEDGER", "STEWARD_BUDGET_ENFORCE", "STEWARD_POSTGRES_DSN",
		"STEWARD_REDIS_URL", "STEWARD_SERVER_API_KEYS", "STEWARD_CLASSIFIER_FAIL_CLOSED_LEVEL",
		"STEWARD_EXECUTE_TIMEOUT",
	} {
		t.Setenv(env, "")
	}
	v := viper.New()
	SetDefaults(v)
	v.Set(KeyDataDir, t.TempDir())
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(newViper(t))
	require.NoError(t, err)

	assert.True(t, cfg.BudgetEnforce)
	assert.Equal(t, LedgerSQLite, cfg.BudgetLedger)
	assert.True(t, cfg.EvalEnabled)
	assert.Equal(t, 30*time.Second, cfg.ExecuteTimeout)
	assert.Equal(t, 10*time.Second, cfg.ClassifierTimeout)
	assert.Equal(t, "review_required", cfg.ClassifierFailClosed)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimit)
	assert.Equal(t, 5, cfg.CircuitThreshold)
	assert.Equal(t, 60*time.Second, cfg.CircuitCooldown)
	assert.True(t, cfg.UsingDefaultKeys())
	assert.Len(t, cfg.SigningKey, 64)
	assert.NotEqual(t, cfg.SigningKey, cfg.ReviewKey)
	assert.Empty(t, cfg.APIKeys)
}

func TestLoad_Env(t *testing.T) {
	v := newViper(t)
	t.Setenv("STEWARD_SIGNING_KEY", "my-signing-key-at-least-32-chars!")
	t.Setenv("STEWARD_REVIEW_KEY", "abcdefghijklmnopqrstuvwxyz012345")
	t.Setenv("STEWARD_BUDGET_ENFORCE", "false")
	t.Setenv("STEWARD_EXECUTE_TIMEOUT", "5s")

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.False(t, cfg.UsingDefaultKeys())
	assert.False(t, cfg.BudgetEnforce)
	assert.Equal(t, 5*time.Second, cfg.ExecuteTimeout)
}

func TestLoad_APIKeys(t *testing.T) {
	v := newViper(t)
	v.Set(KeyServerAPIKeys, []string{"acme:key-one", "other:key-two"})
	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"key-one": "acme", "key-two": "other"}, cfg.APIKeys)

	v.Set(KeyServerAPIKeys, []string{"no-separator"})
	_, err = LoadFrom(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant:key")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
		want string
	}{
		{"unknown ledger", KeyBudgetLedger, "mongo", "budget.ledger must be one of"},
		{"postgres without dsn", KeyBudgetLedger, "postgres", "requires postgres_dsn"},
		{"redis without url", KeyBudgetLedger, "redis", "requires redis_url"},
		{"fail open", KeyClassifierFailClosed, "safe", "fail_closed_level"},
		{"zero timeout", KeyExecuteTimeout, "0s", "execute.timeout"},
		{"short signing key", KeySigningKey, "short", "signing_key"},
		{"short review key", KeyReviewKey, "short", "review_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t)
			v.Set(tt.key, tt.val)
			_, err := LoadFrom(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ExternalLedgers(t *testing.T) {
	v := newViper(t)
	v.Set(KeyBudgetLedger, "POSTGRES")
	v.Set(KeyPostgresDSN, "postgres://localhost/steward")
	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, LedgerPostgres, cfg.BudgetLedger)
}

func TestDeriveDefaultKey_Deterministic(t *testing.T) {
	assert.Equal(t, deriveDefaultKey("/a", "x"), deriveDefaultKey("/a", "x"))
	assert.NotEqual(t, deriveDefaultKey("/a", "x"), deriveDefaultKey("/b", "x"))
}

func TestPaths(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/steward"}
	assert.Equal(t, "/var/lib/steward/telemetry.db", cfg.TelemetryDBPath())
	assert.Equal(t, "/var/lib/steward/budget.db", cfg.BudgetDBPath())
	assert.Equal(t, "/var/lib/steward/review.db", cfg.ReviewDBPath())
}
