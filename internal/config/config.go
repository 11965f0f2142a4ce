// Package config holds operator-level configuration for a steward
// deployment.
//
// Values come from STEWARD_* environment variables, an optional
// steward.yaml file and the defaults below, merged by viper. Dotted keys map
// to underscores in the environment (budget.enforce -> STEWARD_BUDGET_ENFORCE).
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dativo-io/steward/internal/cryptoutil"
)

// Viper keys.
const (
	KeyDataDir              = "data_dir"
	KeyBudgetEnforce        = "budget.enforce"
	KeyBudgetLedger         = "budget.ledger"
	KeyPostgresDSN          = "postgres_dsn"
	KeyRedisURL             = "redis_url"
	KeyEvalEnabled          = "eval.enabled"
	KeyEvalThresholdsFile   = "eval.thresholds_file"
	KeyExecuteTimeout       = "execute.timeout"
	KeyClassifierURL        = "classifier.url"
	KeyClassifierAPIKey     = "classifier.api_key"
	KeyClassifierTimeout    = "classifier.timeout"
	KeyClassifierFailClosed = "classifier.fail_closed_level"
	KeyRecipesFile          = "recipes.file"
	KeyJurisdictionsFile    = "jurisdictions.file"
	KeySigningKey           = "signing_key"
	KeyReviewKey            = "review_key"
	KeyReviewTTL            = "review.ttl"
	KeyServerAddr           = "server.addr"
	KeyServerAPIKeys        = "server.api_keys"
	KeyServerJWTSecret      = "server.jwt_secret"
	KeyServerRateLimit      = "server.rate_limit"
	KeyServerCORSOrigins    = "server.cors_origins"
	KeyOTelEnabled          = "otel.enabled"
	KeyOTelEndpoint         = "otel.endpoint"
	KeyOpenAIAPIKey         = "openai_api_key"
	KeyAnthropicAPIKey      = "anthropic_api_key"
	KeyOllamaBaseURL        = "ollama_base_url"
	KeyBedrockRegion        = "bedrock_region"
	KeyCircuitThreshold     = "circuit.threshold"
	KeyCircuitCooldown      = "circuit.cooldown"
)

// Ledger backends.
const (
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
	LedgerMemory   = "memory"
)

// Defaults.
const (
	DefaultExecuteTimeout    = 30 * time.Second
	DefaultClassifierTimeout = 10 * time.Second
	DefaultFailClosedLevel   = "review_required"
	DefaultReviewTTL         = 72 * time.Hour
	DefaultServerAddr        = ":8080"
	DefaultRateLimit         = 20
	DefaultCircuitThreshold  = 5
	DefaultCircuitCooldown   = 60 * time.Second
)

// Config is the resolved configuration of one steward process.
type Config struct {
	DataDir string

	BudgetEnforce bool
	BudgetLedger  string
	PostgresDSN   string
	RedisURL      string

	EvalEnabled        bool
	EvalThresholdsFile string

	ExecuteTimeout time.Duration

	ClassifierURL        string
	ClassifierAPIKey     string
	ClassifierTimeout    time.Duration
	ClassifierFailClosed string

	RecipesFile       string
	JurisdictionsFile string

	SigningKey string
	ReviewKey  string
	ReviewTTL  time.Duration

	ServerAddr  string
	APIKeys     map[string]string // key -> tenant
	JWTSecret   string
	RateLimit   int
	CORSOrigins []string

	OTelEnabled  bool
	OTelEndpoint string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaBaseURL   string
	BedrockRegion   string

	CircuitThreshold int
	CircuitCooldown  time.Duration

	usingDefaultSigningKey bool
	usingDefaultReviewKey  bool
}

// UsingDefaultKeys reports whether either key was derived rather than set.
func (c *Config) UsingDefaultKeys() bool {
	return c.usingDefaultSigningKey || c.usingDefaultReviewKey
}

// UsingDefaultSigningKey reports whether the telemetry signing key was derived.
func (c *Config) UsingDefaultSigningKey() bool { return c.usingDefaultSigningKey }

// UsingDefaultReviewKey reports whether the review-queue key was derived.
func (c *Config) UsingDefaultReviewKey() bool { return c.usingDefaultReviewKey }

// TelemetryDBPath is the SQLite audit store.
func (c *Config) TelemetryDBPath() string {
	return filepath.Join(c.DataDir, "telemetry.db")
}

// BudgetDBPath is the SQLite budget ledger.
func (c *Config) BudgetDBPath() string {
	return filepath.Join(c.DataDir, "budget.db")
}

// ReviewDBPath is the SQLite review queue.
func (c *Config) ReviewDBPath() string {
	return filepath.Join(c.DataDir, "review.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning for every derived key.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default STEWARD_SIGNING_KEY; set it via env var or config file for production")
	}
	if c.usingDefaultReviewKey {
		log.Warn().Msg("Using generated default STEWARD_REVIEW_KEY; set it via env var or config file for production")
	}
}

func init() {
	SetDefaults(viper.GetViper())
}

// SetDefaults installs the env binding and defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix("STEWARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyBudgetEnforce, true)
	v.SetDefault(KeyBudgetLedger, LedgerSQLite)
	v.SetDefault(KeyEvalEnabled, true)
	v.SetDefault(KeyExecuteTimeout, DefaultExecuteTimeout)
	v.SetDefault(KeyClassifierTimeout, DefaultClassifierTimeout)
	v.SetDefault(KeyClassifierFailClosed, DefaultFailClosedLevel)
	v.SetDefault(KeyReviewTTL, DefaultReviewTTL)
	v.SetDefault(KeyServerAddr, DefaultServerAddr)
	v.SetDefault(KeyServerRateLimit, DefaultRateLimit)
	v.SetDefault(KeyServerCORSOrigins, []string{"*"})
	v.SetDefault(KeyOTelEnabled, true)
	v.SetDefault(KeyCircuitThreshold, DefaultCircuitThreshold)
	v.SetDefault(KeyCircuitCooldown, DefaultCircuitCooldown)
}

// Load reads the global viper instance and returns a validated Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads v and returns a validated Config.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir:              resolveDataDir(v),
		BudgetEnforce:        v.GetBool(KeyBudgetEnforce),
		BudgetLedger:         strings.ToLower(v.GetString(KeyBudgetLedger)),
		PostgresDSN:          v.GetString(KeyPostgresDSN),
		RedisURL:             v.GetString(KeyRedisURL),
		EvalEnabled:          v.GetBool(KeyEvalEnabled),
		EvalThresholdsFile:   v.GetString(KeyEvalThresholdsFile),
		ExecuteTimeout:       v.GetDuration(KeyExecuteTimeout),
		ClassifierURL:        v.GetString(KeyClassifierURL),
		ClassifierAPIKey:     v.GetString(KeyClassifierAPIKey),
		ClassifierTimeout:    v.GetDuration(KeyClassifierTimeout),
		ClassifierFailClosed: v.GetString(KeyClassifierFailClosed),
		RecipesFile:          v.GetString(KeyRecipesFile),
		JurisdictionsFile:    v.GetString(KeyJurisdictionsFile),
		SigningKey:           v.GetString(KeySigningKey),
		ReviewKey:            v.GetString(KeyReviewKey),
		ReviewTTL:            v.GetDuration(KeyReviewTTL),
		ServerAddr:           v.GetString(KeyServerAddr),
		JWTSecret:            v.GetString(KeyServerJWTSecret),
		RateLimit:            v.GetInt(KeyServerRateLimit),
		CORSOrigins:          v.GetStringSlice(KeyServerCORSOrigins),
		OTelEnabled:          v.GetBool(KeyOTelEnabled),
		OTelEndpoint:         v.GetString(KeyOTelEndpoint),
		OpenAIAPIKey:         v.GetString(KeyOpenAIAPIKey),
		AnthropicAPIKey:      v.GetString(KeyAnthropicAPIKey),
		OllamaBaseURL:        v.GetString(KeyOllamaBaseURL),
		BedrockRegion:        v.GetString(KeyBedrockRegion),
		CircuitThreshold:     v.GetInt(KeyCircuitThreshold),
		CircuitCooldown:      v.GetDuration(KeyCircuitCooldown),
	}

	keys, err := parseAPIKeys(v.GetStringSlice(KeyServerAPIKeys))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.APIKeys = keys

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "telemetry-signing")
		cfg.usingDefaultSigningKey = true
	}
	if cfg.ReviewKey == "" {
		cfg.ReviewKey = deriveDefaultKey(cfg.DataDir, "review-sealing")
		cfg.usingDefaultReviewKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir(v *viper.Viper) string {
	if dir := v.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".steward"
	}
	return filepath.Join(home, ".steward")
}

// deriveDefaultKey produces a deterministic per-machine fallback key so a
// fresh install works without setup. It is not a secret.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("steward:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

// parseAPIKeys reads entries of the form "tenant:key".
func parseAPIKeys(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		tenant, key, ok := strings.Cut(e, ":")
		if !ok || tenant == "" || key == "" {
			return nil, fmt.Errorf("server.api_keys entries must be tenant:key (got %q)", e)
		}
		out[key] = tenant
	}
	return out, nil
}

func (c *Config) validate() error {
	switch c.BudgetLedger {
	case LedgerSQLite, LedgerMemory:
	case LedgerPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("budget.ledger=postgres requires postgres_dsn")
		}
	case LedgerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("budget.ledger=redis requires redis_url")
		}
	default:
		return fmt.Errorf("budget.ledger must be one of sqlite, postgres, redis, memory (got %q)", c.BudgetLedger)
	}
	switch c.ClassifierFailClosed {
	case "review_required", "blocked":
	default:
		return fmt.Errorf("classifier.fail_closed_level must be review_required or blocked (got %q)", c.ClassifierFailClosed)
	}
	if c.ExecuteTimeout <= 0 {
		return fmt.Errorf("execute.timeout must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if _, err := cryptoutil.ResolveKey(c.SigningKey, 32); err != nil {
		return fmt.Errorf("signing_key: %w; set STEWARD_SIGNING_KEY", err)
	}
	if _, err := cryptoutil.Key32(c.ReviewKey); err != nil {
		return fmt.Errorf("review_key: %w; set STEWARD_REVIEW_KEY", err)
	}
	return nil
}
