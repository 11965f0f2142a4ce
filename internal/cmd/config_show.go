package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dativo-io/steward/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect steward configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		renderConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// renderConfig writes cfg to w. Secret values are never printed.
func renderConfig(w io.Writer, cfg *config.Config) {
	dataDir := cfg.DataDir
	if dirExists(dataDir) {
		dataDir += " (exists)"
	}
	fmt.Fprintf(w, "Data directory:     %s\n", dataDir)
	fmt.Fprintf(w, "Telemetry DB:       %s\n", cfg.TelemetryDBPath())
	fmt.Fprintf(w, "Review DB:          %s\n", cfg.ReviewDBPath())
	fmt.Fprintf(w, "Signing key:        %s\n", keySource(cfg.SigningKey, cfg.UsingDefaultSigningKey()))
	fmt.Fprintf(w, "Review key:         %s\n", keySource(cfg.ReviewKey, cfg.UsingDefaultReviewKey()))

	ledger := cfg.BudgetLedger
	if ledger == config.LedgerSQLite {
		ledger += " " + cfg.BudgetDBPath()
	}
	fmt.Fprintf(w, "Budget ledger:      %s (enforce=%t)\n", ledger, cfg.BudgetEnforce)
	fmt.Fprintf(w, "Recipes file:       %s\n", fileOrDefault(cfg.RecipesFile))
	fmt.Fprintf(w, "Jurisdictions file: %s\n", fileOrDefault(cfg.JurisdictionsFile))
	fmt.Fprintf(w, "Eval:               enabled=%t thresholds=%s\n", cfg.EvalEnabled, fileOrDefault(cfg.EvalThresholdsFile))

	classifier := cfg.ClassifierURL
	if classifier == "" {
		classifier = "(keyword classifier)"
	}
	fmt.Fprintf(w, "Classifier:         %s (fail-closed=%s, timeout=%s)\n", classifier, cfg.ClassifierFailClosed, cfg.ClassifierTimeout)
	fmt.Fprintf(w, "Execute timeout:    %s\n", cfg.ExecuteTimeout)
	fmt.Fprintf(w, "Circuit breaker:    %d failures, %s cooldown\n", cfg.CircuitThreshold, cfg.CircuitCooldown)

	tenants := make([]string, 0, len(cfg.APIKeys))
	for _, t := range cfg.APIKeys {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	fmt.Fprintf(w, "Server:             %s (rate=%d/s, api keys for [%s], jwt=%t)\n",
		cfg.ServerAddr, cfg.RateLimit, strings.Join(tenants, ", "), cfg.JWTSecret != "")

	var providers []string
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, "openai")
	}
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, "anthropic")
	}
	if cfg.BedrockRegion != "" {
		providers = append(providers, "bedrock("+cfg.BedrockRegion+")")
	}
	ollama := cfg.OllamaBaseURL
	if ollama == "" {
		ollama = "http://localhost:11434"
	}
	providers = append(providers, "ollama("+ollama+")")
	fmt.Fprintf(w, "LLM providers:      %s\n", strings.Join(providers, ", "))
}

func keySource(key string, derived bool) string {
	if derived {
		return "generated default (set for production)"
	}
	return fmt.Sprintf("set (%d chars)", len(key))
}

func fileOrDefault(path string) string {
	if path == "" {
		return "built-in"
	}
	if !fileExists(path) {
		return path + " (missing)"
	}
	return path
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
