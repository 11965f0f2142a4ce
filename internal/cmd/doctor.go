package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/steward/internal/doctor"
)

var (
	doctorJSON         bool
	doctorSkipUpstream bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (data dir, keys, recipes, stores, upstreams)",
	Long: `Verifies the data directory is writable, recipe and rule overlays are valid,
the telemetry, review and budget stores open, and the classifier and Ollama
endpoints answer. Exits non-zero when any check fails.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the report as JSON")
	doctorCmd.Flags().BoolVar(&doctorSkipUpstream, "skip-upstream", false, "skip classifier and Ollama connectivity checks")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	report := doctor.Run(ctx, cfg, doctor.Options{SkipUpstream: doctorSkipUpstream})
	if err := renderDoctor(cmd.OutOrStdout(), report, doctorJSON); err != nil {
		return err
	}
	if report.Status == doctor.StatusFail {
		return fmt.Errorf("%d preflight check(s) failed", report.Summary.Fail)
	}
	return nil
}

func renderDoctor(w io.Writer, r *doctor.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	for _, c := range r.Checks {
		mark := "✓"
		switch c.Status {
		case doctor.StatusWarn:
			mark = "!"
		case doctor.StatusFail:
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %-22s %s\n", mark, c.Name, c.Message)
		if c.Fix != "" && c.Status != doctor.StatusPass {
			fmt.Fprintf(w, "    fix: %s\n", c.Fix)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d warnings, %d failed\n", r.Summary.Pass, r.Summary.Warn, r.Summary.Fail)
	return nil
}
