package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dativo-io/steward/internal/config"
	"github.com/dativo-io/steward/internal/eval"
)

// errCIGateFailed makes the process exit non-zero when the gate fails.
var errCIGateFailed = errors.New("eval CI gate failed")

var (
	evalThresholds string
	evalJSON       bool
)

var evalCmd = &cobra.Command{
	Use:   "eval [metrics-file]",
	Short: "Score a metrics file against the quality thresholds (CI gate)",
	Long: `Score one run's measurements against the thresholds for its agent type
and sensitivity. The command exits non-zero when a critical metric is breached,
the score is below 80, or any metric misses its bound.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "eval")
		defer span.End()

		path := evalThresholds
		if path == "" {
			path = viper.GetString(config.KeyEvalThresholdsFile)
		}
		table, err := eval.LoadTable(path)
		if err != nil {
			return err
		}
		c, err := eval.LoadCase(args[0])
		if err != nil {
			return err
		}

		res := eval.NewScorer(table).Score(c.AgentType, c.Sensitivity, c.Metrics)
		rep := res.CI()
		if err := renderEval(cmd.OutOrStdout(), res, rep, evalJSON); err != nil {
			return err
		}
		if !rep.Passed {
			return errCIGateFailed
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalThresholds, "thresholds", "", "thresholds file merged over the built-in table (default: eval.thresholds_file)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(evalCmd)
}

func renderEval(w io.Writer, res eval.Result, rep eval.CIReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			eval.Result
			CI eval.CIReport `json:"ci"`
		}{res, rep})
	}
	fmt.Fprintf(w, "Agent: %s | Sensitivity: %s\n", res.AgentType, res.Sensitivity)
	fmt.Fprintf(w, "%-20s %10s %10s  %s\n", "Metric", "Value", "Bound", "Result")
	for _, m := range res.Metrics {
		result := "pass"
		if !m.Passed {
			result = "FAIL"
			if m.Critical {
				result = "FAIL (critical)"
			}
		}
		fmt.Fprintf(w, "%-20s %10.3f %10.3f  %s\n", m.Name, m.Value, m.Bound, result)
	}
	fmt.Fprintln(w, rep.String())
	return nil
}
