package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/telemetry"
)

var (
	auditTenant string
	auditAgent  string
	auditStatus string
	auditSince  time.Duration
	auditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and verify the signed telemetry trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List telemetry rows, newest first",
	RunE:  auditList,
}

var auditShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Print one telemetry row as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  auditShow,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [run-id]",
	Short: "Verify the HMAC signature of a telemetry row",
	Args:  cobra.ExactArgs(1),
	RunE:  auditVerify,
}

func init() {
	auditListCmd.Flags().StringVar(&auditTenant, "tenant", "", "filter by tenant ID")
	auditListCmd.Flags().StringVar(&auditAgent, "agent", "", "filter by agent type")
	auditListCmd.Flags().StringVar(&auditStatus, "status", "", "filter by safety status (approved, flagged, blocked, elder_review_required)")
	auditListCmd.Flags().DurationVar(&auditSince, "since", 0, "only rows newer than this (e.g. 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum rows to show")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func openTelemetryStore() (*telemetry.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return telemetry.NewStore(cfg.TelemetryDBPath(), cfg.SigningKey)
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openTelemetryStore()
	if err != nil {
		return fmt.Errorf("initializing telemetry store: %w", err)
	}
	defer store.Close()

	f := telemetry.Filter{
		TenantID:     auditTenant,
		AgentType:    auditAgent,
		SafetyStatus: agentapi.SafetyStatus(auditStatus),
		Limit:        auditLimit,
	}
	if auditSince > 0 {
		f.From = time.Now().Add(-auditSince)
	}
	rows, err := store.List(ctx, f)
	if err != nil {
		return fmt.Errorf("querying telemetry: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No telemetry rows found.")
		return nil
	}
	renderAuditList(out, rows)
	return nil
}

func auditShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openTelemetryStore()
	if err != nil {
		return fmt.Errorf("initializing telemetry store: %w", err)
	}
	defer store.Close()

	row, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(row)
}

func auditVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	id := args[0]
	store, err := openTelemetryStore()
	if err != nil {
		return fmt.Errorf("initializing telemetry store: %w", err)
	}
	defer store.Close()

	valid, err := store.Verify(ctx, id)
	if err != nil {
		return fmt.Errorf("verifying telemetry row: %w", err)
	}
	renderVerifyResult(cmd.OutOrStdout(), id, valid)
	if !valid {
		return fmt.Errorf("signature verification failed for %s", id)
	}
	return nil
}

// renderAuditList writes one line per row to w.
func renderAuditList(w io.Writer, rows []telemetry.Row) {
	fmt.Fprintf(w, "Telemetry rows (showing %d):\n\n", len(rows))
	for i := range rows {
		s := telemetry.Summarize(&rows[i])
		mark := "✓"
		if !s.Success {
			mark = "✗"
		}
		flags := ""
		if s.FlagCount > 0 {
			flags = fmt.Sprintf(" [%d flags]", s.FlagCount)
		}
		model := s.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "  %s %s | %s | %s/%s | %s | %s | $%s | %dms%s\n",
			mark,
			s.ID,
			s.Timestamp.Format("2006-01-02 15:04:05"),
			s.TenantID,
			s.AgentType,
			model,
			s.SafetyStatus,
			formatCost(s.Cost),
			s.DurationMS,
			flags,
		)
	}
}

// renderVerifyResult writes the verify outcome to w.
func renderVerifyResult(w io.Writer, id string, valid bool) {
	if valid {
		fmt.Fprintf(w, "✓ Run %s: signature VALID (HMAC-SHA256 intact)\n", id)
	} else {
		fmt.Fprintf(w, "✗ Run %s: signature INVALID (possible tampering)\n", id)
	}
}
