package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/steward/internal/cost"
	"github.com/dativo-io/steward/internal/telemetry"
)

var (
	costsAgent  string
	costsTenant string
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Show spend from the telemetry trail and the tenant's budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "costs")
		defer span.End()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := telemetry.NewStore(cfg.TelemetryDBPath(), cfg.SigningKey)
		if err != nil {
			return fmt.Errorf("opening telemetry store: %w", err)
		}
		defer store.Close()

		tenantID := costsTenant
		now := time.Now().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		dayEnd := dayStart.Add(24 * time.Hour)
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		monthEnd := monthStart.AddDate(0, 1, 0)
		weekStart := dayStart.AddDate(0, 0, -6)

		out := cmd.OutOrStdout()

		if costsAgent != "" {
			daily, err := store.CostTotal(ctx, tenantID, costsAgent, dayStart, dayEnd)
			if err != nil {
				return fmt.Errorf("cost total daily: %w", err)
			}
			monthly, err := store.CostTotal(ctx, tenantID, costsAgent, monthStart, monthEnd)
			if err != nil {
				return fmt.Errorf("cost total monthly: %w", err)
			}
			renderCostReportSingleAgent(out, tenantID, costsAgent, daily, monthly)
			weekTotal, _ := store.CostTotal(ctx, tenantID, costsAgent, weekStart, dayEnd)
			fmt.Fprintf(out, "  7d total: $%s\n", formatCost(weekTotal))
			return nil
		}

		byAgentDaily, err := store.CostByAgent(ctx, tenantID, dayStart, dayEnd)
		if err != nil {
			return fmt.Errorf("cost by agent (daily): %w", err)
		}
		byAgentMonthly, err := store.CostByAgent(ctx, tenantID, monthStart, monthEnd)
		if err != nil {
			return fmt.Errorf("cost by agent (monthly): %w", err)
		}
		renderCostReportAllAgents(out, tenantID, byAgentDaily, byAgentMonthly)
		weekTotal, _ := store.CostTotal(ctx, tenantID, "", weekStart, dayEnd)
		fmt.Fprintf(out, "  7d total: $%s\n", formatCost(weekTotal))

		ledger, err := openLedger(ctx, cfg)
		if err != nil {
			return fmt.Errorf("opening budget ledger: %w", err)
		}
		defer ledger.Close()
		pol, err := ledger.Policy(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("reading budget: %w", err)
		}
		printBudgetUtilization(out, pol)
		return nil
	},
}

// printBudgetUtilization writes the ledger's month-to-date view. Unlimited
// budgets print nothing.
func printBudgetUtilization(w io.Writer, pol cost.Policy) {
	if pol.MonthlyBudget > 0 {
		pct := 100 * pol.CurrentMonthSpend / pol.MonthlyBudget
		fmt.Fprintf(w, "  Monthly budget: %.1f%% ($%s / $%.2f)\n", pct, formatCost(pol.CurrentMonthSpend), pol.MonthlyBudget)
	}
	if pol.MaxCostPerRequest > 0 {
		fmt.Fprintf(w, "  Per-request ceiling: $%.4f\n", pol.MaxCostPerRequest)
	}
}

// renderCostReportSingleAgent writes single-agent cost output to w.
func renderCostReportSingleAgent(w io.Writer, tenantID, agentType string, daily, monthly float64) {
	fmt.Fprintf(w, "Tenant: %s | Agent: %s\n", tenantID, agentType)
	fmt.Fprintf(w, "  Today:   $%s\n", formatCost(daily))
	fmt.Fprintf(w, "  Month:   $%s\n", formatCost(monthly))
}

// renderCostReportAllAgents writes a per-agent cost table to w.
func renderCostReportAllAgents(w io.Writer, tenantID string, byAgentDaily, byAgentMonthly map[string]float64) {
	agents := make(map[string]bool)
	for a := range byAgentDaily {
		agents[a] = true
	}
	for a := range byAgentMonthly {
		agents[a] = true
	}
	list := make([]string, 0, len(agents))
	for a := range agents {
		list = append(list, a)
	}
	sort.Strings(list)
	fmt.Fprintf(w, "Tenant: %s\n", tenantID)
	fmt.Fprintf(w, "%-24s %14s %14s\n", "Agent", "Today", "Month")
	fmt.Fprintf(w, "%-24s %14s %14s\n", "-----", "-----", "-----")
	var dailyTotal, monthlyTotal float64
	for _, agentType := range list {
		d := byAgentDaily[agentType]
		m := byAgentMonthly[agentType]
		dailyTotal += d
		monthlyTotal += m
		fmt.Fprintf(w, "%-24s $%13s $%13s\n", agentType, formatCost(d), formatCost(m))
	}
	if len(list) > 0 {
		fmt.Fprintf(w, "%-24s %14s %14s\n", "-----", "-----", "-----")
	}
	fmt.Fprintf(w, "%-24s $%13s $%13s\n", "Total", formatCost(dailyTotal), formatCost(monthlyTotal))
}

func init() {
	rootCmd.AddCommand(costsCmd)
	costsCmd.Flags().StringVar(&costsAgent, "agent", "", "filter by agent type")
	costsCmd.Flags().StringVar(&costsTenant, "tenant", "", "tenant ID")
	_ = costsCmd.MarkFlagRequired("tenant")
}
