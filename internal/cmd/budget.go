package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/steward/internal/cost"
)

var (
	budgetTenant     string
	budgetMonthly    float64
	budgetPerRequest float64
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show or set a tenant's spending ceilings",
}

var budgetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the tenant's ceilings and month-to-date spend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		ledger, err := openConfiguredLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close()

		pol, err := ledger.Policy(ctx, budgetTenant)
		if err != nil {
			return fmt.Errorf("reading budget: %w", err)
		}
		renderBudget(cmd.OutOrStdout(), pol)
		return nil
	},
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the tenant's ceilings; 0 means unlimited. Spend is kept.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		ledger, err := openConfiguredLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close()

		pol, err := ledger.Policy(ctx, budgetTenant)
		if err != nil {
			return fmt.Errorf("reading budget: %w", err)
		}
		if cmd.Flags().Changed("monthly") {
			pol.MonthlyBudget = budgetMonthly
		}
		if cmd.Flags().Changed("per-request") {
			pol.MaxCostPerRequest = budgetPerRequest
		}
		if err := ledger.SetPolicy(ctx, pol); err != nil {
			return fmt.Errorf("setting budget: %w", err)
		}
		if pol, err = ledger.Policy(ctx, budgetTenant); err != nil {
			return fmt.Errorf("reading budget: %w", err)
		}
		renderBudget(cmd.OutOrStdout(), pol)
		return nil
	},
}

func init() {
	budgetCmd.PersistentFlags().StringVar(&budgetTenant, "tenant", "", "tenant ID")
	_ = budgetCmd.MarkPersistentFlagRequired("tenant")
	budgetSetCmd.Flags().Float64Var(&budgetMonthly, "monthly", 0, "monthly budget in USD")
	budgetSetCmd.Flags().Float64Var(&budgetPerRequest, "per-request", 0, "maximum estimated cost of one request in USD")
	budgetSetCmd.MarkFlagsOneRequired("monthly", "per-request")

	budgetCmd.AddCommand(budgetShowCmd)
	budgetCmd.AddCommand(budgetSetCmd)
	rootCmd.AddCommand(budgetCmd)
}

func openConfiguredLedger(ctx context.Context) (cost.Ledger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening budget ledger: %w", err)
	}
	return ledger, nil
}

// renderBudget writes a tenant's policy to w.
func renderBudget(w io.Writer, p cost.Policy) {
	limit := func(v float64) string {
		if v <= 0 {
			return "unlimited"
		}
		return fmt.Sprintf("$%.2f", v)
	}
	fmt.Fprintf(w, "Tenant: %s\n", p.TenantID)
	fmt.Fprintf(w, "  Monthly budget:      %s\n", limit(p.MonthlyBudget))
	fmt.Fprintf(w, "  Per-request ceiling: %s\n", limit(p.MaxCostPerRequest))
	fmt.Fprintf(w, "  Spent this month:    $%s\n", formatCost(p.CurrentMonthSpend))
	if p.MonthlyBudget > 0 {
		fmt.Fprintf(w, "  Remaining:           $%s\n", formatCost(p.Remaining()))
	}
}
