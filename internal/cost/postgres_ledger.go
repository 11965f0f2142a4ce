package cost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSchema creates the tenant policy table. It is applied by
// NewPostgresLedgerFromDSN and exported for migrations.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS tenant_budgets (
	tenant_id TEXT PRIMARY KEY,
	max_cost_per_request NUMERIC(12,6) NOT NULL DEFAULT 0,
	monthly_budget_usd NUMERIC(12,6) NOT NULL DEFAULT 0,
	current_month_spend NUMERIC(12,6) NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresLedger stores budgets in the shared relational policy store.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger wraps an existing connection pool.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// NewPostgresLedgerFromDSN connects, pings and applies the schema.
func NewPostgresLedgerFromDSN(ctx context.Context, dsn string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, PostgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create budget schema: %w", err)
	}
	return NewPostgresLedger(db), nil
}

func (l *PostgresLedger) Policy(ctx context.Context, tenantID string) (Policy, error) {
	p := Policy{TenantID: tenantID}
	err := l.db.QueryRowContext(ctx, `
		SELECT max_cost_per_request, monthly_budget_usd, current_month_spend
		FROM tenant_budgets
		WHERE tenant_id = $1`, tenantID,
	).Scan(&p.MaxCostPerRequest, &p.MonthlyBudget, &p.CurrentMonthSpend)
	if errors.Is(err, sql.ErrNoRows) {
		return UnlimitedPolicy(tenantID), nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("failed to get budget: %w", err)
	}
	return p, nil
}

// Reserve runs a conditional UPDATE ... RETURNING, which Postgres executes
// atomically under row lock.
func (l *PostgresLedger) Reserve(ctx context.Context, tenantID string, amount float64) (Policy, error) {
	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO tenant_budgets (tenant_id) VALUES ($1)
		ON CONFLICT (tenant_id) DO NOTHING`, tenantID); err != nil {
		return Policy{}, fmt.Errorf("failed to ensure budget row: %w", err)
	}

	p := Policy{TenantID: tenantID}
	err := l.db.QueryRowContext(ctx, `
		UPDATE tenant_budgets
		SET current_month_spend = current_month_spend + $2, updated_at = NOW()
		WHERE tenant_id = $1
		  AND (max_cost_per_request <= 0 OR $2 <= max_cost_per_request)
		  AND (monthly_budget_usd <= 0 OR current_month_spend + $2 <= monthly_budget_usd)
		RETURNING max_cost_per_request, monthly_budget_usd, current_month_spend`,
		tenantID, amount,
	).Scan(&p.MaxCostPerRequest, &p.MonthlyBudget, &p.CurrentMonthSpend)
	if errors.Is(err, sql.ErrNoRows) {
		current, perr := l.Policy(ctx, tenantID)
		if perr != nil {
			return Policy{}, perr
		}
		return current, ErrBudgetExceeded
	}
	if err != nil {
		return Policy{}, fmt.Errorf("failed to reserve budget: %w", err)
	}
	return p, nil
}

func (l *PostgresLedger) Adjust(ctx context.Context, tenantID string, delta float64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO tenant_budgets (tenant_id, current_month_spend) VALUES ($1, GREATEST(0, $2::NUMERIC))
		ON CONFLICT (tenant_id) DO UPDATE SET
			current_month_spend = GREATEST(0, tenant_budgets.current_month_spend + $2::NUMERIC),
			updated_at = NOW()`, tenantID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust budget: %w", err)
	}
	return nil
}

func (l *PostgresLedger) SetPolicy(ctx context.Context, p Policy) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO tenant_budgets (tenant_id, max_cost_per_request, monthly_budget_usd)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			max_cost_per_request = EXCLUDED.max_cost_per_request,
			monthly_budget_usd = EXCLUDED.monthly_budget_usd,
			updated_at = NOW()`,
		p.TenantID, p.MaxCostPerRequest, p.MonthlyBudget)
	if err != nil {
		return fmt.Errorf("failed to set budget: %w", err)
	}
	return nil
}

func (l *PostgresLedger) ResetMonth(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx,
		`UPDATE tenant_budgets SET current_month_spend = 0, updated_at = NOW()`); err != nil {
		return fmt.Errorf("failed to reset monthly spend: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
