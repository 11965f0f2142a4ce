package cost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tenant_budgets (
	tenant_id TEXT PRIMARY KEY,
	max_cost_per_request REAL NOT NULL DEFAULT 0,
	monthly_budget_usd REAL NOT NULL DEFAULT 0,
	current_month_spend REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteLedger stores budgets in a local SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) the ledger database at dbPath.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening budget database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating budget schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Policy(ctx context.Context, tenantID string) (Policy, error) {
	p := Policy{TenantID: tenantID}
	err := l.db.QueryRowContext(ctx,
		`SELECT max_cost_per_request, monthly_budget_usd, current_month_spend FROM tenant_budgets WHERE tenant_id = ?`,
		tenantID,
	).Scan(&p.MaxCostPerRequest, &p.MonthlyBudget, &p.CurrentMonthSpend)
	if errors.Is(err, sql.ErrNoRows) {
		return UnlimitedPolicy(tenantID), nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("reading budget for %s: %w", tenantID, err)
	}
	return p, nil
}

func (l *SQLiteLedger) Reserve(ctx context.Context, tenantID string, amount float64) (Policy, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Policy{}, fmt.Errorf("beginning reservation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenant_budgets (tenant_id) VALUES (?) ON CONFLICT(tenant_id) DO NOTHING`, tenantID,
	); err != nil {
		return Policy{}, fmt.Errorf("ensuring budget row: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tenant_budgets
		SET current_month_spend = current_month_spend + ?, updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ?
		  AND (max_cost_per_request <= 0 OR ? <= max_cost_per_request)
		  AND (monthly_budget_usd <= 0 OR current_month_spend + ? <= monthly_budget_usd)`,
		amount, tenantID, amount, amount,
	)
	if err != nil {
		return Policy{}, fmt.Errorf("reserving budget: %w", err)
	}

	p := Policy{TenantID: tenantID}
	if err := tx.QueryRowContext(ctx,
		`SELECT max_cost_per_request, monthly_budget_usd, current_month_spend FROM tenant_budgets WHERE tenant_id = ?`,
		tenantID,
	).Scan(&p.MaxCostPerRequest, &p.MonthlyBudget, &p.CurrentMonthSpend); err != nil {
		return Policy{}, fmt.Errorf("reading budget after reservation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Policy{}, fmt.Errorf("reserving budget: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Policy{}, fmt.Errorf("committing reservation: %w", err)
	}
	if n == 0 {
		return p, ErrBudgetExceeded
	}
	return p, nil
}

func (l *SQLiteLedger) Adjust(ctx context.Context, tenantID string, delta float64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO tenant_budgets (tenant_id, current_month_spend) VALUES (?, MAX(0, ?))
		ON CONFLICT(tenant_id) DO UPDATE SET
			current_month_spend = MAX(0, current_month_spend + ?),
			updated_at = CURRENT_TIMESTAMP`, tenantID, delta, delta)
	if err != nil {
		return fmt.Errorf("adjusting budget for %s: %w", tenantID, err)
	}
	return nil
}

func (l *SQLiteLedger) SetPolicy(ctx context.Context, p Policy) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO tenant_budgets (tenant_id, max_cost_per_request, monthly_budget_usd)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			max_cost_per_request = excluded.max_cost_per_request,
			monthly_budget_usd = excluded.monthly_budget_usd,
			updated_at = CURRENT_TIMESTAMP`,
		p.TenantID, p.MaxCostPerRequest, p.MonthlyBudget)
	if err != nil {
		return fmt.Errorf("setting budget for %s: %w", p.TenantID, err)
	}
	return nil
}

func (l *SQLiteLedger) ResetMonth(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx,
		`UPDATE tenant_budgets SET current_month_spend = 0, updated_at = CURRENT_TIMESTAMP`); err != nil {
		return fmt.Errorf("resetting monthly spend: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
