package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSchema creates the shared usage table read by the reporting side.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS agent_usage_events (
	id TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	agent_type TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	estimated_cost NUMERIC(12,6) NOT NULL DEFAULT 0,
	safety_status TEXT NOT NULL,
	consent_verified BOOLEAN NOT NULL DEFAULT FALSE,
	project_id TEXT,
	story_id TEXT,
	eval_score DOUBLE PRECISION,
	flags_json JSONB NOT NULL DEFAULT '[]',
	success BOOLEAN NOT NULL,
	error_message TEXT,
	signature TEXT NOT NULL DEFAULT ''
)`

// PostgresSink mirrors rows into the shared relational audit store.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps an existing connection pool.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// NewPostgresSinkFromDSN connects, pings and applies the schema.
func NewPostgresSinkFromDSN(ctx context.Context, dsn string) (*PostgresSink, error) {
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
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return NewPostgresSink(db), nil
}

// Write inserts row. A row already present is left untouched.
func (p *PostgresSink) Write(ctx context.Context, row *Row) error {
	flags := []byte("[]")
	if len(row.Flags) > 0 {
		b, err := json.Marshal(row.Flags)
		if err != nil {
			return fmt.Errorf("marshaling flags: %w", err)
		}
		flags = b
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agent_usage_events (
			id, correlation_id, created_at, tenant_id, user_id, agent_type, model,
			input_tokens, output_tokens, duration_ms, estimated_cost, safety_status,
			consent_verified, project_id, story_id, eval_score, flags_json, success,
			error_message, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO NOTHING`,
		row.ID, row.CorrelationID, row.Timestamp, row.TenantID, row.UserID, row.AgentType, row.Model,
		row.InputTokens, row.OutputTokens, row.DurationMS, row.EstimatedCost, string(row.SafetyStatus),
		row.ConsentVerified, nullString(row.ProjectID), nullString(row.StoryID), nullFloat(row.EvalScore),
		string(flags), row.Success, nullString(row.Error), row.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresSink) Close() error {
	return p.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
