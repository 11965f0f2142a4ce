package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/steward/internal/agentapi"
	stewardotel "github.com/dativo-io/steward/internal/otel"
)

var tracer = stewardotel.Tracer("github.com/dativo-io/steward/internal/telemetry")

// ErrNotFound is returned when no row has the requested id.
var ErrNotFound = errors.New("telemetry row not found")

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS agent_runs (
	id TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	tenant_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	safety_status TEXT NOT NULL,
	success INTEGER NOT NULL,
	cost REAL NOT NULL DEFAULT 0,
	row_json TEXT NOT NULL,
	signature TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_runs_tenant ON agent_runs(tenant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_agent_runs_agent ON agent_runs(agent_type);
CREATE INDEX IF NOT EXISTS idx_agent_runs_correlation ON agent_runs(correlation_id);
`

// Store persists HMAC-signed rows in SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore opens (or creates) the telemetry database at dbPath.
func NewStore(dbPath, signingKey string) (*Store, error) {
	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening telemetry database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating telemetry schema: %w", err)
	}
	return &Store{db: db, signer: signer}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write signs row and stores it. The row's Signature field is set.
func (s *Store) Write(ctx context.Context, row *Row) error {
	ctx, span := tracer.Start(ctx, "telemetry.store",
		trace.WithAttributes(
			attribute.String("telemetry.id", row.ID),
			stewardotel.TenantID.String(row.TenantID),
			stewardotel.AgentType.String(row.AgentType),
		))
	defer span.End()

	row.Timestamp = row.Timestamp.UTC()
	row.Signature = ""
	unsigned, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshaling row: %w", err)
	}
	row.Signature = s.signer.Sign(unsigned)
	signed, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshaling signed row: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (id, correlation_id, timestamp, tenant_id, agent_type, safety_status, success, cost, row_json, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.CorrelationID, row.Timestamp, row.TenantID, row.AgentType,
		string(row.SafetyStatus), row.Success, row.EstimatedCost, string(signed), row.Signature,
	)
	if err != nil {
		return fmt.Errorf("storing row: %w", err)
	}
	return nil
}

// Get retrieves a row by id.
func (s *Store) Get(ctx context.Context, id string) (*Row, error) {
	ctx, span := tracer.Start(ctx, "telemetry.get",
		trace.WithAttributes(attribute.String("telemetry.id", id)))
	defer span.End()

	var rowJSON string
	err := s.db.QueryRowContext(ctx, `SELECT row_json FROM agent_runs WHERE id = ?`, id).Scan(&rowJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying row: %w", err)
	}
	var row Row
	if err := json.Unmarshal([]byte(rowJSON), &row); err != nil {
		return nil, fmt.Errorf("unmarshaling row: %w", err)
	}
	return &row, nil
}

// Filter narrows List. Zero fields are ignored.
type Filter struct {
	TenantID     string
	AgentType    string
	SafetyStatus agentapi.SafetyStatus
	From         time.Time
	To           time.Time
	Limit        int
}

// List returns rows matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "telemetry.list",
		trace.WithAttributes(
			stewardotel.TenantID.String(f.TenantID),
			stewardotel.AgentType.String(f.AgentType),
		))
	defer span.End()

	query := `SELECT row_json FROM agent_runs WHERE 1=1`
	var args []interface{}
	if f.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, f.TenantID)
	}
	if f.AgentType != "" {
		query += ` AND agent_type = ?`
		args = append(args, f.AgentType)
	}
	if f.SafetyStatus != "" {
		query += ` AND safety_status = ?`
		args = append(args, string(f.SafetyStatus))
	}
	if !f.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, f.To.UTC())
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var rowJSON string
		if err := rows.Scan(&rowJSON); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		var r Row
		if err := json.Unmarshal([]byte(rowJSON), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	span.SetAttributes(attribute.Int("telemetry.count", len(out)))
	return out, rows.Err()
}

// Verify checks the signature of the row with the given id.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "telemetry.verify",
		trace.WithAttributes(attribute.String("telemetry.id", id)))
	defer span.End()

	row, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	signature := row.Signature
	row.Signature = ""
	unsigned, err := json.Marshal(row)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}
	ok := s.signer.Verify(unsigned, signature)
	span.SetAttributes(attribute.Bool("telemetry.valid", ok))
	return ok, nil
}

// CostTotal sums estimated cost for the tenant in [from, to). An empty
// agentType sums across agents; zero times leave the range open.
func (s *Store) CostTotal(ctx context.Context, tenantID, agentType string, from, to time.Time) (float64, error) {
	ctx, span := tracer.Start(ctx, "telemetry.cost_total",
		trace.WithAttributes(stewardotel.TenantID.String(tenantID)))
	defer span.End()

	query, args := costQuery(`SELECT COALESCE(SUM(cost), 0) FROM agent_runs WHERE tenant_id = ?`, tenantID, from, to)
	if agentType != "" {
		query += ` AND agent_type = ?`
		args = append(args, agentType)
	}
	var total float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("querying cost total: %w", err)
	}
	span.SetAttributes(attribute.Float64("cost_total", total))
	return total, nil
}

// CostByAgent returns cost per agent type for the tenant in [from, to).
func (s *Store) CostByAgent(ctx context.Context, tenantID string, from, to time.Time) (map[string]float64, error) {
	ctx, span := tracer.Start(ctx, "telemetry.cost_by_agent",
		trace.WithAttributes(stewardotel.TenantID.String(tenantID)))
	defer span.End()

	query, args := costQuery(`SELECT agent_type, SUM(cost) FROM agent_runs WHERE tenant_id = ?`, tenantID, from, to)
	query += ` GROUP BY agent_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cost by agent: %w", err)
	}
	defer rows.Close()

	byAgent := make(map[string]float64)
	for rows.Next() {
		var agent string
		var sum float64
		if err := rows.Scan(&agent, &sum); err != nil {
			return nil, fmt.Errorf("scanning cost by agent: %w", err)
		}
		byAgent[agent] = sum
	}
	span.SetAttributes(attribute.Int("agent_count", len(byAgent)))
	return byAgent, rows.Err()
}

func costQuery(base, tenantID string, from, to time.Time) (string, []interface{}) {
	args := []interface{}{tenantID}
	if !from.IsZero() {
		base += ` AND timestamp >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		base += ` AND timestamp < ?`
		args = append(args, to.UTC())
	}
	return base, args
}
