// Package review holds responses that need a human decision before they are
// released: elder review escalations and recipes that always require a
// reviewer.
package review

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/cryptoutil"
	"github.com/dativo-io/steward/internal/governance"
	stewardotel "github.com/dativo-io/steward/internal/otel"
)

var tracer = stewardotel.Tracer("github.com/dativo-io/steward/internal/review")

var (
	ErrNotFound   = errors.New("review item not found")
	ErrNotPending = errors.New("review item is not pending")
	ErrDecrypt    = errors.New("review payload cannot be opened")
)

// Status is the lifecycle state of a review item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Item is one response awaiting a reviewer.
type Item struct {
	ID            string                         `json:"id"`
	CorrelationID string                         `json:"correlation_id"`
	TenantID      string                         `json:"tenant_id"`
	AgentType     string                         `json:"agent_type"`
	Reason        string                         `json:"reason"`
	Escalations   []governance.EscalationRequest `json:"escalations,omitempty"`
	Response      *agentapi.Response             `json:"response,omitempty"`
	Status        Status                         `json:"status"`
	CreatedAt     time.Time                      `json:"created_at"`
	DecidedBy     string                         `json:"decided_by,omitempty"`
	DecidedAt     *time.Time                     `json:"decided_at,omitempty"`
	Note          string                         `json:"note,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS review_items (
	id TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	reason TEXT NOT NULL,
	escalations_json TEXT NOT NULL,
	sealed_payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL,
	decided_by TEXT,
	decided_at DATETIME,
	note TEXT
);
CREATE INDEX IF NOT EXISTS idx_review_status ON review_items(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_review_created ON review_items(status, created_at);
`

// Queue persists review items in SQLite. Response payloads are sealed with
// secretbox because they may hold storyteller content.
type Queue struct {
	db  *sql.DB
	key *[32]byte
	now func() time.Time
}

// NewQueue opens (or creates) the queue database at dbPath.
func NewQueue(dbPath, key string) (*Queue, error) {
	k, err := cryptoutil.Key32(key)
	if err != nil {
		return nil, fmt.Errorf("review key: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening review database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating review_items table: %w", err)
	}
	return &Queue{db: db, key: k, now: time.Now}, nil
}

// Close releases the database connection.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue stores item as pending and returns its id.
func (q *Queue) Enqueue(ctx context.Context, item *Item) (string, error) {
	ctx, span := tracer.Start(ctx, "review.enqueue",
		trace.WithAttributes(
			stewardotel.TenantID.String(item.TenantID),
			stewardotel.AgentType.String(item.AgentType),
		))
	defer span.End()

	if item.ID == "" {
		item.ID = "rev_" + uuid.New().String()
	}
	item.Status = StatusPending
	item.CreatedAt = q.now().UTC()

	payload, err := json.Marshal(item.Response)
	if err != nil {
		return "", fmt.Errorf("marshaling review payload: %w", err)
	}
	sealed, err := q.seal(payload)
	if err != nil {
		return "", err
	}
	escalations, err := json.Marshal(item.Escalations)
	if err != nil {
		return "", fmt.Errorf("marshaling escalations: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO review_items (id, correlation_id, tenant_id, agent_type, reason, escalations_json, sealed_payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.CorrelationID, item.TenantID, item.AgentType, item.Reason,
		string(escalations), sealed, string(StatusPending), item.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("storing review item: %w", err)
	}
	span.SetAttributes(attribute.String("review.id", item.ID))
	log.Info().
		Str("review_id", item.ID).
		Str("correlation_id", item.CorrelationID).
		Str("tenant_id", item.TenantID).
		Str("agent_type", item.AgentType).
		Msg("review_enqueued")
	return item.ID, nil
}

const selectColumns = `id, correlation_id, tenant_id, agent_type, reason, escalations_json, sealed_payload, status, created_at, decided_by, decided_at, note`

// Get returns the item with its payload opened.
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM review_items WHERE id = ?`, id)
	item, err := q.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, err
}

// ListPending returns pending items, oldest first. An empty tenantID lists
// every tenant.
func (q *Queue) ListPending(ctx context.Context, tenantID string) ([]*Item, error) {
	query := `SELECT ` + selectColumns + ` FROM review_items WHERE status = 'pending'`
	var args []interface{}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending reviews: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := q.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Approve releases a pending item.
func (q *Queue) Approve(ctx context.Context, id, reviewer, note string) error {
	return q.decide(ctx, id, StatusApproved, reviewer, note)
}

// Reject withholds a pending item.
func (q *Queue) Reject(ctx context.Context, id, reviewer, note string) error {
	return q.decide(ctx, id, StatusRejected, reviewer, note)
}

// ExpireOlderThan marks pending items created before now-age as expired and
// returns how many changed.
func (q *Queue) ExpireOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	ctx, span := tracer.Start(ctx, "review.expire")
	defer span.End()

	now := q.now().UTC()
	res, err := q.db.ExecContext(ctx, `
		UPDATE review_items SET status = ?, decided_by = 'system', decided_at = ?
		WHERE status = 'pending' AND created_at < ?`,
		string(StatusExpired), now, now.Add(-age),
	)
	if err != nil {
		return 0, fmt.Errorf("expiring reviews: %w", err)
	}
	n, _ := res.RowsAffected()
	span.SetAttributes(attribute.Int64("review.expired", n))
	if n > 0 {
		log.Info().Int64("count", n).Dur("age", age).Msg("reviews_expired")
	}
	return n, nil
}

func (q *Queue) decide(ctx context.Context, id string, status Status, reviewer, note string) error {
	ctx, span := tracer.Start(ctx, "review.decide",
		trace.WithAttributes(
			attribute.String("review.id", id),
			attribute.String("review.status", string(status)),
		))
	defer span.End()

	res, err := q.db.ExecContext(ctx, `
		UPDATE review_items SET status = ?, decided_by = ?, decided_at = ?, note = ?
		WHERE id = ? AND status = 'pending'`,
		string(status), reviewer, q.now().UTC(), note, id,
	)
	if err != nil {
		return fmt.Errorf("updating review item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := q.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	log.Info().Str("review_id", id).Str("status", string(status)).Str("reviewer", reviewer).Msg("review_decided")
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (q *Queue) scan(s scanner) (*Item, error) {
	var (
		item                Item
		status, escalations string
		sealed              string
		decidedBy, note     sql.NullString
		decidedAt           sql.NullTime
	)
	err := s.Scan(&item.ID, &item.CorrelationID, &item.TenantID, &item.AgentType, &item.Reason,
		&escalations, &sealed, &status, &item.CreatedAt, &decidedBy, &decidedAt, &note)
	if err != nil {
		return nil, err
	}
	item.Status = Status(status)
	item.DecidedBy = decidedBy.String
	item.Note = note.String
	if decidedAt.Valid {
		t := decidedAt.Time
		item.DecidedAt = &t
	}
	if err := json.Unmarshal([]byte(escalations), &item.Escalations); err != nil {
		return nil, fmt.Errorf("unmarshaling escalations: %w", err)
	}
	payload, err := q.open(sealed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &item.Response); err != nil {
		return nil, fmt.Errorf("unmarshaling review payload: %w", err)
	}
	return &item, nil
}

func (q *Queue) seal(plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, q.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (q *Queue) open(sealed string) ([]byte, error) {
	box, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(box) < 24 {
		return nil, ErrDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plaintext, ok := secretbox.Open(nil, box[24:], &nonce, q.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
