package review

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/governance"
	"github.com/dativo-io/steward/internal/testutil"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(filepath.Join(t.TempDir(), "review.db"), testutil.TestEncryptionKey)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func testItem(tenant string) *Item {
	return &Item{
		CorrelationID: "corr-1",
		TenantID:      tenant,
		AgentType:     "de-escalator",
		Reason:        "sacred content requires elder review",
		Escalations: []governance.EscalationRequest{
			{Target: governance.TargetElder, Urgency: governance.UrgencyImportant, Reason: "sacred content requires elder review", ContentID: "story-9"},
		},
		Response: &agentapi.Response{
			Success: true,
			Data:    "Aunty's words about the river",
			Metadata: agentapi.Metadata{
				AgentType:    "de-escalator",
				SafetyStatus: agentapi.StatusElderReviewRequired,
			},
		},
	}
}

func TestQueue_EnqueueGet(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testItem("acme"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "rev_"))

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "acme", got.TenantID)
	require.Len(t, got.Escalations, 1)
	assert.Equal(t, governance.TargetElder, got.Escalations[0].Target)
	require.NotNil(t, got.Response)
	assert.Equal(t, "Aunty's words about the river", got.Response.Data)
	assert.Nil(t, got.DecidedAt)

	_, err = q.Get(ctx, "rev_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_PayloadIsSealed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	id, err := q.Enqueue(ctx, testItem("acme"))
	require.NoError(t, err)

	var sealed string
	require.NoError(t, q.db.QueryRowContext(ctx, `SELECT sealed_payload FROM review_items WHERE id = ?`, id).Scan(&sealed))
	assert.NotContains(t, sealed, "river")

	other, err := NewQueue(filepath.Join(t.TempDir(), "other.db"), strings.Repeat("k", 32))
	require.NoError(t, err)
	defer other.Close()
	_, err = other.open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestQueue_Decisions(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	approveID, err := q.Enqueue(ctx, testItem("acme"))
	require.NoError(t, err)
	rejectID, err := q.Enqueue(ctx, testItem("acme"))
	require.NoError(t, err)

	require.NoError(t, q.Approve(ctx, approveID, "elder-mary", "fine to share"))
	require.NoError(t, q.Reject(ctx, rejectID, "elder-mary", "restricted knowledge"))

	got, err := q.Get(ctx, approveID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "elder-mary", got.DecidedBy)
	assert.Equal(t, "fine to share", got.Note)
	assert.NotNil(t, got.DecidedAt)

	got, err = q.Get(ctx, rejectID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)

	err = q.Approve(ctx, rejectID, "someone", "")
	assert.ErrorIs(t, err, ErrNotPending, "a decided item cannot be decided again")

	err = q.Reject(ctx, "rev_missing", "someone", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_ListPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	var ids []string
	for i, tenant := range []string{"acme", "other", "acme"} {
		q.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		id, err := q.Enqueue(ctx, testItem(tenant))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, q.Approve(ctx, ids[2], "r", ""))

	acme, err := q.ListPending(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, acme, 1)
	assert.Equal(t, ids[0], acme[0].ID)

	all, err := q.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ids[0], all[0].ID, "oldest first")
}

func TestQueue_ExpireOlderThan(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	q.now = func() time.Time { return start }
	oldID, err := q.Enqueue(ctx, testItem("acme"))
	require.NoError(t, err)
	q.now = func() time.Time { return start.Add(47 * time.Hour) }
	freshID, err := q.Enqueue(ctx, testItem("acme"))
	require.NoError(t, err)

	q.now = func() time.Time { return start.Add(72 * time.Hour) }
	n, err := q.ExpireOlderThan(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := q.Get(ctx, oldID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, old.Status)
	assert.Equal(t, "system", old.DecidedBy)

	fresh, err := q.Get(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fresh.Status)

	assert.ErrorIs(t, q.Approve(ctx, oldID, "late", ""), ErrNotPending)
}

func TestNewQueue_ShortKey(t *testing.T) {
	_, err := NewQueue(filepath.Join(t.TempDir(), "x.db"), "short")
	assert.Error(t, err)
}
