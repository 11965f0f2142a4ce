package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/governance"
	"github.com/dativo-io/steward/internal/review"
)

// useDataDir points the CLI at a fresh data directory with derived keys.
func useDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STEWARD_DATA_DIR", dir)
	t.Setenv("STEWARD_SIGNING_KEY", "")
	t.Setenv("STEWARD_REVIEW_KEY", "")
	t.Setenv("STEWARD_BUDGET_LEDGER", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func enqueueReview(t *testing.T, tenantID string) string {
	t.Helper()
	q, err := openReviewQueue()
	require.NoError(t, err)
	defer q.Close()
	id, err := q.Enqueue(context.Background(), &review.Item{
		CorrelationID: "corr-1",
		TenantID:      tenantID,
		AgentType:     "story-summarizer",
		Reason:        "sacred content",
		Escalations:   []governance.EscalationRequest{{Target: governance.TargetElder, Urgency: governance.UrgencyImportant}},
		Response:      &agentapi.Response{Success: true, Data: "summary"},
	})
	require.NoError(t, err)
	return id
}

func TestReviewCmd_ListAndApprove(t *testing.T) {
	useDataDir(t)
	id := enqueueReview(t, "acme")

	out, err := execute(t, "review", "list", "--tenant", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending reviews (1)")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "-> elder/important")

	out, err = execute(t, "review", "list", "--tenant", "globex")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending reviews.")

	out, err = execute(t, "review", "approve", id, "--reviewer", "elder-1", "--note", "ok to share")
	require.NoError(t, err)
	assert.Contains(t, out, "approved by elder-1")

	q, err := openReviewQueue()
	require.NoError(t, err)
	defer q.Close()
	item, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, review.StatusApproved, item.Status)
	assert.Equal(t, "elder-1", item.DecidedBy)
	assert.Equal(t, "ok to share", item.Note)

	_, err = execute(t, "review", "reject", id, "--reviewer", "elder-1", "--note", "")
	assert.ErrorIs(t, err, review.ErrNotPending)
}

func TestReviewerName(t *testing.T) {
	prev := reviewReviewer
	t.Cleanup(func() { reviewReviewer = prev })

	reviewReviewer = "elder-2"
	assert.Equal(t, "elder-2", reviewerName())

	reviewReviewer = ""
	assert.Contains(t, reviewerName(), "cli")
}

func TestRenderReviewList(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderReviewList(&buf, []*review.Item{
		{ID: "rev_1", AgentType: "grant-writer", Reason: "human in loop", CreatedAt: now.Add(-3 * time.Minute)},
	}, now)
	out := buf.String()
	assert.Contains(t, out, "rev_1 | grant-writer | 3m0s ago | human in loop")
	assert.NotContains(t, out, "->")

	buf.Reset()
	renderReviewList(&buf, nil, now)
	assert.Equal(t, "No pending reviews.\n", buf.String())
}
