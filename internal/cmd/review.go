package cmd

import (
	"context"
	"fmt"
	"io"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/steward/internal/review"
)

var (
	reviewTenant   string
	reviewReviewer string
	reviewNote     string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the queue of responses awaiting human or elder review",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending reviews, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		q, err := openReviewQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		items, err := q.ListPending(ctx, reviewTenant)
		if err != nil {
			return fmt.Errorf("listing reviews: %w", err)
		}
		renderReviewList(cmd.OutOrStdout(), items, time.Now())
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve [review-id]",
	Short: "Approve a pending review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideReview(cmd, args[0], review.StatusApproved)
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject [review-id]",
	Short: "Reject a pending review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideReview(cmd, args[0], review.StatusRejected)
	},
}

func init() {
	reviewListCmd.Flags().StringVar(&reviewTenant, "tenant", "", "tenant ID")
	_ = reviewListCmd.MarkFlagRequired("tenant")
	for _, c := range []*cobra.Command{reviewApproveCmd, reviewRejectCmd} {
		c.Flags().StringVar(&reviewReviewer, "reviewer", "", "reviewer recorded on the decision (default: OS user)")
		c.Flags().StringVar(&reviewNote, "note", "", "note recorded on the decision")
	}

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	rootCmd.AddCommand(reviewCmd)
}

func openReviewQueue() (*review.Queue, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	q, err := review.NewQueue(cfg.ReviewDBPath(), cfg.ReviewKey)
	if err != nil {
		return nil, fmt.Errorf("opening review queue: %w", err)
	}
	return q, nil
}

func decideReview(cmd *cobra.Command, id string, status review.Status) error {
	ctx, span := tracer.Start(cmd.Context(), "review."+string(status))
	defer span.End()

	q, err := openReviewQueue()
	if err != nil {
		return err
	}
	defer q.Close()

	reviewer := reviewerName()
	if status == review.StatusApproved {
		err = q.Approve(ctx, id, reviewer, reviewNote)
	} else {
		err = q.Reject(ctx, id, reviewer, reviewNote)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Review %s %s by %s\n", id, status, reviewer)
	return nil
}

func reviewerName() string {
	if reviewReviewer != "" {
		return reviewReviewer
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

// renderReviewList writes pending items to w.
func renderReviewList(w io.Writer, items []*review.Item, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No pending reviews.")
		return
	}
	fmt.Fprintf(w, "Pending reviews (%d):\n\n", len(items))
	for _, it := range items {
		targets := make([]string, 0, len(it.Escalations))
		for _, e := range it.Escalations {
			targets = append(targets, fmt.Sprintf("%s/%s", e.Target, e.Urgency))
		}
		escalated := ""
		if len(targets) > 0 {
			escalated = " -> " + strings.Join(targets, ", ")
		}
		fmt.Fprintf(w, "  %s | %s | %s | %s%s\n",
			it.ID,
			it.AgentType,
			formatAge(it.CreatedAt, now),
			it.Reason,
			escalated,
		)
	}
}
