package trigger

import (
	"context"
	"time"
)

// Default maintenance schedules.
const (
	ReviewExpirySpec = "@every 15m"
	MonthlyResetSpec = "0 0 1 * *"
)

// ReviewExpirer expires stale review items.
type ReviewExpirer interface {
	ExpireOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// MonthlyResetter zeroes tenants' month-to-date spend.
type MonthlyResetter interface {
	ResetMonth(ctx context.Context) error
}

// ReviewExpiryJob expires pending reviews older than ttl.
func ReviewExpiryJob(expirer ReviewExpirer, ttl time.Duration) Job {
	return Job{
		Name: "review_expiry",
		Spec: ReviewExpirySpec,
		Run: func(ctx context.Context) error {
			_, err := expirer.ExpireOlderThan(ctx, ttl)
			return err
		},
	}
}

// MonthlyResetJob resets spend at 00:00 UTC on the first of each month.
func MonthlyResetJob(ledger MonthlyResetter) Job {
	return Job{
		Name: "monthly_spend_reset",
		Spec: MonthlyResetSpec,
		Run:  ledger.ResetMonth,
	}
}

// RegisterMaintenance registers the review expiry and monthly reset jobs.
// A nil collaborator skips its job.
func RegisterMaintenance(s *Scheduler, expirer ReviewExpirer, ttl time.Duration, ledger MonthlyResetter) error {
	if expirer != nil && ttl > 0 {
		if err := s.Register(ReviewExpiryJob(expirer, ttl)); err != nil {
			return err
		}
	}
	if ledger != nil {
		if err := s.Register(MonthlyResetJob(ledger)); err != nil {
			return err
		}
	}
	return nil
}
