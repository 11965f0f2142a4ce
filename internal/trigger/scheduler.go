// Package trigger runs the gateway's periodic maintenance jobs on a cron
// schedule.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 5 * time.Minute

// Job is one scheduled task.
type Job struct {
	Name string
	// Spec is a standard 5-field cron expression or a descriptor such as
	// "@every 15m".
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs registered jobs.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// NewScheduler creates a scheduler. Schedules are evaluated in UTC so the
// monthly reset happens at the same instant for every tenant.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		timeout: DefaultJobTimeout,
	}
}

// Register adds job to the schedule.
func (s *Scheduler) Register(job Job) error {
	_, err := s.cron.AddFunc(job.Spec, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("registering cron %q for job %s: %w", job.Spec, job.Name, err)
	}
	return nil
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	log.Info().Str("job", job.Name).Msg("scheduled_job_fired")
	if err := job.Run(ctx); err != nil {
		log.Error().Err(err).Str("job", job.Name).Msg("scheduled_job_failed")
		return
	}
	log.Info().Str("job", job.Name).Dur("duration", time.Since(start)).Msg("scheduled_job_completed")
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
