// Package scheduler runs the periodic jobs: daily valuation, risk
// snapshots and synthetic price ingest.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/riskdesk/risk-engine/internal/metrics"
)

// Job is a scheduled unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler manages background jobs. Jobs receive the context given to
// New, so cancelling it stops in-flight work.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// New creates a scheduler whose cron specs include a seconds field.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		ctx:  ctx,
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// AddJob registers a job on a cron schedule, for example "0 30 23 * * *"
// or "@every 1m".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		_ = s.RunNow(job)
	})
	if err != nil {
		return err
	}
	slog.Info("job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	slog.Debug("running job", "job", job.Name())
	if err := job.Run(s.ctx); err != nil {
		metrics.JobRuns.WithLabelValues(job.Name(), "error").Inc()
		slog.Error("job failed", "job", job.Name(), "err", err)
		return err
	}
	metrics.JobRuns.WithLabelValues(job.Name(), "ok").Inc()
	slog.Debug("job completed", "job", job.Name())
	return nil
}
