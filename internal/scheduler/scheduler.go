// Package scheduler runs recurring maintenance jobs: cache sweeps and
// assessment retention.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/apexrad/periscan/pkg/logger"
)

// Job is a named unit of recurring work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger logger.Logger
}

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithLogger sets a custom logger for the scheduler.
func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.logger = log
		}
	}
}

// New creates a scheduler. Schedules use the standard five-field cron syntax
// plus the @every and @hourly shorthands.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:   cron.New(),
		logger: logger.Get().Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job on the given cron schedule.
func (s *Scheduler) Add(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx := context.Background()
		if err := job.Run(ctx); err != nil {
			s.logger.Error(ctx, "scheduled job failed",
				logger.String("job", job.Name()),
				logger.Error(err),
			)
			return
		}
		s.logger.Debug(ctx, "scheduled job completed", logger.String("job", job.Name()))
	})
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name(), err)
	}

	s.logger.Info(context.Background(), "job registered",
		logger.String("job", job.Name()),
		logger.String("schedule", schedule),
	)
	return nil
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info(context.Background(), "scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info(context.Background(), "scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.logger.Info(ctx, "running job immediately", logger.String("job", job.Name()))
	return job.Run(ctx)
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Run executes the wrapped function.
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Name returns the job name.
func (j JobFunc) Name() string { return j.JobName }
