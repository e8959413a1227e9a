package scheduler

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic usage report.
type Scheduler struct {
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	schedule   string
	logger     *log.Logger
	reportFunc func(ctx context.Context) error
}

// New creates a scheduler for a cron schedule evaluated in UTC.
func New(schedule string, logger *log.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		ctx:      ctx,
		cancel:   cancel,
		schedule: schedule,
		logger:   logger.With("component", "scheduler"),
	}
}

// SetReportFunction sets the job run on every tick. Call it before Start.
func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

// Start registers the report job. An empty schedule or a missing report function
// leaves the scheduler idle.
func (s *Scheduler) Start() error {
	if s.reportFunc == nil || s.schedule == "" {
		s.logger.Warn("report schedule or function not set, reports disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, s.runReport)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.schedule)
	return nil
}

func (s *Scheduler) runReport() {
	s.logger.Info("generating usage report")
	if err := s.reportFunc(s.ctx); err != nil {
		s.logger.Error("usage report failed", "error", err)
	}
}

// Stop waits for a running report to finish, then cancels its context.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the report job is registered.
func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
