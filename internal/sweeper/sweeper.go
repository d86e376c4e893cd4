// Package sweeper runs the periodic maintenance jobs the pipeline needs to
// stay live: recovering tasks whose lease expired and expiring review items
// past their deadline.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"quorum/internal/logging"
	"quorum/internal/queue"
	"quorum/internal/review"
)

// Config holds sweeper schedules in standard five-field cron syntax.
type Config struct {
	Enabled bool
	// RecoverSchedule drives queue lease recovery. Default: every minute.
	RecoverSchedule string
	// ExpireSchedule drives review expiry. Default: every five minutes.
	ExpireSchedule string
	// JobTimeout bounds each sweep pass.
	JobTimeout time.Duration
}

func (c *Config) defaults() {
	if c.RecoverSchedule == "" {
		c.RecoverSchedule = "* * * * *"
	}
	if c.ExpireSchedule == "" {
		c.ExpireSchedule = "*/5 * * * *"
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
}

// Sweeper owns the cron runner. Overlapping runs of the same job are
// skipped, not queued.
type Sweeper struct {
	cron     *cron.Cron
	tasks    *queue.Queue
	reviews  *review.Queue
	config   Config
	logger   logging.Logger
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a Sweeper over the task queue and review queue.
func New(cfg Config, tasks *queue.Queue, reviews *review.Queue, logger logging.Logger) *Sweeper {
	cfg.defaults()
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	runner := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Sweeper{
		cron:    runner,
		tasks:   tasks,
		reviews: reviews,
		config:  cfg,
		logger:  logging.OrNop(logger),
		stopped: make(chan struct{}),
	}
}

// Start registers both jobs and starts the cron runner. It stops itself
// when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("sweeper disabled by config")
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.RecoverSchedule, func() { s.recoverTimedOut(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.config.ExpireSchedule, func() { s.expireDueReviews(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("sweeper started (recover %q, expire %q)", s.config.RecoverSchedule, s.config.ExpireSchedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop drains running jobs and shuts the runner down. Safe to call twice.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		close(s.stopped)
		s.logger.Info("sweeper stopped")
	})
}

// Done is closed once Stop has fully drained.
func (s *Sweeper) Done() <-chan struct{} {
	return s.stopped
}

// RecoverTimedOutNow runs a single lease recovery pass outside the schedule.
func (s *Sweeper) RecoverTimedOutNow(ctx context.Context) (int, error) {
	return s.tasks.RecoverTimedOut(ctx, time.Now())
}

// ExpireDueReviewsNow runs a single review expiry pass outside the schedule.
func (s *Sweeper) ExpireDueReviewsNow(ctx context.Context) (int, error) {
	return s.reviews.ExpireDue(ctx, time.Now())
}

func (s *Sweeper) recoverTimedOut(ctx context.Context) {
	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	recovered, err := s.tasks.RecoverTimedOut(jobCtx, time.Now())
	if err != nil {
		s.logger.Error("sweeper: lease recovery failed: %v", err)
		return
	}
	if recovered > 0 {
		s.logger.Info("sweeper: recovered %d timed-out tasks", recovered)
	}
}

func (s *Sweeper) expireDueReviews(ctx context.Context) {
	if s.reviews == nil {
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	expired, err := s.reviews.ExpireDue(jobCtx, time.Now())
	if err != nil {
		s.logger.Error("sweeper: review expiry failed: %v", err)
		return
	}
	if expired > 0 {
		s.logger.Info("sweeper: expired %d overdue review items", expired)
	}
}
