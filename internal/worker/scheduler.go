package worker

import (
	"context"
	"fmt"
	"time"

	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/logger"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Job is a periodic background task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

// Scheduler runs jobs on fixed intervals until its context is cancelled.
// A failing run is logged and retried on the next tick.
type Scheduler struct {
	jobs []Job
	log  zerolog.Logger
	now  func() time.Time
}

// NewScheduler creates a scheduler with no jobs.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		log: logger.Component(log, "scheduler"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// NewSettlementScheduler wires the quote expiry sweep and trade timeout jobs.
// Both services log their own counts.
func NewSettlementScheduler(quotes ports.QuoteService, trades ports.TradeService, interval time.Duration, log zerolog.Logger) *Scheduler {
	s := NewScheduler(log)
	s.Add(Job{
		Name:     "quote_expiry_sweep",
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := quotes.SweepExpired(ctx, now)
			return err
		},
	})
	s.Add(Job{
		Name:     "trade_timeouts",
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			res, err := trades.ProcessTimeouts(ctx, now)
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d trade timeouts failed", res.Failed)
			}
			return nil
		},
	})
	return s
}

// Add registers a job. Jobs with a non-positive interval are ignored.
func (s *Scheduler) Add(job Job) {
	if job.Interval <= 0 {
		s.log.Warn().Str("job", job.Name).Msg("job disabled: non-positive interval")
		return
	}
	s.jobs = append(s.jobs, job)
}

// Jobs returns the names of registered jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Run blocks until ctx is cancelled. Each job runs once at start and then on
// every tick; runs of the same job never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.loop(gctx, job)
			return nil
		})
	}
	s.log.Info().Strs("jobs", s.Jobs()).Msg("scheduler started")
	err := g.Wait()
	s.log.Info().Msg("scheduler stopped")
	return err
}

// RunOnce runs every job a single time, returning the first error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var first error
	for _, job := range s.jobs {
		if err := s.runJob(ctx, job); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	_ = s.runJob(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.runJob(ctx, job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	start := time.Now()
	err := job.Run(ctx, s.now())
	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name).Dur("took", time.Since(start)).Msg("job failed")
		return fmt.Errorf("%s: %w", job.Name, err)
	}
	s.log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job completed")
	return nil
}
