// Package sweeper fails jobs that stayed in PROCESSING past a staleness bound,
// typically because the worker crashed mid-job.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/metrics"
	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

const (
	defaultInterval   = time.Minute
	defaultStaleAfter = 10 * time.Minute
)

// Config controls the sweep cadence.
type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// Sweeper periodically fails stuck jobs.
type Sweeper struct {
	jobs   scrape.JobStore
	clock  scrape.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Sweeper.
func New(jobs scrape.JobStore, clock scrape.Clock, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{jobs: jobs, clock: clock, cfg: cfg, logger: logger.Named("sweeper")}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("stuck job sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("stale_after", s.cfg.StaleAfter),
	)
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("stuck job sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep fails every PROCESSING job started before now minus StaleAfter.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	now := s.clock.Now()
	reason := fmt.Sprintf("Job stuck in PROCESSING for more than %s", s.cfg.StaleAfter)
	ids, err := s.jobs.FailStuckJobs(ctx, now.Add(-s.cfg.StaleAfter), now, reason)
	metrics.ObserveSweep(len(ids), err)
	if err != nil {
		return nil, fmt.Errorf("fail stuck jobs: %w", err)
	}
	for _, id := range ids {
		s.logger.Warn("failed stuck job", zap.String("job_id", id))
	}
	return ids, nil
}
