package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultExpiry is how long a stored response stays replayable.
const DefaultExpiry = 24 * time.Hour

// DefaultCleanupInterval is how often RunPeriodicCleanup prunes old keys.
const DefaultCleanupInterval = time.Hour

// jobType labels the cleanup in centralized job metrics.
const jobType = "idempotency_cleanup"

// JobMetrics records background job outcomes. *jobs.Metrics satisfies it.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// CleanupConfig configures RunPeriodicCleanup. Zero values take defaults.
type CleanupConfig struct {
	Interval   time.Duration
	Expiry     time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
	JobMetrics JobMetrics
}

func (c *CleanupConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultCleanupInterval
	}
	if c.Expiry <= 0 {
		c.Expiry = DefaultExpiry
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// CleanupOldKeys removes records older than expiry and returns how many
// were deleted.
func CleanupOldKeys(ctx context.Context, repo Repository, expiry time.Duration, logger *slog.Logger) (int64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	deleted, err := repo.DeleteOlderThan(ctx, expiry)
	if err != nil {
		logger.ErrorContext(ctx, "failed to cleanup old idempotency keys", "error", err)
		return 0, err
	}
	if deleted > 0 {
		logger.InfoContext(ctx, "cleaned up old idempotency keys", "deleted", deleted, "older_than", expiry)
	}
	return deleted, nil
}

// RunPeriodicCleanup runs CleanupOldKeys immediately and then on every
// interval until ctx is cancelled. It blocks.
func RunPeriodicCleanup(ctx context.Context, repo Repository, cfg CleanupConfig) {
	cfg.setDefaults()
	ticker := cfg.Clock.Ticker(cfg.Interval)
	defer ticker.Stop()

	run := func() {
		start := cfg.Clock.Now()
		_, err := CleanupOldKeys(ctx, repo, cfg.Expiry, cfg.Logger)
		if cfg.JobMetrics == nil {
			return
		}
		status := "success"
		if err != nil {
			status = "failure"
			cfg.JobMetrics.IncJobErrors(jobType, "delete")
		}
		cfg.JobMetrics.IncJobsTotal(jobType, status)
		cfg.JobMetrics.ObserveJobDuration(jobType, cfg.Clock.Since(start).Seconds())
	}

	run()
	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			cfg.Logger.Info("stopping idempotency cleanup")
			return
		}
	}
}
