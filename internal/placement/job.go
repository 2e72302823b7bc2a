package placement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/onnwee/promorank/internal/jobs"
)

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// DefaultSweepInterval is the default interval between sweep cycles.
const DefaultSweepInterval = 60 * time.Second

// DefaultSweepTimeout is the default timeout for a single sweep cycle.
const DefaultSweepTimeout = 30 * time.Second

// SweepJobConfig configures the expiry sweep job.
type SweepJobConfig struct {
	// Interval is the duration between sweep cycles.
	Interval time.Duration
	// Timeout for each sweep cycle.
	Timeout time.Duration
	// Clock drives the ticker and the expiry predicate.
	Clock      clock.Clock
	Logger     *slog.Logger
	Metrics    *Metrics
	JobMetrics JobMetrics
}

// SweepJob periodically stamps elapsed placements as expired so operators can
// see when a window closed. Ranking reads never depend on it having run.
type SweepJob struct {
	config SweepJobConfig
	store  Store

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweepJob creates a new expiry sweep job over store.
func NewSweepJob(config SweepJobConfig, store Store) *SweepJob {
	if config.Interval == 0 {
		config.Interval = DefaultSweepInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultSweepTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &SweepJob{
		config: config,
		store:  store,
	}
}

// Start begins the periodic sweep.
// Returns immediately; the job runs in a background goroutine.
func (j *SweepJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	j.stopCh = stopCh
	j.doneCh = doneCh
	j.mu.Unlock()

	go j.run(ctx, stopCh, doneCh)
	return nil
}

// Stop signals the sweep to stop and waits for it to finish.
func (j *SweepJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh
	j.finished(doneCh)
}

// finished clears the running flag unless a newer run has already started.
func (j *SweepJob) finished(doneCh chan struct{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.doneCh == doneCh {
		j.running = false
	}
}

// IsRunning returns whether the job is currently running.
func (j *SweepJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *SweepJob) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := j.config.Clock.Ticker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("expiry sweep job stopping due to context cancellation")
			j.finished(doneCh)
			return
		case <-stopCh:
			j.config.Logger.Info("expiry sweep job stopping due to stop signal")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// SweepNow runs one sweep cycle immediately and returns the number of
// placements newly marked expired.
func (j *SweepJob) SweepNow(ctx context.Context) int {
	return j.sweep(ctx)
}

func (j *SweepJob) sweep(parentCtx context.Context) int {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	start := j.config.Clock.Now()
	status := "success"
	marked := 0

	scopes, err := j.store.Scopes(ctx)
	if err != nil {
		j.config.Logger.Error("expiry sweep failed to list scopes", "error", err)
		j.recordError("list_scopes")
		j.finish(start, "failure", 0, 0)
		return 0
	}

	for i, scope := range scopes {
		if ctx.Err() != nil {
			j.config.Logger.Error("expiry sweep timeout exceeded",
				"processed", i,
				"total", len(scopes),
				"timeout", j.config.Timeout)
			j.recordError("timeout")
			status = "failure"
			break
		}

		n, err := j.store.MarkExpired(ctx, scope, j.config.Clock.Now())
		if err != nil {
			j.config.Logger.Error("failed to mark expired placements",
				"scope", scope,
				"error", err)
			j.recordError("mark_expired")
			status = "failure"
			continue
		}
		if n > 0 {
			j.config.Logger.Debug("placements marked expired",
				"scope", scope,
				"count", n)
		}
		marked += n
	}

	j.finish(start, status, marked, len(scopes))
	return marked
}

func (j *SweepJob) recordError(errorType string) {
	if j.config.Metrics != nil {
		j.config.Metrics.IncSweepErrors()
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobErrors(jobs.JobTypeExpirySweep, errorType)
	}
}

func (j *SweepJob) finish(start time.Time, status string, marked, scopes int) {
	now := j.config.Clock.Now()
	duration := now.Sub(start).Seconds()

	if j.config.Metrics != nil {
		j.config.Metrics.IncSweepTotal()
		j.config.Metrics.ObserveSweepDuration(duration)
		j.config.Metrics.AddExpiredMarked(marked)
		j.config.Metrics.SetLastSweepTimestamp(float64(now.Unix()))
		j.config.Metrics.SetLastSweepScopeCount(float64(scopes))
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeExpirySweep, status)
		j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeExpirySweep, duration)
	}

	j.config.Logger.Info("expiry sweep completed",
		"duration_seconds", duration,
		"status", status,
		"scopes", scopes,
		"expired_marked", marked)
}
