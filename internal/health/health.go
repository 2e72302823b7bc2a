// Package health provides readiness checks for the stores promorank depends on.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds a single dependency check.
const DefaultTimeout = 2 * time.Second

// ErrNotConfigured is returned by checks whose dependency was never wired.
var ErrNotConfigured = errors.New("dependency not configured")

// Checker reports whether a dependency can serve traffic.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// Result is the outcome of one named check.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// OK reports whether the check passed.
func (r Result) OK() bool { return r.Err == nil }

// RunAll runs every checker concurrently, each bounded by timeout, and
// returns results keyed by name. A nil checker is reported as passing so
// in-memory deployments stay ready.
func RunAll(ctx context.Context, checkers map[string]Checker, timeout time.Duration) map[string]Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Result, len(checkers))
	)
	for name, c := range checkers {
		if c == nil {
			results[name] = Result{Name: name}
			continue
		}
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := c.HealthCheck(cctx)
			if err != nil {
				err = fmt.Errorf("%s: %w", name, err)
			}

			mu.Lock()
			results[name] = Result{Name: name, Err: err, Duration: time.Since(start)}
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()
	return results
}
