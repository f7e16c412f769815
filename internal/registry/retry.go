package registry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
)

// Backoff defaults for transient query failures
const (
	DefaultAttempts       = 5
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	backoffFactor         = 2
)

// RetryConfig tunes the poll primitive
type RetryConfig struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Retrying wraps a Registry so that Query survives transient failures.
// Submit and Remove pass through untouched: a failed submit is a per-item
// error and must not be sent twice.
type Retrying struct {
	Registry
	config RetryConfig
}

// NewRetrying creates the poll primitive, filling zero config values with defaults
func NewRetrying(reg Registry, cfg RetryConfig) *Retrying {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	return &Retrying{Registry: reg, config: cfg}
}

// Backoff returns the delay before retry number attempt (0-based)
func (r *Retrying) Backoff(attempt int) time.Duration {
	delay := r.config.InitialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > r.config.MaxBackoff {
			return r.config.MaxBackoff
		}
	}
	return delay
}

// Query retries the wrapped Query with exponential backoff
func (r *Retrying) Query(ctx context.Context, batch domain.BatchID, statuses ...domain.JobStatus) ([]domain.JobRecord, error) {
	var lastErr error
	for attempt := 0; attempt < r.config.Attempts; attempt++ {
		recs, err := r.Registry.Query(ctx, batch, statuses...)
		if err == nil {
			return recs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if attempt == r.config.Attempts-1 {
			break
		}

		delay := r.Backoff(attempt)
		log.Printf("[registry] query for %s failed: %v, retrying in %v", batch, err, delay)
		if err := Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("query %s after %d attempts: %w", batch, r.config.Attempts, lastErr)
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
