// Package ratelimit implements a token bucket admission gate for upstream requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/issuedata/harvester/internal/metrics"
)

// Limiter bounds the outbound request rate with a token bucket. The bucket
// starts full, refills continuously at the configured rate, and never holds
// more than one second's worth of tokens.
type Limiter struct {
	bucket *rate.Limiter
}

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained admission rate in requests per second. Values <= 0
	// disable limiting entirely.
	RPS int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	burst := cfg.RPS
	if cfg.RPS <= 0 {
		r = rate.Inf
		burst = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(r, burst),
	}
}

// Acquire blocks until one token is available, then consumes it. It never
// rejects; the only error path is context cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Measuring the whole Wait call is a good proxy for the delay introduced
	// by the limiter; an immediately available token observes ~0.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}
