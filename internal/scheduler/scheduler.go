// Package scheduler fronts every outbound marketplace request with a shared
// token-bucket rate limit and a bounded retry policy. Retry decisions are
// made from the structured error kind on the failure, never from response
// wording.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"context"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond

	// rateLimitDelay is the fixed wait after an upstream 429. A short
	// constant resynchronizes with the upstream limiter faster than growing
	// backoff would.
	rateLimitDelay = time.Second
)

// Config holds scheduler parameters.
type Config struct {
	// RequestsPerSecond is the sustained admission rate shared by every
	// collection in the process.
	RequestsPerSecond float64

	// Burst is the token-bucket burst size. Defaults to twice the rate.
	Burst int

	// MaxRetries caps retry attempts per request. Defaults to 3.
	MaxRetries int

	// BaseDelay seeds the exponential backoff. Defaults to 500ms.
	BaseDelay time.Duration
}

// Scheduler admits requests at the configured rate and retries retryable
// failures with backoff.
type Scheduler struct {
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// New creates a Scheduler. A zero RequestsPerSecond falls back to 4 req/s.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps * 2)
		if burst < 1 {
			burst = 1
		}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &Scheduler{
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger.With(slog.String("component", "scheduler")),
	}
}

// Do runs fn under the rate limit, retrying retryable failures up to the
// configured cap. Non-retryable failures and exhausted retries surface the
// last error to the caller. Duplicate-offer conflicts are never retried here;
// the placement path owns the cancel-then-retry resolution.
func (s *Scheduler) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("scheduler: %s: rate limiter: %w", op, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		kind := domain.KindOf(lastErr)
		if !kind.Retryable() {
			return lastErr
		}
		if attempt == s.maxRetries {
			break
		}

		delay := s.backoff(kind, attempt)
		s.logger.Warn("request failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.String("kind", kind.String()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("scheduler: %s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("scheduler: %s: exhausted %d retries: %w", op, s.maxRetries, lastErr)
}

// backoff returns the wait before the next attempt: exponential from the base
// delay for transport and server failures, a fixed short delay after a 429.
func (s *Scheduler) backoff(kind domain.ErrorKind, attempt int) time.Duration {
	if kind == domain.KindRateLimited {
		return rateLimitDelay
	}
	return s.baseDelay << uint(attempt)
}
