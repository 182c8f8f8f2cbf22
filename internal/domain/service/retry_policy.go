package service

import (
	"context"
	"time"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

// Default retry settings
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = time.Minute
)

// RetryPolicy is a domain service that decides whether and when a failed
// operation is attempted again. Delays double per attempt up to MaxBackoff.
type RetryPolicy struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRetryPolicy creates a RetryPolicy. Non-positive values use the defaults.
func NewRetryPolicy(maxAttempts int, initialBackoff, maxBackoff time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initialBackoff <= 0 {
		initialBackoff = DefaultInitialBackoff
	}
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	if maxBackoff < initialBackoff {
		maxBackoff = initialBackoff
	}
	return &RetryPolicy{
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

// MaxAttempts returns the total number of attempts allowed, including the first.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// MaxBackoff returns the delay ceiling.
func (p *RetryPolicy) MaxBackoff() time.Duration {
	return p.maxBackoff
}

// Classify maps an error to transient or fatal.
func (p *RetryPolicy) Classify(err error) domain.ErrorClass {
	return domain.Classify(err)
}

// NextDelay returns the wait after the given failed attempt (1-based).
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.initialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxBackoff {
			return p.maxBackoff
		}
	}
	return min(delay, p.maxBackoff)
}

// DelayFor returns the server's Retry-After hint when err carries one,
// otherwise the computed backoff for attempt.
func (p *RetryPolicy) DelayFor(err error, attempt int) time.Duration {
	if d, ok := domain.RetryAfterOf(err); ok && d >= 0 {
		return d
	}
	return p.NextDelay(attempt)
}

// ShouldRetry reports whether attempt (1-based) failed transiently and
// another attempt is allowed.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.maxAttempts && p.Classify(err) == domain.ClassTransient
}

// Wait sleeps for d or until ctx is done.
func (p *RetryPolicy) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds, fails fatally, or the attempts run out.
// onRetry, if set, is called before each wait.
func (p *RetryPolicy) Do(ctx context.Context, op func(attempt int) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		delay := p.DelayFor(err, attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if waitErr := p.Wait(ctx, delay); waitErr != nil {
			return err
		}
	}
}
