package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// Limiter spaces actions so that any two are at least one interval apart.
// Slots are reserved under a mutex, so concurrent callers queue up instead
// of racing past the check together. It also counts reservations to report
// a lifetime request rate.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed time.Time
	count       int64
	createdAt   time.Time
	now         func() time.Time
}

// Stats is a snapshot of limiter activity.
type Stats struct {
	Requests          int64
	RequestsPerMinute float64
	Interval          time.Duration
	Uptime            time.Duration
}

// New creates a new rate limiter with the specified interval.
func New(interval time.Duration) *Limiter {
	l := &Limiter{
		interval: interval,
		now:      time.Now,
	}
	l.createdAt = l.now()
	return l
}

// Reserve books the next free slot and returns how long the caller must
// wait before acting. The slot is counted as a request immediately.
func (l *Limiter) Reserve() time.Duration {
	_, _, wait := l.reserve()
	return wait
}

func (l *Limiter) reserve() (slot, prev time.Time, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	next := now
	if !l.lastAllowed.IsZero() {
		if earliest := l.lastAllowed.Add(l.interval); earliest.After(now) {
			next = earliest
		}
	}
	prev = l.lastAllowed
	l.lastAllowed = next
	l.count++
	return next, prev, next.Sub(now)
}

// release returns a slot that was never used. The slot is only rolled back
// while it is still the latest one; later reservations keep their spacing.
func (l *Limiter) release(slot, prev time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count > 0 {
		l.count--
	}
	if l.lastAllowed.Equal(slot) {
		l.lastAllowed = prev
	}
}

// Wait reserves a slot and blocks until it arrives or ctx is done. A
// cancelled wait gives its slot back and is not counted as a request.
func (l *Limiter) Wait(ctx context.Context) error {
	slot, prev, wait := l.reserve()
	if wait <= 0 {
		if err := ctx.Err(); err != nil {
			l.release(slot, prev)
			return err
		}
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.release(slot, prev)
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reset clears the limiter state, allowing the next action immediately.
// The request counter is kept.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.lastAllowed = time.Time{}
	l.mu.Unlock()
}

// TimeSinceLastAllowed returns the duration since the last reserved slot.
// Returns a very large duration if nothing has been reserved yet.
func (l *Limiter) TimeSinceLastAllowed() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastAllowed.IsZero() {
		return time.Duration(1<<63 - 1) // Max duration
	}
	return l.now().Sub(l.lastAllowed)
}

// Interval returns the configured minimum spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// RequestsPerMinute returns the lifetime request rate. Lifetimes shorter
// than a minute are measured as one minute so a short burst at startup
// does not read as an extreme rate.
func (l *Limiter) RequestsPerMinute() float64 {
	return l.Stats().RequestsPerMinute
}

// Stats returns a snapshot of limiter activity.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	uptime := l.now().Sub(l.createdAt)
	window := uptime
	if window < time.Minute {
		window = time.Minute
	}
	return Stats{
		Requests:          l.count,
		RequestsPerMinute: float64(l.count) / window.Minutes(),
		Interval:          l.interval,
		Uptime:            uptime,
	}
}
