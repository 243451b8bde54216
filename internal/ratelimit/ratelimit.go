// Package ratelimit provides a minimal min-interval limiter with an injected
// clock, so callers that must pace an external channel can be tested without
// sleeping.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum gap between consecutive Wait returns.
type Limiter struct {
	interval time.Duration
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error

	mu   sync.Mutex
	last time.Time
}

// New builds a limiter with the real clock.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// NewWithClock builds a limiter with injected time functions for tests.
func NewWithClock(interval time.Duration, now func() time.Time, sleep func(context.Context, time.Duration) error) *Limiter {
	return &Limiter{interval: interval, now: now, sleep: sleep}
}

// Wait blocks until at least the configured interval has passed since the
// previous successful Wait, or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := l.now()
	wait := l.interval - now.Sub(l.last)
	if wait > 0 {
		l.last = now.Add(wait)
	} else {
		l.last = now
		wait = 0
	}
	l.mu.Unlock()

	if wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
