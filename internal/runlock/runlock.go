// Package runlock provides the process-external mutex that keeps pipeline
// passes from overlapping, even across restarts where no in-memory state
// survives. Several substrates implement the same contract; pick one by
// config.
package runlock

import (
	"context"
	"fmt"
)

// Substrate is the minimal lock contract. TryAcquire must be atomic on the
// shared store and must eventually let a new caller through after a crashed
// holder (staleness window or TTL).
type Substrate interface {
	TryAcquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// WithLock runs fn under the named lock. When the lock is contended, onSkip
// runs instead and no error is surfaced; overlap is an expected outcome, not
// a failure. Release always runs after fn, whatever fn returns.
func WithLock(ctx context.Context, sub Substrate, name string, fn func(context.Context) error, onSkip func()) error {
	acquired, err := sub.TryAcquire(ctx, name)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !acquired {
		if onSkip != nil {
			onSkip()
		}
		return nil
	}

	defer func() {
		// Best effort: a failed release is recovered by staleness anyway.
		_ = sub.Release(context.WithoutCancel(ctx), name)
	}()

	return fn(ctx)
}
