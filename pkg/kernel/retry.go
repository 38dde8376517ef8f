package kernel

import (
	"context"

	"golang.org/x/time/rate"
)

// RetryOnConflict calls attempt repeatedly, the only retry path for a
// Conflict: Dispatcher.Dispatch itself never retries, so any caller that
// wants bounded retry on an optimistic-concurrency conflict — whether
// driving Dispatch or its own load/decide/append cycle outside the
// dispatcher — wraps the call with this helper.
// Pacing between attempts is gated by limiter rather than a bare sleep loop,
// so a caller under heavy contention degrades to the limiter's configured
// rate instead of hammering the store once per conflict.
func RetryOnConflict(ctx context.Context, limiter *rate.Limiter, maxRetries int, attempt func() error) error {
	var lastErr error
	for try := 0; try <= maxRetries; try++ {
		if try > 0 {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := attempt()
		if err == nil {
			return nil
		}
		if !IsConflict(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
