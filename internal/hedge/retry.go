package hedge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// retryWithBackoff calls fn up to len(backoff)+1 times, sleeping the next
// backoff entry between attempts. Returns the last error if every
// attempt fails.
func retryWithBackoff(ctx context.Context, backoff []time.Duration, logger *slog.Logger, label string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		if attempt > 0 {
			wait := backoff[attempt-1]
			logger.Warn("retrying after failure", "op", label, "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%s: exhausted retries: %w", label, lastErr)
}
