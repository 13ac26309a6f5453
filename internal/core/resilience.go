package core

import (
	"context"
	"log/slog"
	"math"
	"time"
)

const maxBackoff = 30 * time.Second

// retryPolicy retries planning calls that failed transiently. Chapter work
// is bounded by the revision budget instead.
type retryPolicy struct {
	attempts int
	base     time.Duration
	logger   *slog.Logger
}

func (rp retryPolicy) delay(attempt int) time.Duration {
	d := float64(rp.base) * math.Pow(2, float64(attempt-1))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}
	return time.Duration(d)
}

// do runs op until it succeeds, returns an error retry rejects, or
// attempts run out. The last error is returned.
func (rp retryPolicy) do(ctx context.Context, name string, op func(attempt int) error, retry func(error) bool) error {
	var lastErr error
	for attempt := 0; attempt < rp.attempts; attempt++ {
		if attempt > 0 {
			delay := rp.delay(attempt)
			rp.logger.Warn("retrying",
				"operation", name,
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = op(attempt)
		if lastErr == nil || !retry(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
