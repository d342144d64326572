package replay

import (
	"context"
	"time"
)

// withRetry runs fn up to maxRetries+1 times, doubling the wait between
// attempts starting from baseDelay. Journal and checkpoint writes go through
// here so a transient sink failure does not abort a replay mid-batch. The
// last error wins; a cancelled context cuts the wait short.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	var err error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}
