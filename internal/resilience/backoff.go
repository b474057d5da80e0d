// Package resilience holds the failure-handling primitives shared by the
// transcription engines and the summarization provider chain: capped
// exponential backoff and a per-dependency circuit breaker.
package resilience

import (
	"context"
	"math"
	"time"
)

// CalculateBackoff returns the delay before retry number attempt (0-based):
// initialBackoff * multiplier^attempt, capped at maxBackoff.
func CalculateBackoff(attempt int, initialBackoff, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// SleepWithContext waits for the given duration unless the context ends
// first, in which case the context error is returned and the wait is
// abandoned. Retry loops use this so a cancelled job never sits out a
// full backoff window.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
