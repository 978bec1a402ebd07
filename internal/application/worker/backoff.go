package worker

import (
	"math"
	"time"
)

// computeRetryDelay implements delay = min(M, B^a) seconds,
// integer-valued, where B is the base, M the cap, and a the 1-based
// attempt index that just failed. No jitter is applied.
func computeRetryDelay(base, max time.Duration, attempt int) time.Duration {
	baseSeconds := base.Seconds()
	maxSeconds := max.Seconds()

	delaySeconds := math.Pow(baseSeconds, float64(attempt))
	if delaySeconds > maxSeconds {
		delaySeconds = maxSeconds
	}
	if delaySeconds < 0 {
		delaySeconds = 0
	}

	return time.Duration(int64(delaySeconds)) * time.Second
}
