package realtime

import "time"

// Backoff is the reconnect policy: delay(n) = min(Base * 2^n, Max) for
// attempts n = 0, 1, ..., MaxAttempts-1.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before reconnect attempt n (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		// d <= 0 guards against overflow on absurd attempt counts
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether another attempt would exceed MaxAttempts.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
