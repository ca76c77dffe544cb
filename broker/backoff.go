package broker

import "time"

// backoff yields the exponential connect/reconnect delay schedule from
// spec.md §4.1: initial delay, doubling each attempt, capped at max.
type backoff struct {
	initial time.Duration
	max     time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	d := b.initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	return d
}
