package service

import "time"

// Backoff computes the delay before a failed task becomes eligible again.
// The schedule is capped exponential: delay(n) = min(base * 2^(n-1), cap)
// for attempt number n >= 1. Deterministic on purpose, no jitter, so the
// same failure history always produces the same eligibility time.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the next attempt, given the number of the
// attempt that just failed. Attempt numbers below 1 are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap || delay < 0 {
			return b.Cap
		}
	}

	if delay > b.Cap {
		return b.Cap
	}
	return delay
}
