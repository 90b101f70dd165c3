package service

import "time"

// Clock abstracts time reads so lease expiry, retry backoff and prune
// cutoffs are deterministic under test.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time
}

// realClock is the production Clock backed by the system clock.
type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// NewClock returns the production Clock.
func NewClock() Clock {
	return realClock{}
}
