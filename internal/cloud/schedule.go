package cloud

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schedule picks the delay before the next sync cycle: the steady interval
// once every stream is caught up for today, a jittered retry interval
// otherwise.
type Schedule struct {
	steady time.Duration
	retry  *backoff.ExponentialBackOff
}

// NewSchedule returns a schedule. jitter is the randomization factor applied
// to retry, so 30s with 0.5 yields delays between 15s and 45s.
func NewSchedule(steady, retry time.Duration, jitter float64) *Schedule {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retry
	bo.MaxInterval = retry
	bo.Multiplier = 1
	bo.RandomizationFactor = jitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return &Schedule{steady: steady, retry: bo}
}

// Next returns the delay before the next cycle.
func (s *Schedule) Next(caughtUp bool) time.Duration {
	if caughtUp {
		s.retry.Reset()
		return s.steady
	}
	return s.retry.NextBackOff()
}
