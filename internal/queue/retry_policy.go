package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/riverqueue/river/rivertype"
)

// maxSteps bounds the backoff walk; the interval is long capped by then.
const maxSteps = 64

// RetryPolicy schedules River retries on an exponential curve with jitter,
// capped at Max.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is the backoff randomization factor in [0, 1).
	Jitter float64

	now func() time.Time
}

// NewRetryPolicy returns a policy doubling from initial up to max.
func NewRetryPolicy(initial, max time.Duration) *RetryPolicy {
	return &RetryPolicy{Initial: initial, Max: max, Jitter: 0.2, now: time.Now}
}

// NextRetry implements river.ClientRetryPolicy.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return now().UTC().Add(p.Delay(job.Attempt))
}

// Delay returns the wait after the given failed attempt, counted from 1.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	attempt = max(1, min(attempt, maxSteps))
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return min(d, p.Max)
}
