// Package retry implements the shared backoff schedule used by the Read
// Driver and Bulk Mutation Driver.
//
// A DoltStore.withRetry-style loop drives retries with cenkalti/backoff/v4's
// Retry helper, but that helper re-runs the same closure unchanged on every
// attempt. This module can't use it directly: between attempts it has to
// revise the outgoing request (skip delivered keys, shrink the row limit)
// and re-check two layered deadlines, so it drives backoff.BackOff's
// NextBackOff/Reset by hand instead. FullJitter satisfies that interface so
// it drops into anything written against it.
package retry

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FullJitter is an exponential-with-full-jitter schedule: wait a random
// duration in [0, upperBound), where upperBound doubles each attempt up to
// a cap. Defaults: initial 10ms, multiplier 2, capped at 60s, with full
// randomization between zero and the current upper bound.
type FullJitter struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration

	upper time.Duration
	rnd   *rand.Rand
}

var _ backoff.BackOff = (*FullJitter)(nil)

// NewFullJitter returns the default backoff schedule used by both retry
// drivers.
func NewFullJitter() *FullJitter {
	return &FullJitter{
		Initial:    10 * time.Millisecond,
		Multiplier: 2,
		Max:        60 * time.Second,
	}
}

// NextBackOff returns the next wait duration and advances the schedule.
// It never returns backoff.Stop — callers bound retries via the operation
// deadline, not via a retry-count ceiling.
func (f *FullJitter) NextBackOff() time.Duration {
	if f.upper == 0 {
		f.upper = f.Initial
	} else {
		next := time.Duration(float64(f.upper) * f.Multiplier)
		if next > f.Max || next <= 0 {
			next = f.Max
		}
		f.upper = next
	}
	if f.upper <= 0 {
		return 0
	}
	if f.rnd == nil {
		f.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(f.rnd.Int63n(int64(f.upper)))
}

// Reset rearms the schedule from Initial, as backoff.BackOff requires.
func (f *FullJitter) Reset() { f.upper = 0 }
