package dispatch

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: base doubled per attempt, capped, with
// jitter so a burst of failures doesn't retry in lockstep.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the given attempt number re-runs.
// attempt is 1-based (the attempt that just failed).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Minute
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}

	// Jitter in [d/2, d)
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
