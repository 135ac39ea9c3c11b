package core

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes retry delays: Base * 2^(attempt-1), capped at Max, with an
// optional symmetric jitter expressed as a fraction of the delay.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the wait before the attempt following a failure on attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		j := time.Duration(float64(d) * b.Jitter * (rand.Float64()*2 - 1))
		if d+j > 0 {
			d += j
		}
	}
	return d
}
