package service

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before a retry attempt: base doubled per prior
// attempt, capped at max, with up to 25% jitter added so requeued jobs do
// not thunder in together.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	jitter := time.Duration(rand.Int64N(int64(d)/4 + 1))
	d += jitter
	if d > b.Max {
		d = b.Max
	}
	return d
}
