package backoff

import (
	"math/rand/v2"
	"time"
)

// Policy is capped exponential backoff with full jitter
type Policy struct {
	Base time.Duration
	Cap  time.Duration
	// Rand returns a value in [0, n). Nil uses math/rand.
	Rand func(n int64) int64
}

// Ceiling is the upper bound of the delay after attempt failures, before jitter
func (p Policy) Ceiling(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap || d <= 0 {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Delay picks a uniformly random wait in [0, Ceiling(attempt)]
func (p Policy) Delay(attempt int) time.Duration {
	ceiling := p.Ceiling(attempt)
	if ceiling <= 0 {
		return 0
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Int64N
	}
	return time.Duration(rnd(int64(ceiling) + 1))
}
