package scheduler

import (
	"math/rand/v2"
	"time"
)

// BackoffPolicy spaces out the retries of one firing. The wait after
// attempt n is Min*Multiplier^(n-1) capped at Max, moved up to 20% either
// way and never below Min.
type BackoffPolicy struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64 // below 1 means 2
}

// Delay returns the wait after the given failed attempt, counted from 1.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	return p.jittered(attempt, rand.Float64())
}

// step is the unjittered wait after attempt.
func (p BackoffPolicy) step(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	ceiling := max(p.Max, p.Min)
	d := float64(p.Min)
	for n := 1; n < attempt && d < float64(ceiling); n++ {
		d *= mult
	}
	return min(time.Duration(d), ceiling)
}

// jittered scales step(attempt) by a factor in [0.8, 1.2) picked by r in [0, 1).
func (p BackoffPolicy) jittered(attempt int, r float64) time.Duration {
	s := p.step(attempt)
	return max(s+time.Duration((r*0.4-0.2)*float64(s)), p.Min)
}
