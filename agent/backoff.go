// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package agent

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff controls the delay between attempts to reach the broker.
type Backoff struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration // if zero, the delay grows without bound
	Jitter       bool          // scale each delay randomly by [0.5, 1.5)
}

// DefaultBackoff is the backoff used when none is specified.
var DefaultBackoff = Backoff{
	InitialDelay: 250 * time.Millisecond,
	Multiplier:   2,
	MaxDelay:     10 * time.Second,
	Jitter:       true,
}

// Delay returns the delay before attempt n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	if n <= 1 || b.InitialDelay <= 0 {
		return max(b.InitialDelay, 0)
	}
	mul := max(b.Multiplier, 1)
	delay := float64(b.InitialDelay) * math.Pow(mul, float64(n-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}
