package database

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff spaces out append retries while the database is busy.
// Delays grow by Multiplier per attempt, are capped at MaxDelay and spread
// by up to ±Jitter so concurrent writers do not retry in lockstep.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64

	random func() float64
}

// NewExponentialBackoff returns a backoff doubling from initial up to max
// with 10% jitter.
func NewExponentialBackoff(initial, max time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   2.0,
		Jitter:       0.1,
		random:       rand.Float64,
	}
}

// NextDelay returns the delay before retry number attempt (0-based). The
// first retry always waits exactly InitialDelay.
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return b.InitialDelay
	}

	base := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt))
	base = math.Min(base, float64(b.MaxDelay))

	r := 0.5
	if b.random != nil {
		r = b.random()
	}
	delay := base * (1 + b.Jitter*(2*r-1))
	return time.Duration(math.Min(delay, float64(b.MaxDelay)))
}
