package task

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how long to wait before the next attempt.
type BackoffStrategy interface {
	// NextDelay returns the delay before attempt (zero based).
	NextDelay(attempt int) time.Duration

	// Reset is called after a successful attempt.
	Reset()
}

// ExponentialBackoff grows the delay by Multiplier per attempt, capped at
// MaxDelay. Jitter in [0,1] randomizes up to that fraction of each delay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// DefaultBackoff is used by the reconnector when none is configured.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	multiplier := eb.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(eb.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	if eb.Jitter > 0 {
		delay -= delay * eb.Jitter * rand.Float64()
	}
	return time.Duration(delay)
}

func (eb *ExponentialBackoff) Reset() {}

// ConstantBackoff always waits Delay.
type ConstantBackoff time.Duration

func (c ConstantBackoff) NextDelay(int) time.Duration { return time.Duration(c) }

func (c ConstantBackoff) Reset() {}
