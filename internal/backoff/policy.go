// Package backoff provides exponential backoff with jitter and an
// injectable clock so retry loops can be tested without real sleeps.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the base delay applied on the first retry.
	Initial time.Duration
	// Max caps the computed delay. Zero means no cap.
	Max time.Duration
	// Growth is the multiplicative factor applied per attempt.
	Growth float64
	// JitterLow and JitterHigh bound the uniform jitter multiplier.
	// The computed delay is scaled by a random factor in [JitterLow, JitterHigh).
	JitterLow  float64
	JitterHigh float64
}

// DefaultPolicy returns the policy used for provider retries:
// 2s base, 1.5x growth, jitter in [0.5, 1.5), capped at 60s.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Growth:     1.5,
		JitterLow:  0.5,
		JitterHigh: 1.5,
	}
}

// Delay calculates the backoff for a given attempt number. Attempts start
// at 0, so the first retry waits roughly Initial scaled by jitter.
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand calculates the backoff using a provided random value in
// [0.0, 1.0). Tests pass a fixed value for deterministic results.
func (p Policy) DelayWithRand(attempt int, random float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	growth := p.Growth
	if growth <= 0 {
		growth = 1
	}
	base := float64(p.Initial) * math.Pow(growth, float64(attempt))

	low, high := p.JitterLow, p.JitterHigh
	if high <= low {
		low, high = 1, 1
	}
	total := base * (low + (high-low)*random)

	if p.Max > 0 && total > float64(p.Max) {
		total = float64(p.Max)
	}
	return time.Duration(total)
}
