// Package backoff computes exponential backoff durations with jitter
// for the provider adapters' retry loops: a transient provider error is
// retried with backoff before surfacing to the Scheduler as a round
// error.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// Compute calculates the backoff duration for a given attempt number.
// base = InitialMs * Factor^(attempt-1), jitter = base * Jitter * random().
// Returns min(MaxMs, base+jitter). Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff duration using a provided
// random value in [0.0, 1.0), useful for deterministic tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy returns a sensible default backoff policy for provider
// retries. Initial: 200ms, Max: 20s, Factor: 2, Jitter: 10%.
func DefaultPolicy() Policy {
	return Policy{InitialMs: 200, MaxMs: 20000, Factor: 2, Jitter: 0.1}
}
