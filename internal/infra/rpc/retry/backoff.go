package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy defines retry behavior for one request.
type Policy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffFactor     float64
	Jitter            float64 // fraction of the delay, 0.1 = ±10%
	RetryableStatuses map[int]bool

	// ShouldRetry, when set, overrides the classifier's retryable verdict.
	ShouldRetry func(c Classification, attempt int) bool
}

// DefaultPolicy provides sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffFactor:     2.0,
		Jitter:            0.1,
		RetryableStatuses: StatusSet(DefaultRetryableStatuses, false),
	}
}

// Retryable applies the custom predicate, if any, on top of the classification.
func (p Policy) Retryable(c Classification, attempt int) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(c, attempt)
	}
	return c.Retryable
}

// Backoff computes retry delays for a Policy.
type Backoff struct {
	policy Policy
	rand   func() float64
}

// NewBackoff creates a backoff calculator. Jitter draws from math/rand/v2.
func NewBackoff(p Policy) *Backoff {
	return &Backoff{policy: p, rand: rand.Float64}
}

// NextDelay returns the delay before retry n, where n = 1 is the first retry:
// InitialDelay * BackoffFactor^(n-1), capped at MaxDelay, then perturbed by ±Jitter.
func (b *Backoff) NextDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	delay := float64(b.policy.InitialDelay) * math.Pow(b.policy.BackoffFactor, float64(n-1))
	maxDelay := float64(b.policy.MaxDelay)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	if j := b.policy.Jitter; j > 0 {
		delay += delay * j * (2*b.rand() - 1)
	}

	if delay < 0 {
		delay = 0
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(delay)
}

// DelayFor returns NextDelay(n) raised to a server-provided Retry-After hint, still
// capped at MaxDelay.
func (b *Backoff) DelayFor(n int, retryAfter time.Duration) time.Duration {
	delay := b.NextDelay(n)
	if retryAfter > delay {
		delay = retryAfter
		if b.policy.MaxDelay > 0 && delay > b.policy.MaxDelay {
			delay = b.policy.MaxDelay
		}
	}
	return delay
}
