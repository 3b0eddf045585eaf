// Package retry decides whether a backend failure is worth re-attempting
// and how long to wait before doing so. It only computes; the scheduler
// owns the actual waiting.
package retry

import (
	"errors"
	"math/rand"
	"time"

	"github.com/ternarybob/narro/internal/backends"
)

// Default retry constants for caption backend failures.
const (
	DefaultMaxAttempts       = 5
	DefaultInitialBackoff    = 1 * time.Second
	DefaultMaxBackoff        = 60 * time.Second
	DefaultBackoffMultiplier = 2.0

	// jitterFraction is the randomized share of each computed delay,
	// spreading worker retries so they do not hit the API in lockstep.
	jitterFraction = 0.25
)

// Classification is the retry policy's verdict on a failure.
type Classification int

const (
	// Permanent failures are recorded and never auto-retried.
	Permanent Classification = iota
	// Retryable failures are re-attempted with backoff up to MaxAttempts.
	Retryable
)

// Policy defines retry behavior for transient backend failures.
type Policy struct {
	// MaxAttempts is the total attempt budget per item, first try
	// included. Once exhausted, a retryable failure becomes a terminal
	// error_backend_transient record.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the backoff on each retry.
	BackoffMultiplier float64

	// rand is the jitter source; overridable for deterministic tests.
	rand func() float64
}

// NewDefaultPolicy returns a Policy with sensible defaults for vision
// API rate limits and transient network failures.
func NewDefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:       DefaultMaxAttempts,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// Classify maps a backend failure to Retryable or Permanent. Transient
// network failures, timeouts, and rate limiting are retryable; auth
// failures, quota exhaustion, and malformed input are permanent.
// Failures the backend could not classify are treated as permanent so an
// unrecognized error cannot burn the whole attempt budget.
func (p *Policy) Classify(err error) Classification {
	var backendErr *backends.BackendError
	if !errors.As(err, &backendErr) {
		return Permanent
	}

	switch backendErr.Kind {
	case backends.FailureNetwork, backends.FailureTimeout, backends.FailureRateLimit:
		return Retryable
	default:
		return Permanent
	}
}

// Backoff computes the wait before retry number attempt (0-based: the
// delay after the first failed try is Backoff(0)). If the failure
// carried an API-suggested retry delay, that delay is used as the base.
// The result grows exponentially, gains random jitter, and is capped at
// MaxBackoff.
func (p *Policy) Backoff(attempt int, err error) time.Duration {
	base := p.InitialBackoff

	var backendErr *backends.BackendError
	if errors.As(err, &backendErr) && backendErr.RetryAfter > 0 {
		base = backendErr.RetryAfter
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= p.BackoffMultiplier
	}

	backoff := time.Duration(float64(base) * multiplier)
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	// Randomize within ±jitterFraction of the computed delay.
	random := p.rand
	if random == nil {
		random = rand.Float64
	}
	jitter := time.Duration(float64(backoff) * jitterFraction * (2*random() - 1))
	backoff += jitter
	if backoff < 0 {
		backoff = 0
	}
	return backoff
}

// Exhausted reports whether the given 1-based attempt count has used up
// the attempt budget.
func (p *Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
