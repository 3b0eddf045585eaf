package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/narro/internal/backends"
)

func TestClassify(t *testing.T) {
	policy := NewDefaultPolicy()

	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"network", backends.NewBackendError("mock", backends.FailureNetwork, errors.New("connection refused")), Retryable},
		{"timeout", backends.NewBackendError("mock", backends.FailureTimeout, errors.New("deadline exceeded")), Retryable},
		{"rate limit", backends.NewBackendError("mock", backends.FailureRateLimit, errors.New("429")), Retryable},
		{"auth", backends.NewBackendError("mock", backends.FailureAuth, errors.New("invalid key")), Permanent},
		{"quota", backends.NewBackendError("mock", backends.FailureQuota, errors.New("quota exhausted")), Permanent},
		{"malformed input", backends.NewBackendError("mock", backends.FailureMalformedInput, errors.New("bad image")), Permanent},
		{"unknown kind", backends.NewBackendError("mock", backends.FailureUnknown, errors.New("???")), Permanent},
		{"untyped error", errors.New("something else"), Permanent},
		{"wrapped backend error", wrap(backends.NewBackendError("mock", backends.FailureNetwork, errors.New("reset"))), Retryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func wrap(err error) error {
	return errors.Join(errors.New("attempt failed"), err)
}

func TestBackoffGrowsExponentially(t *testing.T) {
	policy := &Policy{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
		rand:              func() float64 { return 0.5 }, // zero jitter
	}
	err := backends.NewBackendError("mock", backends.FailureNetwork, errors.New("reset"))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := policy.Backoff(tt.attempt, err); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	policy := &Policy{
		MaxAttempts:       10,
		InitialBackoff:    time.Second,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		rand:              func() float64 { return 0.5 },
	}
	err := backends.NewBackendError("mock", backends.FailureNetwork, errors.New("reset"))

	if got := policy.Backoff(9, err); got != 5*time.Second {
		t.Errorf("Backoff(9) = %v, want cap %v", got, 5*time.Second)
	}
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	err := backends.NewBackendError("mock", backends.FailureRateLimit, errors.New("429"))

	for _, random := range []float64{0.0, 0.25, 0.75, 1.0} {
		policy := &Policy{
			MaxAttempts:       5,
			InitialBackoff:    4 * time.Second,
			MaxBackoff:        time.Minute,
			BackoffMultiplier: 2.0,
			rand:              func() float64 { return random },
		}
		got := policy.Backoff(0, err)
		min := 3 * time.Second // 4s - 25%
		max := 5 * time.Second // 4s + 25%
		if got < min || got > max {
			t.Errorf("Backoff with rand=%v = %v, want within [%v, %v]", random, got, min, max)
		}
	}
}

func TestBackoffHonorsAPISuggestedDelay(t *testing.T) {
	policy := &Policy{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        2 * time.Minute,
		BackoffMultiplier: 2.0,
		rand:              func() float64 { return 0.5 },
	}
	backendErr := backends.NewBackendError("gemini", backends.FailureRateLimit, errors.New("429"))
	backendErr.RetryAfter = 45 * time.Second

	if got := policy.Backoff(0, backendErr); got != 45*time.Second {
		t.Errorf("Backoff(0) with RetryAfter = %v, want 45s", got)
	}
}

func TestExhausted(t *testing.T) {
	policy := &Policy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 2.0}

	if policy.Exhausted(1) || policy.Exhausted(2) {
		t.Error("attempts 1 and 2 should not exhaust a budget of 3")
	}
	if !policy.Exhausted(3) || !policy.Exhausted(4) {
		t.Error("attempts 3 and 4 should exhaust a budget of 3")
	}
}
