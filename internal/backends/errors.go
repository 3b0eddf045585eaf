package backends

import (
	"fmt"
	"time"
)

// FailureKind classifies a backend failure for the retry policy.
type FailureKind string

const (
	// FailureNetwork is a connection-level failure. Retryable.
	FailureNetwork FailureKind = "network"
	// FailureTimeout is a request deadline expiry. Retryable.
	FailureTimeout FailureKind = "timeout"
	// FailureRateLimit is a 429 / resource-exhausted response. Retryable.
	FailureRateLimit FailureKind = "rate_limit"
	// FailureAuth is an invalid or missing credential. Permanent.
	FailureAuth FailureKind = "auth"
	// FailureQuota is an exhausted billing or usage quota. Permanent.
	FailureQuota FailureKind = "quota"
	// FailureMalformedInput is input the backend cannot accept. Permanent.
	FailureMalformedInput FailureKind = "malformed_input"
	// FailureUnknown is any failure the backend could not classify.
	FailureUnknown FailureKind = "unknown"
)

// BackendError is a typed failure from a caption backend. RetryAfter
// carries the API-suggested retry delay when the provider returned one.
type BackendError struct {
	Kind       FailureKind
	Backend    string
	RetryAfter time.Duration
	Err        error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s backend: %s", e.Backend, e.Kind)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError wraps err with a classification.
func NewBackendError(backend string, kind FailureKind, err error) *BackendError {
	return &BackendError{Kind: kind, Backend: backend, Err: err}
}

// DecodeError is raised when an image cannot be read or decoded. It is
// terminal for the item and the backend is never invoked.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode image %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
