package backends

import (
	"context"
	"fmt"
	"sync"
)

// MockBackend returns canned captions without any external call. It is
// the default backend, the dry-run stand-in, and the test double: tests
// queue failures to exercise the retry and journaling paths.
type MockBackend struct {
	model string

	mu       sync.Mutex
	calls    int
	failures []error
}

// NewMockBackend creates a mock backend reporting the given model name.
func NewMockBackend(model string) *MockBackend {
	if model == "" {
		model = "mock"
	}
	return &MockBackend{model: model}
}

// QueueFailure arranges for upcoming Caption calls to return the given
// errors, in order, before canned captions resume.
func (m *MockBackend) QueueFailure(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Calls reports how many times Caption was invoked.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Caption returns a canned caption, or the next queued failure.
func (m *MockBackend) Caption(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewBackendError("mock", FailureNetwork, err)
	}

	m.mu.Lock()
	m.calls++
	var next error
	if len(m.failures) > 0 {
		next = m.failures[0]
		m.failures = m.failures[1:]
	}
	m.mu.Unlock()

	if next != nil {
		return "", next
	}
	return fmt.Sprintf("a mock caption for %s", m.model), nil
}

// Identity returns the backend/model pair.
func (m *MockBackend) Identity() string {
	return "mock/" + m.model
}

// Close is a no-op.
func (m *MockBackend) Close() error {
	return nil
}
