// Package backends provides the pluggable caption capability: each
// backend turns one decoded image into a one-or-two-sentence caption or
// a typed failure the retry policy can classify.
package backends

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/common"
)

// CaptionBackend generates a caption for one decoded image. The pipeline
// places no constraint on how: local inference, remote API, or canned
// test output all satisfy the same contract.
type CaptionBackend interface {
	// Caption produces a caption for the image, or a *BackendError.
	// imageData is a decoded, re-encoded JPEG payload.
	Caption(ctx context.Context, imageData []byte, mimeType string) (string, error)

	// Identity is the "backend/model" string stamped into journal
	// records so outcomes can be correlated with who produced them.
	Identity() string

	// Close releases any held clients or connections.
	Close() error
}

// New creates a caption backend by name. Unknown names and missing API
// keys are configuration failures: the run must abort before dispatch.
func New(cfg *common.BackendConfig, logger arbor.ILogger) (CaptionBackend, error) {
	switch cfg.Name {
	case "mock":
		return NewMockBackend(cfg.Model), nil
	case "anthropic":
		return NewAnthropicBackend(cfg, logger)
	case "gemini":
		return NewGeminiBackend(cfg, logger)
	case "openai", "xai":
		return NewOpenAIBackend(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q (available: mock, anthropic, gemini, openai, xai)", cfg.Name)
	}
}

// classifyHTTPStatus maps an API status code to a failure kind. Quota
// exhaustion sometimes arrives as 429 with billing wording, so the
// message is consulted before settling on rate_limit.
func classifyHTTPStatus(status int, message string) FailureKind {
	lower := strings.ToLower(message)
	switch {
	case status == 401 || status == 403:
		return FailureAuth
	case status == 402:
		return FailureQuota
	case status == 429:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "billing") || strings.Contains(lower, "credit") {
			return FailureQuota
		}
		return FailureRateLimit
	case status == 400 || status == 413 || status == 415 || status == 422:
		return FailureMalformedInput
	case status == 408:
		return FailureTimeout
	case status >= 500:
		return FailureNetwork
	default:
		return FailureUnknown
	}
}

// retryDelayRegex matches "Please retry in Xs", "retryDelay:Xs", and
// "retry after Xs" wording in provider error messages.
var retryDelayRegex = regexp.MustCompile(`(?i)(?:please retry in |retrydelay[:\s]+|retry after )(\d+(?:\.\d+)?)\s*s`)

// retryAfterFromError parses the API-suggested retry delay out of a
// rate-limit error message. Returns 0 if none is present.
func retryAfterFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}
	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// classifyTransportError maps connection-level failures that never
// reached the API to a failure kind.
func classifyTransportError(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetwork
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection") || strings.Contains(lower, "no such host") || strings.Contains(lower, "eof") {
		return FailureNetwork
	}
	return FailureUnknown
}
