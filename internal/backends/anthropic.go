package backends

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/narro/internal/common"
)

// AnthropicBackend captions images through the Anthropic Messages API.
type AnthropicBackend struct {
	client    anthropic.Client
	model     string
	prompt    string
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    arbor.ILogger
}

// NewAnthropicBackend creates an Anthropic caption backend. A missing
// API key is a configuration failure.
func NewAnthropicBackend(cfg *common.BackendConfig, logger arbor.ILogger) (*AnthropicBackend, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("anthropic backend requires an API key (set ANTHROPIC_API_KEY or backend.anthropic_api_key)")
	}

	model := cfg.Model
	if model == "" {
		model = "claude-haiku-4-5"
	}

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 5
	}

	return &AnthropicBackend{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		model:     model,
		prompt:    cfg.Prompt,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.RequestTimeoutDuration(),
		limiter:   rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		logger:    logger,
	}, nil
}

// Caption sends the image and prompt as a single user message and
// returns the concatenated text blocks of the response.
func (b *AnthropicBackend) Caption(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", NewBackendError("anthropic", FailureNetwork, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	encoded := base64.StdEncoding.EncodeToString(imageData)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: int64(b.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mimeType, encoded),
				anthropic.NewTextBlock(b.prompt),
			),
		},
	}

	resp, err := b.client.Messages.New(reqCtx, params)
	if err != nil {
		return "", b.classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	caption := strings.TrimSpace(text.String())
	if caption == "" {
		return "", NewBackendError("anthropic", FailureUnknown, fmt.Errorf("empty response for model %s", b.model))
	}
	return caption, nil
}

// classify converts an Anthropic SDK error into a typed BackendError.
func (b *AnthropicBackend) classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		kind := classifyHTTPStatus(apierr.StatusCode, apierr.Error())
		backendErr := NewBackendError("anthropic", kind, err)
		if kind == FailureRateLimit {
			backendErr.RetryAfter = retryAfterFromError(err)
		}
		return backendErr
	}
	return NewBackendError("anthropic", classifyTransportError(err), err)
}

// Identity returns the backend/model pair.
func (b *AnthropicBackend) Identity() string {
	return "anthropic/" + b.model
}

// Close is a no-op; the SDK client holds no persistent connection state
// beyond the standard HTTP transport.
func (b *AnthropicBackend) Close() error {
	return nil
}
