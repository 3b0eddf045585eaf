package backends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ternarybob/narro/internal/common"
)

// GeminiBackend captions images through the Google Gemini API.
type GeminiBackend struct {
	client    *genai.Client
	model     string
	prompt    string
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    arbor.ILogger
}

// NewGeminiBackend creates a Gemini caption backend. A missing API key
// is a configuration failure.
func NewGeminiBackend(cfg *common.BackendConfig, logger arbor.ILogger) (*GeminiBackend, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini backend requires an API key (set GEMINI_API_KEY or backend.gemini_api_key)")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 5
	}

	return &GeminiBackend{
		client:    client,
		model:     model,
		prompt:    cfg.Prompt,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.RequestTimeoutDuration(),
		limiter:   rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		logger:    logger,
	}, nil
}

// Caption sends the image and prompt as one user content and returns the
// first candidate's text.
func (b *GeminiBackend) Caption(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", NewBackendError("gemini", FailureNetwork, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	contents := []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				genai.NewPartFromBytes(imageData, mimeType),
				genai.NewPartFromText(b.prompt),
			},
		},
	}
	config := &genai.GenerateContentConfig{}
	if b.maxTokens > 0 {
		config.MaxOutputTokens = int32(b.maxTokens)
	}

	resp, err := b.client.Models.GenerateContent(reqCtx, b.model, contents, config)
	if err != nil {
		return "", b.classify(err)
	}

	// Iterate candidates until non-empty text is found.
	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				break
			}
		}
	}

	caption := strings.TrimSpace(text.String())
	if caption == "" {
		return "", NewBackendError("gemini", FailureUnknown, fmt.Errorf("empty response for model %s", b.model))
	}
	return caption, nil
}

// classify converts a Gemini API error into a typed BackendError.
// Matches 429 / RESOURCE_EXHAUSTED wording for rate limits and carries
// the API-suggested retry delay when present.
func (b *GeminiBackend) classify(err error) error {
	var apierr *genai.APIError
	if errors.As(err, &apierr) {
		kind := classifyHTTPStatus(apierr.Code, apierr.Message)
		if apierr.Status == "RESOURCE_EXHAUSTED" && kind == FailureUnknown {
			kind = FailureRateLimit
		}
		backendErr := NewBackendError("gemini", kind, err)
		if kind == FailureRateLimit {
			backendErr.RetryAfter = retryAfterFromError(err)
		}
		return backendErr
	}

	errStr := err.Error()
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "RESOURCE_EXHAUSTED") {
		backendErr := NewBackendError("gemini", FailureRateLimit, err)
		backendErr.RetryAfter = retryAfterFromError(err)
		return backendErr
	}
	return NewBackendError("gemini", classifyTransportError(err), err)
}

// Identity returns the backend/model pair.
func (b *GeminiBackend) Identity() string {
	return "gemini/" + b.model
}

// Close is a no-op; the genai client does not expose a close.
func (b *GeminiBackend) Close() error {
	return nil
}
