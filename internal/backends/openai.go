package backends

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/narro/internal/common"
)

const (
	// defaultOpenAIBaseURL is the standard OpenAI API endpoint. The
	// xAI API is wire-compatible and selected via backend.openai_base_url.
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	xaiBaseURL           = "https://api.x.ai/v1"
)

// OpenAIBackend captions images through an OpenAI-compatible chat
// completions endpoint.
type OpenAIBackend struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	prompt     string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

// NewOpenAIBackend creates an OpenAI-compatible caption backend. The
// "xai" backend name selects the xAI base URL with the same wire format.
func NewOpenAIBackend(cfg *common.BackendConfig, logger arbor.ILogger) (*OpenAIBackend, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("%s backend requires an API key (set OPENAI_API_KEY or backend.openai_api_key)", cfg.Name)
	}

	baseURL := cfg.OpenAIBaseURL
	if baseURL == "" {
		if cfg.Name == "xai" {
			baseURL = xaiBaseURL
		} else {
			baseURL = defaultOpenAIBaseURL
		}
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 5
	}

	return &OpenAIBackend{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    cfg.OpenAIAPIKey,
		model:     model,
		prompt:    cfg.Prompt,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeoutDuration(),
		},
		limiter: rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		logger:  logger,
	}, nil
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Caption sends the image as a base64 data URL plus the prompt and
// returns the first choice's content.
func (b *OpenAIBackend) Caption(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", NewBackendError(b.name, FailureNetwork, err)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))
	reqBody := chatCompletionRequest{
		Model: b.model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL, Detail: "low"}},
					{Type: "text", Text: b.prompt},
				},
			},
		},
		MaxTokens: b.maxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", NewBackendError(b.name, FailureUnknown, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", NewBackendError(b.name, FailureUnknown, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", NewBackendError(b.name, classifyTransportError(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", NewBackendError(b.name, FailureNetwork, fmt.Errorf("read response: %w", err))
	}

	var parsed chatCompletionResponse
	if unmarshalErr := json.Unmarshal(body, &parsed); unmarshalErr != nil && resp.StatusCode == http.StatusOK {
		return "", NewBackendError(b.name, FailureUnknown, fmt.Errorf("parse response: %w", unmarshalErr))
	}

	if resp.StatusCode != http.StatusOK {
		message := string(body)
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		apiErr := fmt.Errorf("status %d: %s", resp.StatusCode, message)
		kind := classifyHTTPStatus(resp.StatusCode, message)
		if parsed.Error != nil && strings.Contains(parsed.Error.Type, "insufficient_quota") {
			kind = FailureQuota
		}
		backendErr := NewBackendError(b.name, kind, apiErr)
		if kind == FailureRateLimit {
			backendErr.RetryAfter = retryAfterFromHeader(resp)
		}
		return "", backendErr
	}

	if len(parsed.Choices) == 0 {
		return "", NewBackendError(b.name, FailureUnknown, fmt.Errorf("empty response for model %s", b.model))
	}
	caption := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if caption == "" {
		return "", NewBackendError(b.name, FailureUnknown, fmt.Errorf("empty caption for model %s", b.model))
	}
	return caption, nil
}

// retryAfterFromHeader parses the Retry-After response header.
func retryAfterFromHeader(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// Identity returns the backend/model pair.
func (b *OpenAIBackend) Identity() string {
	return b.name + "/" + b.model
}

// Close is a no-op.
func (b *OpenAIBackend) Close() error {
	return nil
}
