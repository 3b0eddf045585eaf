package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Photos   PhotosConfig   `toml:"photos"`
	Journal  JournalConfig  `toml:"journal"`
	Backend  BackendConfig  `toml:"backend"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Retry    RetryConfig    `toml:"retry"`
	Logging  LoggingConfig  `toml:"logging"`
}

// PhotosConfig describes the photo library to enumerate.
type PhotosConfig struct {
	Dir         string   `toml:"dir" validate:"required"`        // Library root directory
	Extensions  []string `toml:"extensions"`                     // Image extensions to include (default: common formats)
	MaxFileSize int64    `toml:"max_file_size" validate:"min=0"` // Files larger than this are journaled as skipped (bytes, 0 = no cap)
}

// JournalConfig locates the caption journal file.
type JournalConfig struct {
	Path string `toml:"path" validate:"required"` // JSONL journal path
}

// BackendConfig selects and configures the caption backend.
type BackendConfig struct {
	Name           string `toml:"name" validate:"required"`    // "mock", "anthropic", "gemini", "openai"
	Model          string `toml:"model"`                       // Model identifier for the backend
	Prompt         string `toml:"prompt"`                      // Caption prompt
	MaxTokens      int    `toml:"max_tokens" validate:"min=0"` // Response token cap
	RequestTimeout string `toml:"request_timeout"`             // Per-request timeout as duration string (default: "60s")
	RateLimit      int    `toml:"rate_limit" validate:"min=0"` // Requests per second against the provider API

	AnthropicAPIKey string `toml:"anthropic_api_key"`
	GeminiAPIKey    string `toml:"gemini_api_key"`
	OpenAIAPIKey    string `toml:"openai_api_key"`
	OpenAIBaseURL   string `toml:"openai_base_url"` // Override for OpenAI-compatible endpoints (e.g. xAI)
}

// PipelineConfig bounds scheduler concurrency and batch size.
type PipelineConfig struct {
	Concurrency  int `toml:"concurrency" validate:"min=1"`   // Worker pool size
	BatchCeiling int `toml:"batch_ceiling" validate:"min=0"` // Items completed before a resumable batch-boundary exit (0 = unbounded)
	Limit        int `toml:"limit" validate:"min=0"`         // Cap on pending items this run (0 = unlimited)
}

// RetryConfig tunes the transient-failure retry policy.
type RetryConfig struct {
	MaxAttempts       int     `toml:"max_attempts" validate:"min=1"`
	InitialBackoff    string  `toml:"initial_backoff"` // Duration string, e.g. "1s"
	MaxBackoff        string  `toml:"max_backoff"`     // Duration string, e.g. "60s"
	BackoffMultiplier float64 `toml:"backoff_multiplier" validate:"min=1"`
}

// LoggingConfig controls arbor logger output.
type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultPrompt is the caption prompt used when none is configured.
const DefaultPrompt = "Describe this photo in one or two sentences. " +
	"Focus on the main subject, setting, and activity."

// DefaultConfig returns the baseline configuration before any file, env,
// or CLI overrides are applied.
func DefaultConfig() *Config {
	return &Config{
		Photos: PhotosConfig{
			Extensions:  []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp"},
			MaxFileSize: 0,
		},
		Journal: JournalConfig{
			Path: "captions.jsonl",
		},
		Backend: BackendConfig{
			Name:           "mock",
			Model:          "mock",
			Prompt:         DefaultPrompt,
			MaxTokens:      256,
			RequestTimeout: "60s",
			RateLimit:      5,
		},
		Pipeline: PipelineConfig{
			Concurrency:  4,
			BatchCeiling: 0,
			Limit:        0,
		},
		Retry: RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    "1s",
			MaxBackoff:        "60s",
			BackoffMultiplier: 2.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 ->
// file2 -> ... -> env. CLI overrides are applied by the caller last.
// Later files override earlier ones; zero paths means defaults + env.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// NARRO_* variables win over file values; bare provider key variables
// (ANTHROPIC_API_KEY etc.) are honored as a fallback for API keys.
func applyEnvOverrides(config *Config) {
	if dir := os.Getenv("NARRO_PHOTOS_DIR"); dir != "" {
		config.Photos.Dir = dir
	}
	if maxSize := os.Getenv("NARRO_PHOTOS_MAX_FILE_SIZE"); maxSize != "" {
		if v, err := strconv.ParseInt(maxSize, 10, 64); err == nil {
			config.Photos.MaxFileSize = v
		}
	}
	if path := os.Getenv("NARRO_JOURNAL_PATH"); path != "" {
		config.Journal.Path = path
	}
	if name := os.Getenv("NARRO_BACKEND"); name != "" {
		config.Backend.Name = name
	}
	if model := os.Getenv("NARRO_MODEL"); model != "" {
		config.Backend.Model = model
	}
	if concurrency := os.Getenv("NARRO_CONCURRENCY"); concurrency != "" {
		if v, err := strconv.Atoi(concurrency); err == nil {
			config.Pipeline.Concurrency = v
		}
	}
	if ceiling := os.Getenv("NARRO_BATCH_CEILING"); ceiling != "" {
		if v, err := strconv.Atoi(ceiling); err == nil {
			config.Pipeline.BatchCeiling = v
		}
	}
	if level := os.Getenv("NARRO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("NARRO_LOG_OUTPUT"); output != "" {
		config.Logging.Output = strings.Split(output, ",")
	}

	if key := os.Getenv("NARRO_ANTHROPIC_API_KEY"); key != "" {
		config.Backend.AnthropicAPIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Backend.AnthropicAPIKey == "" {
		config.Backend.AnthropicAPIKey = key
	}
	if key := os.Getenv("NARRO_GEMINI_API_KEY"); key != "" {
		config.Backend.GeminiAPIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" && config.Backend.GeminiAPIKey == "" {
		config.Backend.GeminiAPIKey = key
	}
	if key := os.Getenv("NARRO_OPENAI_API_KEY"); key != "" {
		config.Backend.OpenAIAPIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && config.Backend.OpenAIAPIKey == "" {
		config.Backend.OpenAIAPIKey = key
	}
	if baseURL := os.Getenv("NARRO_OPENAI_BASE_URL"); baseURL != "" {
		config.Backend.OpenAIBaseURL = baseURL
	}
}

// Validate checks structural constraints and duration fields. A failure
// here is a configuration failure: the run aborts before any dispatch.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, value := range map[string]string{
		"backend.request_timeout": c.Backend.RequestTimeout,
		"retry.initial_backoff":   c.Retry.InitialBackoff,
		"retry.max_backoff":       c.Retry.MaxBackoff,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s: %w", name, err)
		}
	}
	return nil
}

// RequestTimeoutDuration returns the parsed backend request timeout.
func (c *BackendConfig) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// InitialBackoffDuration returns the parsed initial backoff.
func (c *RetryConfig) InitialBackoffDuration() time.Duration {
	d, err := time.ParseDuration(c.InitialBackoff)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// MaxBackoffDuration returns the parsed backoff cap.
func (c *RetryConfig) MaxBackoffDuration() time.Duration {
	d, err := time.ParseDuration(c.MaxBackoff)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}
