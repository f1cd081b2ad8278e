// Package config defines the YAML configuration for providers, retry
// behavior, and the context window.
package config

import (
	"fmt"
	"time"

	"github.com/storyloom/storyloom/internal/observability"
)

// Config is the root configuration document.
type Config struct {
	// DefaultProvider is the provider used when a request names none.
	DefaultProvider string `yaml:"default_provider"`

	// Providers maps provider id to its connection and retry settings.
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Window configures the sliding context window.
	Window WindowConfig `yaml:"window"`

	// Log configures structured logging.
	Log observability.LogConfig `yaml:"log"`

	// DraftDir is the directory holding generated unit files.
	DraftDir string `yaml:"draft_dir"`

	// OutlineFile is the YAML file holding per-unit outlines.
	OutlineFile string `yaml:"outline_file"`
}

// ProviderConfig holds connection, sampling, and resilience settings for
// one chat-completion provider.
type ProviderConfig struct {
	// APIKey authenticates requests. Leave empty to read APIKeyEnv.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names an environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider endpoint. Must be OpenAI-compatible.
	BaseURL string `yaml:"base_url"`

	// DefaultModel is used when a stage has no explicit mapping.
	DefaultModel string `yaml:"default_model"`

	// StageModels maps pipeline stage names to model ids.
	StageModels map[string]string `yaml:"stage_models"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	TopP        float32 `yaml:"top_p"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig bounds the retry loop, rate limiter, and circuit breaker of
// one provider client.
type RetryConfig struct {
	// MaxRetries is the attempt budget per logical request.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base backoff delay.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// GrowthFactor is the exponential backoff multiplier per attempt.
	GrowthFactor float64 `yaml:"growth_factor"`

	// AttemptTimeout bounds a single request attempt, not the whole call.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// MinInterval is the minimum spacing between request starts.
	MinInterval time.Duration `yaml:"min_interval"`

	// BreakerThreshold is the consecutive-exhaustion count that opens
	// the circuit breaker.
	BreakerThreshold int `yaml:"breaker_threshold"`

	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// WindowConfig configures the sliding context window.
type WindowConfig struct {
	// Size is how many prior units feed the context.
	Size int `yaml:"size"`

	// WordTarget is the configured output length per unit; the context
	// budget is twice this value.
	WordTarget int `yaml:"word_target"`

	// BreakThreshold is the similarity score below which two contexts
	// are considered discontinuous.
	BreakThreshold float64 `yaml:"break_threshold"`

	// EventKeywords and CharacterKeywords drive the deterministic
	// fallback extraction when no state card is available.
	EventKeywords     []string `yaml:"event_keywords"`
	CharacterKeywords []string `yaml:"character_keywords"`
}

// Default values applied by ApplyDefaults.
const (
	DefaultMaxRetries       = 5
	DefaultRetryDelay       = 2 * time.Second
	DefaultGrowthFactor     = 1.5
	DefaultAttemptTimeout   = 60 * time.Second
	DefaultMinInterval      = time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 60 * time.Second

	DefaultWindowSize     = 3
	DefaultWordTarget     = 1500
	DefaultBreakThreshold = 0.3
)

// ApplyDefaults fills zero-valued fields with production defaults.
func (c *Config) ApplyDefaults() {
	for name, p := range c.Providers {
		p.Retry.applyDefaults()
		if p.MaxTokens <= 0 {
			p.MaxTokens = 4000
		}
		c.Providers[name] = p
	}
	if c.Window.Size <= 0 {
		c.Window.Size = DefaultWindowSize
	}
	if c.Window.WordTarget <= 0 {
		c.Window.WordTarget = DefaultWordTarget
	}
	if c.Window.BreakThreshold <= 0 {
		c.Window.BreakThreshold = DefaultBreakThreshold
	}
}

func (r *RetryConfig) applyDefaults() {
	if r.MaxRetries <= 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.RetryDelay <= 0 {
		r.RetryDelay = DefaultRetryDelay
	}
	if r.GrowthFactor <= 0 {
		r.GrowthFactor = DefaultGrowthFactor
	}
	if r.AttemptTimeout <= 0 {
		r.AttemptTimeout = DefaultAttemptTimeout
	}
	if r.MinInterval <= 0 {
		r.MinInterval = DefaultMinInterval
	}
	if r.BreakerThreshold <= 0 {
		r.BreakerThreshold = DefaultBreakerThreshold
	}
	if r.BreakerTimeout <= 0 {
		r.BreakerTimeout = DefaultBreakerTimeout
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return &Error{Field: "providers", Reason: "at least one provider is required"}
	}
	if c.DefaultProvider == "" {
		return &Error{Field: "default_provider", Reason: "must name a configured provider"}
	}
	if _, ok := c.Providers[c.DefaultProvider]; !ok {
		return &Error{
			Field:  "default_provider",
			Reason: fmt.Sprintf("provider %q is not configured", c.DefaultProvider),
		}
	}
	for name, p := range c.Providers {
		if p.DefaultModel == "" {
			return &Error{
				Field:  "providers." + name + ".default_model",
				Reason: "a default model is required",
			}
		}
	}
	return nil
}

// Error reports an invalid or missing configuration value. Configuration
// errors are fatal and never retried.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}
