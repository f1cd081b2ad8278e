package config

import (
	"errors"
	"testing"
)

const sampleConfig = `
default_provider: zhipu
providers:
  zhipu:
    api_key_env: ZHIPU_API_KEY
    base_url: https://open.bigmodel.cn/api/paas/v4
    default_model: glm-4.5-flash
    stage_models:
      outline: glm-4-long
      expansion: glm-4.5-flash
  doubao:
    api_key: test-key
    default_model: doubao-seed-1-6
window:
  size: 5
  word_target: 2000
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	zhipu := cfg.Providers["zhipu"]
	if zhipu.Retry.MaxRetries != DefaultMaxRetries {
		t.Errorf("max retries = %d, want %d", zhipu.Retry.MaxRetries, DefaultMaxRetries)
	}
	if zhipu.Retry.BreakerThreshold != DefaultBreakerThreshold {
		t.Errorf("breaker threshold = %d, want %d", zhipu.Retry.BreakerThreshold, DefaultBreakerThreshold)
	}
	if cfg.Window.Size != 5 {
		t.Errorf("window size = %d, want 5", cfg.Window.Size)
	}
	if cfg.Window.BreakThreshold != DefaultBreakThreshold {
		t.Errorf("break threshold = %v, want %v", cfg.Window.BreakThreshold, DefaultBreakThreshold)
	}
}

func TestParse_ResolvesAPIKeyFromEnv(t *testing.T) {
	t.Setenv("ZHIPU_API_KEY", "env-secret")

	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Providers["zhipu"].APIKey; got != "env-secret" {
		t.Errorf("api key = %q, want env-secret", got)
	}
	if got := cfg.Providers["doubao"].APIKey; got != "test-key" {
		t.Errorf("doubao api key = %q, want literal value", got)
	}
}

func TestValidate_UnknownDefaultProvider(t *testing.T) {
	_, err := Parse([]byte(`
default_provider: missing
providers:
  zhipu:
    default_model: glm-4.5-flash
`))
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.Error, got %v", err)
	}
	if cfgErr.Field != "default_provider" {
		t.Errorf("field = %q, want default_provider", cfgErr.Field)
	}
}

func TestValidate_RequiresDefaultModel(t *testing.T) {
	_, err := Parse([]byte(`
default_provider: zhipu
providers:
  zhipu:
    api_key: k
`))
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.Error, got %v", err)
	}
}
