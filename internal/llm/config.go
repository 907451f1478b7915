package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config selects and configures the generation backend.
type Config struct {
	// Provider is "anthropic", "openai", "gemini", "openrouter" or "mock".
	Provider string

	Anthropic  AnthropicConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Retry      RetryConfig

	// Timeout bounds one JSONService call, retries included.
	Timeout time.Duration
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type OpenRouterConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

func DefaultConfig() Config {
	return Config{
		Provider:   "anthropic",
		Anthropic:  AnthropicConfig{Model: "claude-haiku"},
		OpenAI:     OpenAIConfig{Model: "gpt-4o-mini"},
		Gemini:     GeminiConfig{Model: "gemini-flash"},
		OpenRouter: OpenRouterConfig{Model: "google/gemini-2.0-flash-exp"},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Multiplier:  2,
		},
		Timeout: 20 * time.Second,
	}
}

// ConfigFromEnv overlays TUTOR_* variables on DefaultConfig. Malformed
// numbers and durations are ignored.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	for key, dst := range map[string]*string{
		"TUTOR_LLM_PROVIDER":        &cfg.Provider,
		"TUTOR_ANTHROPIC_API_KEY":   &cfg.Anthropic.APIKey,
		"TUTOR_ANTHROPIC_MODEL":     &cfg.Anthropic.Model,
		"TUTOR_OPENAI_API_KEY":      &cfg.OpenAI.APIKey,
		"TUTOR_OPENAI_MODEL":        &cfg.OpenAI.Model,
		"TUTOR_OPENAI_BASE_URL":     &cfg.OpenAI.BaseURL,
		"TUTOR_GEMINI_API_KEY":      &cfg.Gemini.APIKey,
		"TUTOR_GEMINI_MODEL":        &cfg.Gemini.Model,
		"TUTOR_OPENROUTER_API_KEY":  &cfg.OpenRouter.APIKey,
		"TUTOR_OPENROUTER_MODEL":    &cfg.OpenRouter.Model,
		"TUTOR_OPENROUTER_BASE_URL": &cfg.OpenRouter.BaseURL,
	} {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if d, err := time.ParseDuration(os.Getenv("TUTOR_LLM_TIMEOUT")); err == nil && d > 0 {
		cfg.Timeout = d
	}
	if n, err := strconv.Atoi(os.Getenv("TUTOR_LLM_MAX_ATTEMPTS")); err == nil && n > 0 {
		cfg.Retry.MaxAttempts = n
	}
	return cfg
}

// vendorKeys lists the vendors' own API key variables in discovery order.
var vendorKeys = []struct {
	env      string
	provider string
}{
	{"GEMINI_API_KEY", "gemini"},
	{"OPENAI_API_KEY", "openai"},
	{"ANTHROPIC_API_KEY", "anthropic"},
	{"OPENROUTER_API_KEY", "openrouter"},
}

// DiscoverConfig returns a default Config for the first vendor whose
// standard API key variable is set.
func DiscoverConfig() (Config, bool) {
	for _, vk := range vendorKeys {
		key := os.Getenv(vk.env)
		if key == "" {
			continue
		}
		cfg := DefaultConfig()
		cfg.Provider = vk.provider
		*cfg.apiKey() = key
		return cfg, true
	}
	return Config{}, false
}

// apiKey points at the key field of the selected provider, nil for mock
// and unknown providers.
func (c *Config) apiKey() *string {
	switch c.Provider {
	case "anthropic":
		return &c.Anthropic.APIKey
	case "openai":
		return &c.OpenAI.APIKey
	case "gemini":
		return &c.Gemini.APIKey
	case "openrouter":
		return &c.OpenRouter.APIKey
	}
	return nil
}

// Validate checks that the selected provider is known and has a key.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("LLM timeout must not be negative")
	}
	if c.Provider == "mock" {
		return nil
	}
	key := c.apiKey()
	if key == nil {
		return fmt.Errorf("unknown LLM provider: %q", c.Provider)
	}
	if *key == "" {
		return fmt.Errorf("TUTOR_%s_API_KEY is required for the %s provider", strings.ToUpper(c.Provider), c.Provider)
	}
	return nil
}
