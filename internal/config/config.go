// Package config holds the resolved model/provider settings consumed by the
// engine. Discovery and merging of configuration files happens outside the
// core; this package only carries the resolved object, applies environment
// overrides, and validates the result.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/puk/internal/ledger"
)

// SupportedProviders lists the providers the runner can construct an agent
// runtime for.
var SupportedProviders = []string{"anthropic", "mock"}

// Settings is the resolved LLM configuration for one invocation.
type Settings struct {
	Provider        string  `env:"PUK_PROVIDER"`
	Model           string  `env:"PUK_MODEL"`
	APIKeyEnv       string  `env:"PUK_API_KEY_ENV"`
	Temperature     float64 `env:"PUK_TEMPERATURE"`
	MaxOutputTokens int     `env:"PUK_MAX_OUTPUT_TOKENS"`
}

// Default returns the baseline settings before any override layer.
func Default() Settings {
	return Settings{
		Provider:        "anthropic",
		Model:           "",
		APIKeyEnv:       "ANTHROPIC_API_KEY",
		Temperature:     0.2,
		MaxOutputTokens: 2048,
	}
}

// FromEnv layers PUK_* environment overrides over the defaults.
func FromEnv() (Settings, error) {
	s := Default()
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("parse environment overrides: %w", err)
	}
	return s, nil
}

// Validate applies the settings invariants. Called once after all override
// layers are merged; validation failures fail the invocation before any
// agent-runtime call.
func (s Settings) Validate() error {
	supported := false
	for _, p := range SupportedProviders {
		if s.Provider == p {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("invalid provider %q: supported providers are %v", s.Provider, SupportedProviders)
	}
	if s.Provider == "anthropic" && s.Model == "" {
		return fmt.Errorf("provider %q requires an explicit model", s.Provider)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature %v must be between 0.0 and 2.0", s.Temperature)
	}
	if s.MaxOutputTokens <= 0 {
		return fmt.Errorf("max_output_tokens must be a positive integer")
	}
	return nil
}

// APIKey reads the provider API key from the environment variable named by
// APIKeyEnv.
func (s Settings) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.APIKeyEnv)
}

// Snapshot converts the settings into the form captured in a run manifest.
func (s Settings) Snapshot() ledger.LLMSnapshot {
	return ledger.LLMSnapshot{
		Provider:        s.Provider,
		Model:           s.Model,
		Temperature:     s.Temperature,
		MaxOutputTokens: s.MaxOutputTokens,
	}
}
