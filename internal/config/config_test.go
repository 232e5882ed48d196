package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	s, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", s.Provider)
	assert.Equal(t, "ANTHROPIC_API_KEY", s.APIKeyEnv)
	assert.Equal(t, 0.2, s.Temperature)
	assert.Equal(t, 2048, s.MaxOutputTokens)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PUK_PROVIDER", "mock")
	t.Setenv("PUK_MODEL", "test-model")
	t.Setenv("PUK_TEMPERATURE", "0.7")
	t.Setenv("PUK_MAX_OUTPUT_TOKENS", "512")

	s, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "mock", s.Provider)
	assert.Equal(t, "test-model", s.Model)
	assert.Equal(t, 0.7, s.Temperature)
	assert.Equal(t, 512, s.MaxOutputTokens)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid anthropic", func(s *Settings) { s.Model = "claude-sonnet-4-5" }, ""},
		{"valid mock without model", func(s *Settings) { s.Provider = "mock" }, ""},
		{"unknown provider", func(s *Settings) { s.Provider = "copilot" }, "invalid provider"},
		{"anthropic without model", func(s *Settings) {}, "requires an explicit model"},
		{"temperature too high", func(s *Settings) { s.Model = "m"; s.Temperature = 2.5 }, "temperature"},
		{"temperature negative", func(s *Settings) { s.Model = "m"; s.Temperature = -0.1 }, "temperature"},
		{"zero max tokens", func(s *Settings) { s.Model = "m"; s.MaxOutputTokens = 0 }, "max_output_tokens"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := Default()
			tc.mutate(&s)
			err := s.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestAPIKey(t *testing.T) {
	t.Setenv("PUK_TEST_KEY", "secret")
	s := Default()
	s.APIKeyEnv = "PUK_TEST_KEY"
	assert.Equal(t, "secret", s.APIKey())

	s.APIKeyEnv = ""
	assert.Empty(t, s.APIKey())
}

func TestSnapshot(t *testing.T) {
	s := Default()
	s.Model = "claude-sonnet-4-5"
	snap := s.Snapshot()
	assert.Equal(t, "anthropic", snap.Provider)
	assert.Equal(t, "claude-sonnet-4-5", snap.Model)
	assert.Equal(t, 0.2, snap.Temperature)
	assert.Equal(t, 2048, snap.MaxOutputTokens)
}
