package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLUX_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://api.bfl.ai/v1", cfg.Flux.BaseURL)
	assert.Equal(t, "/get_result", cfg.Flux.ResultPath)
	assert.Equal(t, 30, cfg.Flux.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Flux.PollInterval)
	assert.Equal(t, []string{"bfl.ai"}, cfg.Proxy.AllowedHosts)
	assert.Equal(t, int64(20<<20), cfg.Proxy.MaxBytes)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLUX_API_KEY", "secret")
	t.Setenv("FLUX_POLL_MAX_ATTEMPTS", "3")
	t.Setenv("FLUX_POLL_INTERVAL", "250ms")
	t.Setenv("PROXY_ALLOWED_HOSTS", "bfl.ai,cdn.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Flux.APIKey)
	assert.Equal(t, 3, cfg.Flux.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Flux.PollInterval)
	assert.Equal(t, []string{"bfl.ai", "cdn.example"}, cfg.Proxy.AllowedHosts)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoadRejectsZeroAttempts(t *testing.T) {
	t.Setenv("FLUX_POLL_MAX_ATTEMPTS", "0")

	_, err := Load()
	assert.Error(t, err)
}
