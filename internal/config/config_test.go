package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err, "expected defaults to load")

	assert.Equal(t, "http://localhost:8080/api", cfg.API.BaseURL)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Connection.URL)
	assert.Equal(t, 5*time.Second, cfg.Connection.ReconnectDelay)
	assert.Equal(t, 5, cfg.Connection.MaxReconnectAttempts)
	assert.Equal(t, 20, cfg.View.PageSize)
	assert.Equal(t, time.Second, cfg.View.LoadOlderCooldown)
	assert.Empty(t, cfg.Metrics.Addr, "expected metrics disabled by default")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHATKIT_API_BASE_URL", "https://chat.example.com/api")
	t.Setenv("CHATKIT_TOKEN", "secret-token")
	t.Setenv("CHATKIT_WS_URL", "wss://chat.example.com/ws")
	t.Setenv("CHATKIT_RECONNECT_DELAY", "10s")
	t.Setenv("CHATKIT_MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("CHATKIT_PAGE_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err, "expected env overrides to load")

	assert.Equal(t, "https://chat.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "secret-token", cfg.API.Token)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.Connection.URL)
	assert.Equal(t, 10*time.Second, cfg.Connection.ReconnectDelay)
	assert.Equal(t, 3, cfg.Connection.MaxReconnectAttempts)
	assert.Equal(t, 50, cfg.View.PageSize)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatkit.yaml")
	contents := []byte(`
api:
  base_url: https://file.example.com/api
connection:
  url: wss://file.example.com/ws
  reconnect_delay: 2s
view:
  page_size: 40
metrics:
  addr: ":9100"
`)
	require.NoError(t, os.WriteFile(path, contents, 0o600))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err, "expected the config file to load")

	assert.Equal(t, "https://file.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "wss://file.example.com/ws", cfg.Connection.URL)
	assert.Equal(t, 2*time.Second, cfg.Connection.ReconnectDelay)
	assert.Equal(t, 40, cfg.View.PageSize)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("view:\n  page_size: 40\n"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("CHATKIT_PAGE_SIZE", "60")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.View.PageSize, "expected env to override the file")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }},
		{"bad websocket scheme", func(c *Config) { c.Connection.URL = "http://example.com/ws" }},
		{"zero reconnect delay", func(c *Config) { c.Connection.ReconnectDelay = 0 }},
		{"negative reconnect attempts", func(c *Config) { c.Connection.MaxReconnectAttempts = -1 }},
		{"zero page size", func(c *Config) { c.View.PageSize = 0 }},
		{"negative cooldown", func(c *Config) { c.View.LoadOlderCooldown = -time.Second }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate(), "expected validation to fail")
		})
	}

	assert.NoError(t, defaultConfig().Validate(), "expected defaults to be valid")
}
