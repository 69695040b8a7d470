package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"chatkit.yaml",
	"chatkit.yml",
	"/etc/chatkit/config.yaml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CHATKIT_CONFIG_PATH"

type Config struct {
	API        APIConfig        `koanf:"api"`
	Connection ConnectionConfig `koanf:"connection"`
	View       ViewConfig       `koanf:"view"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// APIConfig locates the chat backend.
type APIConfig struct {
	BaseURL string `koanf:"base_url"`
	// Token is the bearer token used for REST calls and the realtime
	// handshake. Usually supplied via CHATKIT_TOKEN.
	Token string `koanf:"token"`
}

// ConnectionConfig tunes the realtime channel.
type ConnectionConfig struct {
	URL                  string        `koanf:"url"`
	ReconnectDelay       time.Duration `koanf:"reconnect_delay"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`
}

// ViewConfig tunes the conversation window.
type ViewConfig struct {
	PageSize          int           `koanf:"page_size"`
	LoadOlderCooldown time.Duration `koanf:"load_older_cooldown"`
}

// MetricsConfig controls the optional Prometheus endpoint. An empty
// address disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080/api",
		},
		Connection: ConnectionConfig{
			URL:                  "ws://localhost:8080/ws",
			ReconnectDelay:       5 * time.Second,
			MaxReconnectAttempts: 5,
		},
		View: ViewConfig{
			PageSize:          20,
			LoadOlderCooldown: time.Second,
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

// Load builds the configuration from three layers, later layers
// overriding earlier ones: built-in defaults, an optional YAML file,
// then CHATKIT_* environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("CHATKIT_", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url cannot be empty")
	}
	if _, err := url.Parse(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url is not a valid url: %w", err)
	}

	u, err := url.Parse(c.Connection.URL)
	if err != nil {
		return fmt.Errorf("connection.url is not a valid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("connection.url must use the ws or wss scheme, got %q", u.Scheme)
	}

	if c.Connection.ReconnectDelay <= 0 {
		return fmt.Errorf("connection.reconnect_delay must be positive")
	}
	if c.Connection.MaxReconnectAttempts < 0 {
		return fmt.Errorf("connection.max_reconnect_attempts cannot be negative")
	}
	if c.View.PageSize <= 0 {
		return fmt.Errorf("view.page_size must be positive")
	}
	if c.View.LoadOlderCooldown < 0 {
		return fmt.Errorf("view.load_older_cooldown cannot be negative")
	}

	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps CHATKIT_* variables to config paths, e.g.
// CHATKIT_API_BASE_URL -> api.base_url. Unknown variables are skipped
// so unrelated environment noise cannot leak into the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "CHATKIT_"))

	envMappings := map[string]string{
		"api_base_url": "api.base_url",
		"token":        "api.token",

		"ws_url":                 "connection.url",
		"reconnect_delay":        "connection.reconnect_delay",
		"max_reconnect_attempts": "connection.max_reconnect_attempts",

		"page_size":           "view.page_size",
		"load_older_cooldown": "view.load_older_cooldown",

		"metrics_addr": "metrics.addr",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
