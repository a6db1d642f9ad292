package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort          = 8080
	DefaultLogLevel          = "info"
	DefaultBroadcastInterval = 5 * time.Second
	DefaultStoreTTL          = 5 * time.Minute
	DefaultStoreRetries      = 4
)

// Store kinds.
const (
	KindPlain = "plain"
	KindRetry = "retry"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, /metrics and WebSocket hub listen on
	// (default 8080).
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error (default info).
	LogLevel string `yaml:"log_level"`

	// Auth configures how the server authenticates REST and WebSocket clients.
	Auth AuthConfig `yaml:"auth"`

	// BroadcastInterval controls how often store stats are pushed to
	// WebSocket clients (default 5s).
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// Stores lists the named stores the server hosts.
	Stores []StoreConfig `yaml:"stores"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StoreConfig describes one hosted store.
type StoreConfig struct {
	// Name is the unique store name used in API paths and metric labels.
	Name string `yaml:"name"`

	// Kind is one of: plain | retry (default plain).
	Kind string `yaml:"kind"`

	// DefaultTTL is the lifetime given to entries written without an explicit
	// ttl or expires_at (default 5m).
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// DefaultRetries is the retry budget of entries written without an
	// explicit one. Only meaningful for kind retry (default 4).
	DefaultRetries int `yaml:"default_retries"`
}

// Level maps LogLevel onto a slog.Level. Unknown values fall back to info;
// validate rejects them before this is reached.
func (s ServerConfig) Level() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	applyStoreDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			LogLevel:          DefaultLogLevel,
			BroadcastInterval: DefaultBroadcastInterval,
		},
	}
}

// applyStoreDefaults fills per-store fields; yaml cannot pre-populate list
// elements the way defaults() does for scalars.
func applyStoreDefaults(cfg *Config) {
	for i := range cfg.Server.Stores {
		st := &cfg.Server.Stores[i]
		if st.Kind == "" {
			st.Kind = KindPlain
		}
		if st.DefaultTTL == 0 {
			st.DefaultTTL = DefaultStoreTTL
		}
		if st.Kind == KindRetry && st.DefaultRetries == 0 {
			st.DefaultRetries = DefaultStoreRetries
		}
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", cfg.Server.LogLevel)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}

	seen := make(map[string]bool, len(cfg.Server.Stores))
	for i, st := range cfg.Server.Stores {
		if st.Name == "" {
			return fmt.Errorf("stores[%d]: name is required", i)
		}
		if seen[st.Name] {
			return fmt.Errorf("stores[%d]: duplicate name %q", i, st.Name)
		}
		seen[st.Name] = true

		switch st.Kind {
		case KindPlain, KindRetry:
		default:
			return fmt.Errorf("stores[%d] %q: unknown kind %q: want plain|retry", i, st.Name, st.Kind)
		}
		if st.DefaultTTL < 0 {
			return fmt.Errorf("stores[%d] %q: default_ttl must not be negative", i, st.Name)
		}
		if st.DefaultRetries < 0 {
			return fmt.Errorf("stores[%d] %q: default_retries must not be negative", i, st.Name)
		}
	}
	return nil
}
