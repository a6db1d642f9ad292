package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Server section absent entirely.
	p := writeConfig(t, `other:
  key: value
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.LogLevel != DefaultLogLevel {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, DefaultLogLevel)
	}
	if cfg.Server.BroadcastInterval != DefaultBroadcastInterval {
		t.Errorf("broadcast_interval: got %v, want %v", cfg.Server.BroadcastInterval, DefaultBroadcastInterval)
	}
	if len(cfg.Server.Stores) != 0 {
		t.Errorf("stores: got %d, want 0", len(cfg.Server.Stores))
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  http_port: 9091
  log_level: debug
  broadcast_interval: 2s
  auth:
    mode: apikey
    key_env: MY_KEY
    header: x-store-key
  stores:
    - name: sessions
      default_ttl: 10m
    - name: outbox
      kind: retry
      default_ttl: 30s
      default_retries: 7
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", cfg.Server.HTTPPort)
	}
	if cfg.Server.Level() != slog.LevelDebug {
		t.Errorf("Level(): got %v, want debug", cfg.Server.Level())
	}
	if cfg.Server.Auth.EffectiveHeader() != "x-store-key" {
		t.Errorf("header: got %q, want x-store-key", cfg.Server.Auth.EffectiveHeader())
	}
	if cfg.Server.BroadcastInterval != 2*time.Second {
		t.Errorf("broadcast_interval: got %v, want 2s", cfg.Server.BroadcastInterval)
	}
	if len(cfg.Server.Stores) != 2 {
		t.Fatalf("stores: got %d, want 2", len(cfg.Server.Stores))
	}

	sessions := cfg.Server.Stores[0]
	if sessions.Kind != KindPlain {
		t.Errorf("sessions.kind: got %q, want plain", sessions.Kind)
	}
	if sessions.DefaultTTL != 10*time.Minute {
		t.Errorf("sessions.default_ttl: got %v, want 10m", sessions.DefaultTTL)
	}
	if sessions.DefaultRetries != 0 {
		t.Errorf("sessions.default_retries: got %d, want 0 for plain store", sessions.DefaultRetries)
	}

	outbox := cfg.Server.Stores[1]
	if outbox.Kind != KindRetry || outbox.DefaultRetries != 7 || outbox.DefaultTTL != 30*time.Second {
		t.Errorf("outbox: got %+v", outbox)
	}
}

func TestLoad_StoreDefaults(t *testing.T) {
	p := writeConfig(t, `server:
  stores:
    - name: retries
      kind: retry
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := cfg.Server.Stores[0]
	if st.DefaultTTL != DefaultStoreTTL {
		t.Errorf("default_ttl: got %v, want %v", st.DefaultTTL, DefaultStoreTTL)
	}
	if st.DefaultRetries != DefaultStoreRetries {
		t.Errorf("default_retries: got %d, want %d", st.DefaultRetries, DefaultStoreRetries)
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestLoad_KeyEnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown auth mode": `server:
  auth:
    mode: oauth2
`,
		"port out of range": `server:
  http_port: 70000
`,
		"unknown log level": `server:
  log_level: chatty
`,
		"store without name": `server:
  stores:
    - kind: retry
`,
		"duplicate store": `server:
  stores:
    - name: a
    - name: a
`,
		"unknown kind": `server:
  stores:
    - name: a
      kind: lru
`,
		"negative ttl": `server:
  stores:
    - name: a
      default_ttl: -1s
`,
		"negative retries": `server:
  stores:
    - name: a
      kind: retry
      default_retries: -2
`,
		"bad yaml": "server: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, `server:
  stores:
    - name: a
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	errc := make(chan error, 1)
	go func() { errc <- Watch(ctx, p, func(c *Config) { reloaded <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(p, []byte(`server:
  stores:
    - name: a
    - name: b
`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if len(cfg.Server.Stores) != 2 {
			t.Errorf("stores after reload: got %d, want 2", len(cfg.Server.Stores))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not report the change")
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Watch returned %v, want nil", err)
	}
}

func TestWatch_SkipsInvalidReload(t *testing.T) {
	p := writeConfig(t, `server: {}`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { reloaded <- c }) //nolint:errcheck

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(p, []byte("server:\n  http_port: -1\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-reloaded:
		t.Fatal("onChange called for an invalid config")
	case <-time.After(400 * time.Millisecond):
	}
}
