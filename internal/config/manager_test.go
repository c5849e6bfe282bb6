package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"EVOLUTION_SERVER_URL", "EVOLUTION_API_KEY", "EVOLUTION_INSTANCE_NAME", "WADISPATCH_STATUS_PATH", "WADISPATCH_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "wadispatch.yaml", `
gateway:
  server_url: https://evo.example.com
  api_key: k
  instance: rh
  media:
    rate_limit_cooldown: 3m
dispatch:
  recipient_delay: {base: 45s, jitter: 5s}
status:
  driver: sqlite
  path: ./status.db
`)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "https://evo.example.com", cfg.Gateway.ServerURL)
	assert.Equal(t, "3m", cfg.Gateway.Media.RateLimitCooldown)
	assert.Equal(t, "60s", cfg.Gateway.Media.Timeout, "sibling fields keep defaults")
	assert.Equal(t, "30s", cfg.Gateway.Text.Timeout)
	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
	assert.Equal(t, DelayConfig{Base: "45s", Jitter: "5s"}, cfg.Dispatch.RecipientDelay)
	assert.Equal(t, DelayConfig{Base: "20s", Jitter: "8s"}, cfg.Dispatch.MessageMediaDelay)
	assert.Equal(t, "sqlite", cfg.Status.Driver)
	assert.True(t, cfg.Logging.Console)
	assert.Same(t, cfg, m.Get())
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "c.json", `{"gateway": {"server_url": "http://x", "apikey": "typo"}}`)
	_, err := NewConfigManager(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apikey")
}

func TestLoadRejectsTrailingData(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "c.json", `{"logging": {"level": "debug"}} {"x": 1}`)
	_, err := NewConfigManager(path).Load()
	assert.Error(t, err)
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVOLUTION_SERVER_URL", "http://localhost:8080")
	t.Setenv("EVOLUTION_API_KEY", "secret")
	t.Setenv("EVOLUTION_INSTANCE_NAME", "comunicados")
	t.Setenv("WADISPATCH_LOG_LEVEL", "debug")

	cfg, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Gateway.ServerURL)
	assert.Equal(t, "secret", cfg.Gateway.APIKey)
	assert.Equal(t, "comunicados", cfg.Gateway.Instance)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "comunicados_status.json", cfg.Status.Path)
	assert.NoError(t, cfg.RequireGateway())
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVOLUTION_API_KEY", "from-env")
	t.Setenv("WADISPATCH_STATUS_PATH", "/var/lib/wadispatch/status.json")
	path := writeFile(t, "c.json", `{"gateway": {"api_key": "from-file", "instance": "a"}}`)

	cfg, err := NewConfigManager(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Gateway.APIKey)
	assert.Equal(t, "a", cfg.Gateway.Instance)
	assert.Equal(t, "/var/lib/wadispatch/status.json", cfg.Status.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"bad duration", func(c *Config) { c.Gateway.Text.Timeout = "soon" }, "gateway.text.timeout"},
		{"negative duration", func(c *Config) { c.Dispatch.RecipientDelay.Jitter = "-1s" }, "dispatch.recipient_delay.jitter"},
		{"bad driver", func(c *Config) { c.Status.Driver = "redis" }, "status.driver"},
		{"no path", func(c *Config) { c.Status.Path = "" }, "status.path"},
		{"bad url", func(c *Config) { c.Gateway.ServerURL = "evo.local" }, "gateway.server_url"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"negative attempts", func(c *Config) { c.Gateway.MaxAttempts = -1 }, "gateway.max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	cfg.Status = StatusConfig{Driver: "memory"}
	assert.NoError(t, cfg.Validate())
}

func TestRequireGateway(t *testing.T) {
	cfg := Default()
	err := cfg.RequireGateway()
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Contains(t, err.Error(), "gateway.api_key")
}

func TestParseDelay(t *testing.T) {
	base, jitter, err := ParseDelay("dispatch.recipient_delay", DelayConfig{Base: "30s", Jitter: "10s"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, base)
	assert.Equal(t, 10*time.Second, jitter)

	_, _, err = ParseDelay("d", DelayConfig{Base: "x"})
	assert.ErrorContains(t, err, "d.base")
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := Default()
	newCfg := Default()
	newCfg.Gateway.APIKey = "new-secret"
	newCfg.Logging.Level = "debug"

	changed, attrs := SummarizeConfigChange(&oldCfg, &newCfg)
	assert.Equal(t, []string{"gateway", "logging"}, changed)
	assert.NotEmpty(t, attrs)

	same, _ := SummarizeConfigChange(&oldCfg, &oldCfg)
	assert.Empty(t, same)
}

func TestWatchPublishesReload(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "c.json", `{"logging": {"level": "info"}}`)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}

func TestMarshalYAMLUsesJSONNames(t *testing.T) {
	b, err := MarshalYAML(struct {
		IsRunning bool `json:"is_running"`
	}{true})
	require.NoError(t, err)
	assert.Equal(t, "is_running: true\n", string(b))
}
