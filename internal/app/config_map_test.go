package app

import (
	"testing"
	"time"
	"wadispatch/internal/config"
	"wadispatch/internal/gateway"
	"wadispatch/internal/runstatus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapGatewayConfigDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.ServerURL = " https://evo.example.com/ "
	cfg.Gateway.APIKey = "k"
	cfg.Gateway.Instance = "inst"
	cfg.Gateway.Text = config.RetryConfig{RateLimitCooldown: "5s"}
	cfg.Gateway.Media = config.RetryConfig{}
	cfg.Gateway.ProbeTimeout = ""

	gc, err := mapGatewayConfig(&cfg)
	require.NoError(t, err)
	def := gateway.DefaultPolicy()
	assert.Equal(t, "https://evo.example.com/", gc.ServerURL)
	assert.Equal(t, 5*time.Second, gc.Policy.Text.RateLimitCooldown)
	assert.Equal(t, def.Text.Timeout, gc.Policy.Text.Timeout)
	assert.Equal(t, def.Media, gc.Policy.Media)
	assert.Equal(t, def.ProbeTimeout, gc.Policy.ProbeTimeout)
	assert.Equal(t, 3, gc.Policy.MaxAttempts)
	require.NoError(t, gc.Validate())
}

func TestMapGatewayConfigRejectsBadDuration(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Media.Timeout = "forever"
	_, err := mapGatewayConfig(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.media.timeout")
}

func TestMapPacingKeepsZeroDelays(t *testing.T) {
	cfg := config.Default()
	cfg.Dispatch.RecipientDelay = config.DelayConfig{Base: "0s", Jitter: "0s"}
	cfg.Dispatch.AbortOnReset = true
	cfg.Gateway.DelayMS = 1200

	p, err := mapPacing(&cfg)
	require.NoError(t, err)
	assert.Zero(t, p.RecipientDelay.Base)
	assert.Zero(t, p.RecipientDelay.Jitter)
	assert.Equal(t, 20*time.Second, p.MessageMediaDelay.Base)
	assert.Equal(t, 8*time.Second, p.MessageMediaDelay.Jitter)
	assert.Equal(t, 1200, p.GatewayDelayMS)
	assert.True(t, p.AbortOnReset)
	assert.Equal(t, "enviados_comunicados", p.ArchiveDir)
}

func TestMapStatusConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      config.StatusConfig
		want    runstatus.Config
		wantErr bool
	}{
		{
			name: "file default lock timeout",
			in:   config.StatusConfig{Driver: "", Path: "s.json"},
			want: runstatus.Config{Driver: "file", Path: "s.json", LockTimeout: 5 * time.Second},
		},
		{
			name: "sqlite busy timeout",
			in:   config.StatusConfig{Driver: "SQLite3", Path: "s.db", BusyTimeout: "2s"},
			want: runstatus.Config{Driver: "sqlite", Path: "s.db", BusyTimeout: 2 * time.Second},
		},
		{
			name: "memory ignores path",
			in:   config.StatusConfig{Driver: "mem"},
			want: runstatus.Config{Driver: "memory"},
		},
		{name: "sqlite needs path", in: config.StatusConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown driver", in: config.StatusConfig{Driver: "redis", Path: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Status = tt.in
			got, err := mapStatusConfig(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapMetricsConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics = config.MetricsConfig{Enabled: true, Token: "t"}
	mc := mapMetricsConfig(&cfg)
	assert.True(t, mc.Enabled)
	assert.Equal(t, DefaultMetricsAddr, mc.Addr)
	assert.Equal(t, "t", mc.Token)
}
