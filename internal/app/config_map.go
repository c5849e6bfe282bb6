package app

import (
	"fmt"
	"strings"
	"time"
	"wadispatch/internal/dispatch"
	"wadispatch/internal/gateway"
	"wadispatch/internal/observability/metricsrv"
	"wadispatch/internal/runstatus"
	logx "wadispatch/pkg/logx"
)

func mapGatewayConfig(cfg *Config) (gateway.Config, error) {
	gc := cfg.Gateway
	def := gateway.DefaultPolicy()

	probe, err := parseDurationOrDefault("gateway.probe_timeout", gc.ProbeTimeout, def.ProbeTimeout)
	if err != nil {
		return gateway.Config{}, err
	}
	text, err := mapOpPolicy("gateway.text", gc.Text, def.Text)
	if err != nil {
		return gateway.Config{}, err
	}
	media, err := mapOpPolicy("gateway.media", gc.Media, def.Media)
	if err != nil {
		return gateway.Config{}, err
	}
	return gateway.Config{
		ServerURL: strings.TrimSpace(gc.ServerURL),
		APIKey:    strings.TrimSpace(gc.APIKey),
		Instance:  strings.TrimSpace(gc.Instance),
		Policy: gateway.Policy{
			MaxAttempts:  gc.MaxAttempts,
			Text:         text,
			Media:        media,
			ProbeTimeout: probe,
		},
		RatePerSec: gc.RatePerSec,
	}, nil
}

func mapOpPolicy(path string, rc RetryConfig, def gateway.OpPolicy) (gateway.OpPolicy, error) {
	var (
		p   gateway.OpPolicy
		err error
	)
	if p.Timeout, err = parseDurationOrDefault(path+".timeout", rc.Timeout, def.Timeout); err != nil {
		return p, err
	}
	if p.RateLimitCooldown, err = parseDurationOrDefault(path+".rate_limit_cooldown", rc.RateLimitCooldown, def.RateLimitCooldown); err != nil {
		return p, err
	}
	if p.TimeoutBackoff, err = parseDurationOrDefault(path+".timeout_backoff", rc.TimeoutBackoff, def.TimeoutBackoff); err != nil {
		return p, err
	}
	if p.ErrorBackoff, err = parseDurationOrDefault(path+".error_backoff", rc.ErrorBackoff, def.ErrorBackoff); err != nil {
		return p, err
	}
	return p, nil
}

// mapPacing keeps explicit zero delays: "0s" disables a pause.
func mapPacing(cfg *Config) (dispatch.Pacing, error) {
	dc := cfg.Dispatch
	p := dispatch.Pacing{
		GatewayDelayMS: cfg.Gateway.DelayMS,
		ArchiveDir:     strings.TrimSpace(dc.ArchiveDir),
		AbortOnReset:   dc.AbortOnReset,
	}
	var err error
	if p.MessageMediaDelay.Base, p.MessageMediaDelay.Jitter, err = parseDelay("dispatch.message_media_delay", dc.MessageMediaDelay); err != nil {
		return dispatch.Pacing{}, err
	}
	if p.RecipientDelay.Base, p.RecipientDelay.Jitter, err = parseDelay("dispatch.recipient_delay", dc.RecipientDelay); err != nil {
		return dispatch.Pacing{}, err
	}
	return p, nil
}

func mapStatusConfig(cfg *Config) (runstatus.Config, error) {
	sc := cfg.Status
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file", "json":
		if path == "" {
			return runstatus.Config{}, fmt.Errorf("status.path is required when status.driver=file")
		}
		lock, err := parseDurationOrDefault("status.lock_timeout", sc.LockTimeout, 5*time.Second)
		if err != nil {
			return runstatus.Config{}, err
		}
		return runstatus.Config{Driver: "file", Path: path, LockTimeout: lock}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return runstatus.Config{}, fmt.Errorf("status.path is required when status.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("status.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return runstatus.Config{}, err
		}
		return runstatus.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory", "mem":
		return runstatus.Config{Driver: "memory"}, nil
	default:
		return runstatus.Config{}, fmt.Errorf("unknown status.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapMetricsConfig(cfg *Config) metricsrv.Config {
	addr := strings.TrimSpace(cfg.Metrics.Addr)
	if addr == "" {
		addr = DefaultMetricsAddr
	}
	return metricsrv.Config{
		Enabled:      cfg.Metrics.Enabled,
		Addr:         addr,
		Token:        cfg.Metrics.Token,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// validateMapping rejects configs the wiring cannot turn into components.
func validateMapping(cfg *Config) error {
	if _, err := mapGatewayConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPacing(cfg); err != nil {
		return err
	}
	_, err := mapStatusConfig(cfg)
	return err
}
