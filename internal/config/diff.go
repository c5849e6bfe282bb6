package config

import (
	"strings"
	logx "wadispatch/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured fields for logging. The API key is never included; only whether
// it changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	og, ng := oldCfg.Gateway, newCfg.Gateway
	keyChanged := og.APIKey != ng.APIKey
	if strings.TrimSpace(og.ServerURL) != strings.TrimSpace(ng.ServerURL) ||
		og.Instance != ng.Instance ||
		keyChanged ||
		og.MaxAttempts != ng.MaxAttempts ||
		og.RatePerSec != ng.RatePerSec ||
		og.DelayMS != ng.DelayMS ||
		og.ProbeTimeout != ng.ProbeTimeout ||
		og.Text != ng.Text ||
		og.Media != ng.Media {
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.String("gateway.server_url", strings.TrimSpace(ng.ServerURL)),
			logx.String("gateway.instance", ng.Instance),
			logx.Bool("gateway.api_key_changed", keyChanged),
			logx.Int("gateway.max_attempts", ng.MaxAttempts),
			logx.Float64("gateway.rate_per_sec", ng.RatePerSec),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.recipient_delay", newCfg.Dispatch.RecipientDelay.Base+"±"+newCfg.Dispatch.RecipientDelay.Jitter),
			logx.String("dispatch.message_media_delay", newCfg.Dispatch.MessageMediaDelay.Base+"±"+newCfg.Dispatch.MessageMediaDelay.Jitter),
			logx.String("dispatch.archive_dir", newCfg.Dispatch.ArchiveDir),
			logx.Bool("dispatch.abort_on_reset", newCfg.Dispatch.AbortOnReset),
		)
	}

	// Status store changes only take effect on restart; surfaced so the
	// reload log says so.
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.String("status.driver", newCfg.Status.Driver),
			logx.String("status.path", newCfg.Status.Path),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
			logx.Bool("metrics.token_set", newCfg.Metrics.Token != ""),
		)
	}

	return changed, attrs
}
