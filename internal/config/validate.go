package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrMissingCredentials = errors.New("gateway credentials missing: set EVOLUTION_SERVER_URL, EVOLUTION_API_KEY, EVOLUTION_INSTANCE_NAME")

// Validate checks field formats. It does not require gateway credentials;
// see RequireGateway.
func (c *Config) Validate() error {
	var errs []error

	if c.Gateway.MaxAttempts < 0 {
		errs = append(errs, errors.New("gateway.max_attempts: must be >= 0"))
	}
	if c.Gateway.RatePerSec < 0 {
		errs = append(errs, errors.New("gateway.rate_per_sec: must be >= 0"))
	}
	if c.Gateway.DelayMS < 0 {
		errs = append(errs, errors.New("gateway.delay_ms: must be >= 0"))
	}
	if s := strings.TrimSpace(c.Gateway.ServerURL); s != "" {
		if u, err := url.Parse(s); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("gateway.server_url: invalid url %q", s))
		}
	}

	durations := map[string]string{
		"gateway.probe_timeout":               c.Gateway.ProbeTimeout,
		"gateway.text.timeout":                c.Gateway.Text.Timeout,
		"gateway.text.rate_limit_cooldown":    c.Gateway.Text.RateLimitCooldown,
		"gateway.text.timeout_backoff":        c.Gateway.Text.TimeoutBackoff,
		"gateway.text.error_backoff":          c.Gateway.Text.ErrorBackoff,
		"gateway.media.timeout":               c.Gateway.Media.Timeout,
		"gateway.media.rate_limit_cooldown":   c.Gateway.Media.RateLimitCooldown,
		"gateway.media.timeout_backoff":       c.Gateway.Media.TimeoutBackoff,
		"gateway.media.error_backoff":         c.Gateway.Media.ErrorBackoff,
		"dispatch.message_media_delay.base":   c.Dispatch.MessageMediaDelay.Base,
		"dispatch.message_media_delay.jitter": c.Dispatch.MessageMediaDelay.Jitter,
		"dispatch.recipient_delay.base":       c.Dispatch.RecipientDelay.Base,
		"dispatch.recipient_delay.jitter":     c.Dispatch.RecipientDelay.Jitter,
		"status.busy_timeout":                 c.Status.BusyTimeout,
		"status.lock_timeout":                 c.Status.LockTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Status.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3", "memory", "mem":
	default:
		errs = append(errs, fmt.Errorf("status.driver: unknown driver %q", c.Status.Driver))
	}
	if d := strings.ToLower(strings.TrimSpace(c.Status.Driver)); d != "memory" && d != "mem" && strings.TrimSpace(c.Status.Path) == "" {
		errs = append(errs, errors.New("status.path: required"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// RequireGateway reports ErrMissingCredentials unless server URL, API key
// and instance are all set.
func (c *Config) RequireGateway() error {
	var missing []string
	if strings.TrimSpace(c.Gateway.ServerURL) == "" {
		missing = append(missing, "gateway.server_url")
	}
	if strings.TrimSpace(c.Gateway.APIKey) == "" {
		missing = append(missing, "gateway.api_key")
	}
	if strings.TrimSpace(c.Gateway.Instance) == "" {
		missing = append(missing, "gateway.instance")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w (%s)", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}
