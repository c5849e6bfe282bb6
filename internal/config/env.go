package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverlay lists the environment variables that override the file.
// Empty variables leave the file value untouched.
type envOverlay struct {
	ServerURL  string `envconfig:"EVOLUTION_SERVER_URL"`
	APIKey     string `envconfig:"EVOLUTION_API_KEY"`
	Instance   string `envconfig:"EVOLUTION_INSTANCE_NAME"`
	StatusPath string `envconfig:"WADISPATCH_STATUS_PATH"`
	LogLevel   string `envconfig:"WADISPATCH_LOG_LEVEL"`
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var e envOverlay
	if err := envconfig.Process("", &e); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Gateway.ServerURL, e.ServerURL)
	set(&cfg.Gateway.APIKey, e.APIKey)
	set(&cfg.Gateway.Instance, e.Instance)
	set(&cfg.Status.Path, e.StatusPath)
	set(&cfg.Logging.Level, e.LogLevel)
	return nil
}
