package app

import (
	"time"
	"wadispatch/internal/config"
	"wadispatch/internal/runtime/supervisor"
)

// ---- Config ----

type Config = config.Config

type RetryConfig = config.RetryConfig

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

// SummarizeConfigChange produces a safe, structured summary of config diffs.
var SummarizeConfigChange = config.SummarizeConfigChange

const DefaultMetricsAddr = config.DefaultMetricsAddr

var ErrMissingCredentials = config.ErrMissingCredentials

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

func parseDelay(path string, d config.DelayConfig) (time.Duration, time.Duration, error) {
	return config.ParseDelay(path, d)
}

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.New

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError
