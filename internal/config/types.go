package config

// Config is the file schema (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2m").
// Omitted fields keep the values from Default().
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Dispatch DispatchConfig `json:"dispatch"`
	Status   StatusConfig   `json:"status"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// GatewayConfig points at one Evolution API instance.
//
// ServerURL, APIKey and Instance may come from the environment
// (EVOLUTION_SERVER_URL, EVOLUTION_API_KEY, EVOLUTION_INSTANCE_NAME).
type GatewayConfig struct {
	ServerURL string `json:"server_url"`
	APIKey    string `json:"api_key"` // secret; never logged
	Instance  string `json:"instance"`

	MaxAttempts  int     `json:"max_attempts,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"` // 0 disables client-side pacing
	DelayMS      int     `json:"delay_ms,omitempty"`     // forwarded as the API "delay" field
	ProbeTimeout string  `json:"probe_timeout,omitempty"`

	Text  RetryConfig `json:"text"`
	Media RetryConfig `json:"media"`
}

// RetryConfig holds the retry timings of one send operation.
type RetryConfig struct {
	Timeout           string `json:"timeout,omitempty"`
	RateLimitCooldown string `json:"rate_limit_cooldown,omitempty"`
	TimeoutBackoff    string `json:"timeout_backoff,omitempty"`
	ErrorBackoff      string `json:"error_backoff,omitempty"`
}

type DispatchConfig struct {
	MessageMediaDelay DelayConfig `json:"message_media_delay"`
	RecipientDelay    DelayConfig `json:"recipient_delay"`
	ArchiveDir        string      `json:"archive_dir"`
	AbortOnReset      bool        `json:"abort_on_reset,omitempty"`
}

// DelayConfig is a humanizing delay of base ± jitter.
type DelayConfig struct {
	Base   string `json:"base"`
	Jitter string `json:"jitter"`
}

// StatusConfig selects the run status store.
//
// Example:
//
//	"status": { "driver": "sqlite", "path": "./comunicados_status.db" }
type StatusConfig struct {
	Driver      string `json:"driver"` // file (default) | sqlite | memory
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	LockTimeout string `json:"lock_timeout,omitempty"` // file
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"` // empty: a per-process timestamped file
}

// MetricsConfig controls the Prometheus endpoint served by "serve".
//
// A non-loopback Addr requires Token; requests then need
// "Authorization: Bearer <token>" or "?token=<token>".
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Token   string `json:"token,omitempty"` // secret; never logged
}

const DefaultMetricsAddr = "127.0.0.1:9464"

// Default returns the baseline profile. Send timings match the gateway's
// documented throttling guidance.
func Default() Config {
	return Config{
		Gateway: GatewayConfig{
			MaxAttempts:  3,
			ProbeTimeout: "10s",
			Text: RetryConfig{
				Timeout:           "30s",
				RateLimitCooldown: "60s",
				TimeoutBackoff:    "10s",
				ErrorBackoff:      "30s",
			},
			Media: RetryConfig{
				Timeout:           "60s",
				RateLimitCooldown: "120s",
				TimeoutBackoff:    "20s",
				ErrorBackoff:      "60s",
			},
		},
		Dispatch: DispatchConfig{
			MessageMediaDelay: DelayConfig{Base: "20s", Jitter: "8s"},
			RecipientDelay:    DelayConfig{Base: "30s", Jitter: "10s"},
			ArchiveDir:        "enviados_comunicados",
		},
		Status: StatusConfig{
			Driver: "file",
			Path:   "comunicados_status.json",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
	}
}
