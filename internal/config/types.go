package config

// Config is the on-disk configuration for sleepd.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted sections fall back to the defaults documented per field.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Delivery  *DeliveryConfig `json:"delivery,omitempty"`
	Insight   *InsightConfig  `json:"insight,omitempty"`
	Metrics   *MetricsConfig  `json:"metrics,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ServerConfig controls the HTTP listener serving the API, the websocket
// endpoint and metrics.
type ServerConfig struct {
	Addr            string `json:"addr"`                       // default ":8080"
	ReadTimeout     string `json:"read_timeout,omitempty"`     // default "10s"
	WriteTimeout    string `json:"write_timeout,omitempty"`    // default "15s"
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"` // default "5s"

	// Pprof mounts net/http/pprof on the same listener. Off by default.
	Pprof *PprofConfig `json:"pprof,omitempty"`
}

// PprofConfig guards the profiling endpoints. When Token is set requests
// must carry it as a bearer token or ?token= query parameter.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"` // default "/debug/pprof/"
	Token   string `json:"token,omitempty"`
}

// AuthConfig configures bearer token verification. The secret is never
// logged.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	Issuer    string `json:"issuer,omitempty"`
	// CookieName is checked when no Authorization header or token query
	// parameter is present. Default "token".
	CookieName string `json:"cookie_name,omitempty"`
}

// StorageConfig controls the SQLite store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/sleepd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls trigger runners and the global sweeps.
//
// Hours are 0-23 in the scheduler timezone. Weekday uses 0=Sunday..6=Saturday.
// Pointers distinguish "omitted" from an explicit zero.
type SchedulerConfig struct {
	Timezone          string `json:"timezone,omitempty"`
	MissingLogHour    *int   `json:"missing_log_hour,omitempty"`       // default 8
	WeeklySummaryDay  *int   `json:"weekly_summary_weekday,omitempty"` // default 1 (Monday)
	WeeklySummaryHour *int   `json:"weekly_summary_hour,omitempty"`    // default 8
	SweepRatePerSec   int    `json:"sweep_rate_per_sec,omitempty"`     // 0 = unthrottled
	DisableCatchUp    bool   `json:"disable_catch_up,omitempty"`
	FiringTimeout     string `json:"firing_timeout,omitempty"` // default "30s"
}

// DeliveryConfig controls websocket connections.
type DeliveryConfig struct {
	SendBuffer     int      `json:"send_buffer,omitempty"`   // default 32
	WriteTimeout   string   `json:"write_timeout,omitempty"` // default "10s"
	PingInterval   string   `json:"ping_interval,omitempty"` // default "30s"
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// InsightConfig controls the insight cache and the generation provider.
type InsightConfig struct {
	// Grace is the tolerance added to generatedAt when comparing against
	// the latest record mutation. Default "2s".
	Grace        string `json:"grace,omitempty"`
	WindowSize   int    `json:"window_size,omitempty"`   // default 7
	FallbackGoal int    `json:"fallback_goal,omitempty"` // default 480

	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Model      string `json:"model,omitempty"` // default "gpt-4.1-mini"
	MaxRetries int    `json:"max_retries,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // default "60s"
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // default "/metrics"
}
