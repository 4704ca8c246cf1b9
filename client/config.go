package client

import "time"

// Config contains all runtime configuration loaded from environment
// variables.
type Config struct {
	BaseURL   string
	SocketURL string

	LogLevel  string
	LogFormat string

	RequestTimeout time.Duration

	// CachePath enables the persistent (SQLite) cache backend. Empty means
	// in-memory only: cached snapshots do not survive a restart.
	CachePath string

	// ProbeAddr enables the dial-probe connectivity oracle (host:port).
	// Empty means the network is assumed reachable unless a platform
	// oracle is injected.
	ProbeAddr string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		BaseURL:   EnvString("SOUK_API_BASE_URL", "https://api.souk.local/v1"),
		SocketURL: EnvString("SOUK_PUSH_URL", ""),

		LogLevel:  EnvString("SOUK_LOG_LEVEL", "info"),
		LogFormat: EnvString("SOUK_LOG_FORMAT", "json"),

		RequestTimeout: EnvDuration("SOUK_REQUEST_TIMEOUT", 10*time.Second),

		CachePath: EnvString("SOUK_CACHE_PATH", ""),
		ProbeAddr: EnvString("SOUK_PROBE_ADDR", ""),
	}
}
