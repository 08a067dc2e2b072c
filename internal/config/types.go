package config

import "time"

type Config struct {
	Logging LoggingConfig `json:"logging"`
	API     APIConfig     `json:"api"`

	// Pool controls the execution worker pool.
	Pool PoolConfig `json:"pool"`

	// Session controls the shared authenticated session (store + auth retries).
	Session SessionConfig `json:"session"`

	// Remote selects which external-system driver the workers talk to.
	Remote RemoteConfig `json:"remote"`

	Notifier    *NotifierConfig   `json:"notifier,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Pprof       PprofConfig       `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// APIConfig controls the HTTP submission API.
//
// Security note:
//   - If you bind to a non-loopback address, set a token.
type APIConfig struct {
	Addr  string `json:"addr,omitempty"`  // default: ":8080"
	Token string `json:"token,omitempty"` // optional bearer token (do not log)

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// PoolConfig controls the worker pool.
//
// All durations are Go duration strings (e.g. "30s", "5m").
//
// Defaults (when fields are omitted/zero):
//   - max_workers: 4
//   - scale_threshold: 4
//   - idle_timeout: "5m"
//   - session_wait: "3m"
//   - dequeue_wait: "5s"
//   - trip_threshold: 5
type PoolConfig struct {
	MaxWorkers     int `json:"max_workers,omitempty"`
	ScaleThreshold int `json:"scale_threshold,omitempty"`

	// IdleTimeout terminates a worker that has had no work for this long.
	IdleTimeout string `json:"idle_timeout,omitempty"`

	// SessionWait bounds how long a secondary worker waits for the primary
	// to publish an authenticated session before giving up.
	SessionWait string `json:"session_wait,omitempty"`

	// DequeueWait is how long a worker blocks on the queue per poll.
	DequeueWait string `json:"dequeue_wait,omitempty"`

	// TripThreshold disables the pool after this many consecutive job failures.
	TripThreshold int `json:"trip_threshold,omitempty"`
}

// SessionConfig controls session persistence and authentication retries.
//
// Defaults:
//   - store: {driver: "file", path: "./campd_session"}
//   - auth_attempts: 4
//   - auth_backoff: "30s"
//   - verify_interval: "5m"
type SessionConfig struct {
	Store StoreConfig `json:"store"`

	AuthAttempts int    `json:"auth_attempts,omitempty"`
	AuthBackoff  string `json:"auth_backoff,omitempty"`

	// VerifyInterval caps how often an idle worker probes that its
	// session is still logged in.
	VerifyInterval string `json:"verify_interval,omitempty"`

	// WatchFile enables an fsnotify watch on the file store path so that
	// session blobs pushed by out-of-band tooling are picked up without
	// an API call. Only meaningful for the file driver.
	WatchFile bool `json:"watch_file,omitempty"`
}

// StoreConfig selects the durable session store backend.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./campd.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RemoteConfig selects the external-system driver.
//
// Settings is an opaque bag passed through to the driver.
type RemoteConfig struct {
	Driver   string            `json:"driver"`
	Settings map[string]string `json:"settings,omitempty"`
}

// NotifierConfig controls the async webhook pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookToken  string `json:"webhook_token,omitempty"` // bearer token (do not log)
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}

// MaintenanceConfig controls the background cron jobs.
//
// Defaults:
//   - watchdog_spec: "@every 15s"
//   - gc_spec: "@every 10m"
//   - job_retention: "1h"
//   - netspeed_spec: "" (disabled)
type MaintenanceConfig struct {
	WatchdogSpec string `json:"watchdog_spec,omitempty"`
	GCSpec       string `json:"gc_spec,omitempty"`
	JobRetention string `json:"job_retention,omitempty"`
	NetspeedSpec string `json:"netspeed_spec,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ---- Parsed accessors (defaults applied here, not at decode time) ----

func (c PoolConfig) MaxWorkersOrDefault() int {
	if c.MaxWorkers <= 0 {
		return 4
	}
	return c.MaxWorkers
}

func (c PoolConfig) ScaleThresholdOrDefault() int {
	if c.ScaleThreshold <= 0 {
		return 4
	}
	return c.ScaleThreshold
}

func (c PoolConfig) TripThresholdOrDefault() int {
	if c.TripThreshold <= 0 {
		return 5
	}
	return c.TripThreshold
}

func (c PoolConfig) IdleTimeoutOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("pool.idle_timeout", c.IdleTimeout, 5*time.Minute)
}

func (c PoolConfig) SessionWaitOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("pool.session_wait", c.SessionWait, 3*time.Minute)
}

func (c PoolConfig) DequeueWaitOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("pool.dequeue_wait", c.DequeueWait, 5*time.Second)
}

func (c SessionConfig) AuthAttemptsOrDefault() int {
	if c.AuthAttempts <= 0 {
		return 4
	}
	return c.AuthAttempts
}

func (c SessionConfig) AuthBackoffOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("session.auth_backoff", c.AuthBackoff, 30*time.Second)
}

func (c SessionConfig) VerifyIntervalOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("session.verify_interval", c.VerifyInterval, 5*time.Minute)
}

func (c MaintenanceConfig) WatchdogSpecOrDefault() string {
	if c.WatchdogSpec == "" {
		return "@every 15s"
	}
	return c.WatchdogSpec
}

func (c MaintenanceConfig) GCSpecOrDefault() string {
	if c.GCSpec == "" {
		return "@every 10m"
	}
	return c.GCSpec
}

func (c MaintenanceConfig) JobRetentionOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("maintenance.job_retention", c.JobRetention, time.Hour)
}
