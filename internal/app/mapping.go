package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"campd/internal/api"
	"campd/internal/config"
	"campd/internal/notifier"
	"campd/internal/observability/pprof"
	"campd/internal/pool"
	"campd/internal/session"
)

// The map* helpers validate and convert the decoded config into runtime
// configs with parsed durations. They never start anything, so the config
// validator can call them safely on every reload.

func mapPoolConfig(cfg *config.Config) (pool.Config, error) {
	var out pool.Config
	if cfg == nil {
		return out, nil
	}
	pc := cfg.Pool

	out.MaxWorkers = pc.MaxWorkersOrDefault()
	out.ScaleThreshold = pc.ScaleThresholdOrDefault()
	out.TripThreshold = pc.TripThresholdOrDefault()

	var err error
	if out.IdleTimeout, err = pc.IdleTimeoutOrDefault(); err != nil {
		return out, err
	}
	if out.SessionWait, err = pc.SessionWaitOrDefault(); err != nil {
		return out, err
	}
	if out.DequeueWait, err = pc.DequeueWaitOrDefault(); err != nil {
		return out, err
	}
	if out.VerifyInterval, err = cfg.Session.VerifyIntervalOrDefault(); err != nil {
		return out, err
	}

	if pc.MaxWorkers < 0 {
		return out, fmt.Errorf("pool.max_workers must be >= 0")
	}
	if pc.ScaleThreshold < 0 {
		return out, fmt.Errorf("pool.scale_threshold must be >= 0")
	}
	if pc.TripThreshold < 0 {
		return out, fmt.Errorf("pool.trip_threshold must be >= 0")
	}
	return out, nil
}

func mapStoreConfig(cfg *config.Config) (session.StoreConfig, error) {
	var out session.StoreConfig
	if cfg == nil {
		return out, nil
	}
	sc := cfg.Session.Store

	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		return session.StoreConfig{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return out, fmt.Errorf("session.store.path is required when driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("session.store.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return out, err
		}
		return session.StoreConfig{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return out, fmt.Errorf("unknown session.store.driver: %s", sc.Driver)
	}
}

// mapNotifierConfig defaults to enabled=true when the section is omitted so a
// minimal config still delivers per-job webhooks (callback_url on the job).
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:       true,
		Workers:       2,
		QueueSize:     512,
		RatePerSec:    5,
		RetryMax:      3,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 10 * time.Second,
		Timeout:       10 * time.Second,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier

	out.Enabled = n.Enabled
	out.WebhookURL = strings.TrimSpace(n.WebhookURL)
	out.WebhookToken = strings.TrimSpace(n.WebhookToken)
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}

	var err error
	out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	out.Timeout, err = config.ParseDurationOrDefault("notifier.timeout", n.Timeout, out.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}

	if out.Workers < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	}
	if out.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if out.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if out.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	return out, nil
}

func mapAPIConfig(cfg *config.Config) (api.Config, error) {
	var out api.Config
	if cfg == nil {
		return out, nil
	}
	ac := cfg.API

	out.Addr = strings.TrimSpace(ac.Addr)
	out.Token = strings.TrimSpace(ac.Token)
	if out.Addr == "" {
		out.Addr = ":8080"
	}
	if _, _, err := net.SplitHostPort(out.Addr); err != nil {
		return out, fmt.Errorf("api.addr: invalid %q (expected host:port): %w", out.Addr, err)
	}

	var err error
	out.ReadTimeout, err = config.ParseDurationOrDefault("api.read_timeout", ac.ReadTimeout, 10*time.Second)
	if err != nil {
		return out, err
	}
	// Job submission is quick; generous write timeout covers slow webhooks of
	// the synchronous netspeed probe.
	out.WriteTimeout, err = config.ParseDurationOrDefault("api.write_timeout", ac.WriteTimeout, 2*time.Minute)
	if err != nil {
		return out, err
	}
	out.IdleTimeout, err = config.ParseDurationOrDefault("api.idle_timeout", ac.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	return out, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	var out pprof.Config
	if cfg == nil {
		return out, nil
	}
	pc := cfg.Pprof

	out.Enabled = pc.Enabled
	out.AllowInsecure = pc.AllowInsecure
	out.Token = strings.TrimSpace(pc.Token)
	out.Addr = strings.TrimSpace(pc.Addr)
	out.Prefix = strings.TrimSpace(pc.Prefix)

	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}
	if out.Prefix == "" {
		out.Prefix = "/debug/pprof/"
	}

	var err error
	out.ReadTimeout, err = config.ParseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	out.WriteTimeout, err = config.ParseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return out, err
	}
	out.IdleTimeout, err = config.ParseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("pprof.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if !out.AllowInsecure && out.Token == "" && !isLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("pprof: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}
	return out, nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
