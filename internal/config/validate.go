package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate checks everything that can be checked without touching the network.
// Called on startup and before committing a hot reload.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if _, err := c.Pool.IdleTimeoutOrDefault(); err != nil {
		return err
	}
	if _, err := c.Pool.SessionWaitOrDefault(); err != nil {
		return err
	}
	if _, err := c.Pool.DequeueWaitOrDefault(); err != nil {
		return err
	}
	if _, err := c.Session.AuthBackoffOrDefault(); err != nil {
		return err
	}
	if _, err := c.Session.VerifyIntervalOrDefault(); err != nil {
		return err
	}
	if _, err := c.Maintenance.JobRetentionOrDefault(); err != nil {
		return err
	}
	if _, err := ParseDurationField("session.store.busy_timeout", c.Session.Store.BusyTimeout); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"api.read_timeout", c.API.ReadTimeout},
		{"api.write_timeout", c.API.WriteTimeout},
		{"api.idle_timeout", c.API.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if n := c.Notifier; n != nil {
		for _, f := range []struct{ path, raw string }{
			{"notifier.retry_base", n.RetryBase},
			{"notifier.retry_max_delay", n.RetryMaxDelay},
			{"notifier.timeout", n.Timeout},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}

	switch c.Session.Store.Driver {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("session.store.driver: unknown driver %q", c.Session.Store.Driver)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for _, f := range []struct{ path, spec string }{
		{"maintenance.watchdog_spec", c.Maintenance.WatchdogSpecOrDefault()},
		{"maintenance.gc_spec", c.Maintenance.GCSpecOrDefault()},
		{"maintenance.netspeed_spec", c.Maintenance.NetspeedSpec},
	} {
		if f.spec == "" {
			continue
		}
		if _, err := parser.Parse(f.spec); err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
	}

	return nil
}
