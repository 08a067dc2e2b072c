package app

import (
	"testing"
	"time"

	"campd/internal/config"
)

func TestMapPoolConfigDefaults(t *testing.T) {
	t.Parallel()
	pc, err := mapPoolConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapPoolConfig: %v", err)
	}
	if pc.MaxWorkers != 4 || pc.ScaleThreshold != 4 || pc.TripThreshold != 5 {
		t.Fatalf("pool defaults = %+v", pc)
	}
	if pc.IdleTimeout != 5*time.Minute || pc.SessionWait != 3*time.Minute || pc.DequeueWait != 5*time.Second {
		t.Fatalf("pool duration defaults = %+v", pc)
	}
	if pc.VerifyInterval != 5*time.Minute {
		t.Fatalf("verify interval = %v", pc.VerifyInterval)
	}
}

func TestMapPoolConfigOverrides(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Pool.MaxWorkers = 2
	cfg.Pool.IdleTimeout = "90s"
	pc, err := mapPoolConfig(cfg)
	if err != nil {
		t.Fatalf("mapPoolConfig: %v", err)
	}
	if pc.MaxWorkers != 2 || pc.IdleTimeout != 90*time.Second {
		t.Fatalf("pool config = %+v", pc)
	}
}

func TestMapStoreConfig(t *testing.T) {
	t.Parallel()

	sc, err := mapStoreConfig(&config.Config{})
	if err != nil || sc.Driver != "file" {
		t.Fatalf("default store = %+v, %v", sc, err)
	}

	cfg := &config.Config{}
	cfg.Session.Store.Driver = "sqlite"
	if _, err := mapStoreConfig(cfg); err == nil {
		t.Fatal("sqlite without path accepted")
	}
	cfg.Session.Store.Path = "/tmp/svc.db"
	cfg.Session.Store.BusyTimeout = "2s"
	sc, err = mapStoreConfig(cfg)
	if err != nil {
		t.Fatalf("mapStoreConfig: %v", err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("store = %+v", sc)
	}

	cfg.Session.Store.Driver = "redis"
	if _, err := mapStoreConfig(cfg); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestMapNotifierConfigDefaultsToEnabled(t *testing.T) {
	t.Parallel()
	nc, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if !nc.Enabled || nc.Workers != 2 || nc.QueueSize != 512 {
		t.Fatalf("notifier defaults = %+v", nc)
	}
}

func TestMapNotifierConfigSection(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Notifier: &config.NotifierConfig{
		Enabled:    true,
		WebhookURL: " https://hooks.example.com/jobs ",
		RetryBase:  "250ms",
	}}
	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if nc.WebhookURL != "https://hooks.example.com/jobs" {
		t.Fatalf("url = %q", nc.WebhookURL)
	}
	if nc.RetryBase != 250*time.Millisecond {
		t.Fatalf("retry base = %v", nc.RetryBase)
	}

	cfg.Notifier.RetryBase = "later"
	if _, err := mapNotifierConfig(cfg); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestMapAPIConfig(t *testing.T) {
	t.Parallel()
	ac, err := mapAPIConfig(&config.Config{})
	if err != nil || ac.Addr != ":8080" {
		t.Fatalf("api defaults = %+v, %v", ac, err)
	}

	cfg := &config.Config{}
	cfg.API.Addr = "not an address"
	if _, err := mapAPIConfig(cfg); err == nil {
		t.Fatal("bad addr accepted")
	}
}

func TestMapPprofConfigGuardsPublicBind(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Pprof.Enabled = true
	cfg.Pprof.Addr = "0.0.0.0:6060"
	if _, err := mapPprofConfig(cfg); err == nil {
		t.Fatal("public bind without token accepted")
	}

	cfg.Pprof.Token = "secret"
	if _, err := mapPprofConfig(cfg); err != nil {
		t.Fatalf("public bind with token rejected: %v", err)
	}

	cfg.Pprof.Token = ""
	cfg.Pprof.Addr = "127.0.0.1:6060"
	ppc, err := mapPprofConfig(cfg)
	if err != nil {
		t.Fatalf("loopback bind rejected: %v", err)
	}
	if ppc.Prefix != "/debug/pprof/" {
		t.Fatalf("prefix = %q", ppc.Prefix)
	}
}
