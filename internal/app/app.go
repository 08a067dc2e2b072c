package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"campd/internal/api"
	"campd/internal/config"
	"campd/internal/eventbus"
	"campd/internal/job"
	"campd/internal/notifier"
	"campd/internal/observability/netspeed"
	"campd/internal/observability/pprof"
	"campd/internal/pool"
	"campd/internal/queue"
	"campd/internal/remote"
	"campd/internal/runtime/supervisor"
	"campd/internal/session"
	logx "campd/pkg/logx"
)

// App wires the services together: config, logging, session store, the
// worker pool, the HTTP API, the webhook notifier, and the maintenance cron.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    session.Store
	sessions *session.Manager
	driver   remote.Driver

	queue    *queue.Queue
	registry *job.Registry

	poolCfg pool.Config
	pool    *pool.Manager

	apiCfg api.Config
	api    *api.Server

	notif *notifier.Service
	pprof *pprof.Service
	net   *netspeed.Service

	cron *cron.Cron

	watchFile bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := session.Open(storeCfg, log.With(logx.String("comp", "session.store")))
	if err != nil {
		return nil, err
	}

	authBackoff, err := cfg.Session.AuthBackoffOrDefault()
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(store,
		session.WithLogger(log.With(logx.String("comp", "session"))),
		session.WithBus(bus),
		session.WithAuthRetry(cfg.Session.AuthAttemptsOrDefault(), authBackoff),
	)

	driver, err := remote.Open(cfg.Remote.Driver, cfg.Remote.Settings,
		log.With(logx.String("comp", "remote")))
	if err != nil {
		return nil, err
	}

	poolCfg, err := mapPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	apiCfg, err := mapAPIConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	ppc, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		sessions:  sessions,
		driver:    driver,
		queue:     queue.New(),
		registry:  job.NewRegistry(),
		poolCfg:   poolCfg,
		apiCfg:    apiCfg,
		notif:     notifier.New(ncfg, log.With(logx.String("comp", "notifier")), bus),
		pprof:     pprof.New(ppc, log.With(logx.String("comp", "pprof"))),
		net:       netspeed.New(netspeed.Config{}, log.With(logx.String("comp", "netspeed"))),
		watchFile: cfg.Session.WatchFile,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := mapPoolConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStoreConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAPIConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.sessions.Load(a.sup.Context()); err != nil {
		return err
	}

	a.pool = pool.NewManager(a.poolCfg, a.queue, a.registry, a.sessions, a.driver, a.sup,
		pool.WithNotifier(a.notif),
		pool.WithBus(a.bus),
		pool.WithLogger(a.log.With(logx.String("comp", "pool"))),
	)

	a.api = api.New(a.apiCfg, api.Deps{
		Pool:     a.pool,
		Registry: a.registry,
		Sessions: a.sessions,
		Driver:   a.driver,
		Netspeed: a.net,
		AppCtx:   a.sup.Context(),
	}, a.log.With(logx.String("comp", "api")))
	a.api.Start(a.sup.Context())

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	if a.watchFile {
		a.sup.GoRestart("session.watch", a.sessions.WatchStore,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		)
	}

	// Session pushes and successful background re-logins close the breaker,
	// no matter which path delivered them (API, file watch, relogin).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.fanout", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				switch e.Type {
				case eventbus.EventSessionPushed:
					a.pool.NotifySessionPushed()
				case eventbus.EventReauthFinished:
					if s, _ := e.Data.(string); s == session.ReauthSuccess {
						a.pool.NotifySessionPushed()
					}
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if err := a.startCron(); err != nil {
		return err
	}

	// Hot reload fan-out. Pool, session store, and API changes need a
	// restart; logging, notifier, and pprof apply live.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("started",
		logx.String("remote_driver", a.driver.Name()),
		logx.String("api_addr", a.apiCfg.Addr),
	)
	return nil
}

func (a *App) startCron() error {
	cfg := a.cfgm.Get()
	retention, err := cfg.Maintenance.JobRetentionOrDefault()
	if err != nil {
		return err
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Maintenance.WatchdogSpecOrDefault(), func() {
		a.pool.WatchdogCheck()
	}); err != nil {
		return fmt.Errorf("maintenance.watchdog_spec: %w", err)
	}
	if _, err := c.AddFunc(cfg.Maintenance.GCSpecOrDefault(), func() {
		if n := a.registry.PruneTerminal(retention); n > 0 {
			a.log.Debug("pruned terminal jobs", logx.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("maintenance.gc_spec: %w", err)
	}
	if spec := cfg.Maintenance.NetspeedSpec; spec != "" {
		if _, err := c.AddFunc(spec, func() {
			a.net.Sample(a.sup.Context())
		}); err != nil {
			return fmt.Errorf("maintenance.netspeed_spec: %w", err)
		}
	}
	c.Start()
	a.cron = c
	return nil
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	prevEnabled := a.notif.Enabled()
	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		if prevEnabled && !ncfg.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && ncfg.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if ppc, err := mapPprofConfig(cfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Reconfigure(ctx, ppc)
	}

	if pc, err := mapPoolConfig(cfg); err == nil && pc != a.poolCfg {
		a.log.Warn("pool config changed; restart required for changes to take effect")
	}
	if ac, err := mapAPIConfig(cfg); err == nil && ac != a.apiCfg {
		a.log.Warn("api config changed; restart required for changes to take effect")
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so workers and loops start unwinding.
	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		start := time.Now()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("cron", 2*time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		select {
		case <-a.cron.Stop().Done():
		case <-c.Done():
		}
		return nil
	})
	step("api", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("store", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
