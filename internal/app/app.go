package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/admin"
	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/observability/diag"
	"relaybot/internal/panel"
	"relaybot/internal/relay"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/task/forwarder"
	"relaybot/internal/task/report"
	kit "relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	gate   *admin.Gate
	fwd    *forwarder.Service
	report *report.Service
	diag   *diag.Service
	cmdm   *router.CommandManager

	autostart bool
	updates   chan kit.Update
}

// NewApp loads the config, opens storage and wires every component. Nothing
// runs until Start.
func NewApp(cfgPath, envPath string) (*App, error) {
	env, err := config.LoadEnv(envPath)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	cfgm := config.NewManager(cfgPath)
	cfgm.SetEnv(env)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off so Apply does not warn about a
	// missing target, then enable it once the target is set.
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, root := logx.New(logCfg, ad)
	if chatID, _ := config.ParseGroupLog(cfg.Telegram.GroupLog); chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	gate := admin.NewGate(cfg.Telegram.OwnerUserIDs, store, root)
	seedCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = gate.Seed(seedCtx)
	cancel()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("seed admins: %w", err)
	}

	reg := relay.NewRegistry(store)

	fcfg, err := mapForwarderConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	fwd := forwarder.New(fcfg, reg, ad, root, bus)

	cmdm := router.NewCommandManager(root, ad, gate, mapRouterOptions(cfg))
	pnl := panel.New(panel.Deps{
		Registry:  reg,
		Forwarder: fwd,
		Admins:    gate,
		Audit:     store,
		Resolver:  ad,
		Bus:       bus,
		Log:       root,
	})
	pnl.Register(cmdm)

	in := &ingester{cls: relay.NewClassifier(store), bus: bus, log: root.With(logx.String("comp", "ingest"))}
	cmdm.OnChannelPost(in.handle)

	rcfg, err := mapReportConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rep := report.New(rcfg, pnl, ad, root)
	dg := diag.New(mapDiagConfig(cfg), fwd.Status, root)

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		gate:      gate,
		fwd:       fwd,
		report:    rep,
		diag:      dg,
		cmdm:      cmdm,
		autostart: cfg.Relay.Autostart,
		updates:   make(chan kit.Update, mapRouterOptions(cfg).QueueSize),
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
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// A reload is rejected before commit when a section cannot be mapped.
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapForwarderConfig(cfg); err != nil {
			return err
		}
		_, err := mapReportConfig(cfg)
		return err
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	menuCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
	if err := a.cmdm.PublishMenu(menuCtx); err != nil {
		a.log.Warn("command menu not published", logx.Err(err))
	}
	cancel()

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.fwd.Attach(runCtx)
	if a.autostart {
		if _, started := a.fwd.Start(); started {
			a.log.Info("forwarder autostarted")
		}
	}

	if err := a.report.Start(runCtx); err != nil {
		a.log.Warn("status report not scheduled", logx.Err(err))
	}
	a.diag.Start(runCtx)
	a.sup.Go0("report.consume", func(c context.Context) { a.report.Consume(c, a.bus) })

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// forwarder.tick fires every interval; keep it at debug.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a committed config into the live components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if config.RequiresRestart(oldCfg, newCfg) {
		a.log.Warn("config change requires a restart to take full effect")
	}

	// Target first so Apply does not warn when the Telegram sink is enabled.
	chatID, _ := config.ParseGroupLog(newCfg.Telegram.GroupLog)
	a.logs.SetTelegramTarget(chatID, newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.gate.SetOwners(newCfg.Telegram.OwnerUserIDs)
	seedCtx, cancel := context.WithTimeout(a.sup.Context(), 5*time.Second)
	if err := a.gate.Seed(seedCtx); err != nil {
		a.log.Warn("seed owners failed", logx.Err(err))
	}
	cancel()

	if fcfg, err := mapForwarderConfig(newCfg); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.fwd.Apply(fcfg)
	}

	if rcfg, err := mapReportConfig(newCfg); err != nil {
		a.log.Warn("invalid report config; keeping previous", logx.Err(err))
	} else if err := a.report.Apply(rcfg); err != nil {
		a.log.Warn("report reschedule failed", logx.Err(err))
	}

	a.diag.Reconfigure(a.sup.Context(), mapDiagConfig(newCfg))

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		// Never extend the caller's deadline.
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped, no time left", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("forwarder", 3*time.Second, a.fwd.Stop)
	step("report", time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	// Dispatch workers may still touch storage; wait for them before closing it.
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
