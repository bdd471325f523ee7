package app

import (
	"context"
	"sync"
	"time"

	"pulsemon/internal/config"
	"pulsemon/internal/eventbus"
	"pulsemon/internal/history"
	"pulsemon/internal/notify"
	rtsup "pulsemon/internal/runtime/supervisor"
	"pulsemon/pkg/logx"
)

// App wires config, logging, history, alerts and the runner set together.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	store  *history.Store
	alerts *notify.Service

	mu      sync.Mutex
	runners map[string]*runner
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store *history.Store
	if cfg.History != nil {
		hc, err := mapHistoryConfig(cfg.History)
		if err != nil {
			return nil, err
		}
		store, err = history.Open(hc, log.With(logx.String("comp", "history")))
		if err != nil {
			return nil, err
		}
		if store != nil {
			log.Info("history enabled", logx.String("path", hc.Path))
		}
	}

	var alerts *notify.Service
	if tg := telegramConfig(cfg); tg != nil && tg.Enabled {
		sender, err := notify.NewTelegramSender(notify.TelegramConfig{
			Token:  tg.Token,
			ChatID: tg.ChatID,
		})
		if err != nil {
			return nil, err
		}
		alerts = notify.New(notify.Config{
			Enabled:    true,
			RatePerMin: tg.RatePerMin,
		}, sender, log.With(logx.String("comp", "notify")))
		log.Info("telegram alerts enabled", logx.Int64("chat_id", tg.ChatID))
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		alerts:  alerts,
		runners: map[string]*runner{},
	}, nil
}

// Done is closed when the app supervisor context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	// One runner failing must not take down its siblings, so the app
	// supervisor does not cancel on error.
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if a.alerts != nil {
		a.alerts.Start(a.sup.Context())
	}

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

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
				// Coalesce bursts: keep only the latest config.
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
				a.applyConfig(c, newCfg)
			}
		}
	})

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
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.String("runner", e.Runner),
					logx.Int("ordinal", e.Ordinal))
			}
		}
	})

	a.applyRunners(a.sup.Context(), a.cfgm.Get())
	return nil
}

// Stop shuts the runner set down, then the services, bounded by ctx.
func (a *App) Stop(ctx context.Context) {
	a.mu.Lock()
	for name, r := range a.runners {
		r.stop(ctx)
		delete(a.runners, name)
	}
	a.mu.Unlock()

	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("shutdown finished with error", logx.Err(err))
		}
	}
	if a.alerts != nil {
		a.alerts.Stop(ctx)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("history close failed", logx.Err(err))
	}
	_ = a.logs.Close()
}

// applyConfig reacts to a validated hot reload: logging and alert pacing are
// swapped live, the runner set is reconciled, and sections that need a
// restart are called out.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(mapLoggingConfig(cfg.Logging))

	if tg := telegramConfig(cfg); a.alerts != nil && tg != nil && tg.Enabled {
		a.alerts.Apply(notify.Config{Enabled: true, RatePerMin: tg.RatePerMin})
	} else if (a.alerts != nil) != (tg != nil && tg.Enabled) {
		a.log.Warn("notify config changed; restart required for changes to take effect")
	}
	if historyChanged(a.store, cfg.History) {
		a.log.Warn("history config changed; restart required for changes to take effect")
	}

	a.applyRunners(ctx, cfg)
}

// applyRunners reconciles the live runner set against cfg. An unchanged
// runner is left alone; flipping only its paused flag pauses or resumes in
// place, preserving the iteration ordinal. Any other change stops the old
// runner and builds a fresh one.
func (a *App) applyRunners(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	want := make(map[string]bool, len(cfg.Runners))
	for _, rc := range cfg.Runners {
		want[rc.Name] = true
	}
	for name, r := range a.runners {
		if !want[name] {
			r.stop(ctx)
			delete(a.runners, name)
			a.log.Info("runner removed", logx.String("runner", name))
		}
	}

	for _, rc := range cfg.Runners {
		cur := a.runners[rc.Name]
		if cur != nil && cur.fp == rc.Fingerprint() {
			switch {
			case rc.Paused && !cur.paused:
				cur.pause(ctx)
			case !rc.Paused && cur.paused:
				cur.start()
			}
			continue
		}
		if cur != nil {
			cur.stop(ctx)
			delete(a.runners, rc.Name)
			a.log.Info("runner rebuilt", logx.String("runner", rc.Name))
		}

		r, err := buildRunner(rc, a.sup, runnerDeps{
			log:    a.log,
			bus:    a.bus,
			store:  a.store,
			alerts: a.alerts,
		})
		if err != nil {
			a.log.Error("runner rejected", logx.String("runner", rc.Name), logx.Err(err))
			continue
		}
		a.runners[rc.Name] = r
		if !rc.Paused {
			r.start()
		} else {
			a.log.Info("runner configured paused", logx.String("runner", rc.Name))
		}
	}
}

func mapLoggingConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
	}
}

func mapHistoryConfig(hc *config.HistoryConfig) (history.Config, error) {
	busy, err := config.DurationOrDefault("history.busy_timeout", hc.BusyTimeout, 5*time.Second)
	if err != nil {
		return history.Config{}, err
	}
	return history.Config{
		Driver:      hc.Driver,
		Path:        hc.Path,
		BusyTimeout: busy,
		KeepRuns:    hc.KeepRuns,
	}, nil
}

func telegramConfig(cfg *config.Config) *config.TelegramConfig {
	if cfg == nil || cfg.Notify == nil {
		return nil
	}
	return cfg.Notify.Telegram
}

func historyChanged(store *history.Store, hc *config.HistoryConfig) bool {
	enabled := store != nil
	wants := hc != nil && hc.Driver != "" && hc.Driver != "none"
	return enabled != wants
}
