package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pulsemon/internal/config"
	"pulsemon/internal/eventbus"
	"pulsemon/internal/history"
	"pulsemon/internal/notify"
	"pulsemon/internal/probe"
	rtsup "pulsemon/internal/runtime/supervisor"
	"pulsemon/internal/sched"
	"pulsemon/pkg/logx"
)

// runner binds one configured check to its scheduler and the supervisor
// goroutine driving the loop.
type runner struct {
	name string
	fp   uint64

	sched *sched.Scheduler
	sup   *rtsup.Supervisor
	log   logx.Logger

	paused bool
}

type runnerDeps struct {
	log    logx.Logger
	bus    eventbus.Bus
	store  *history.Store
	alerts *notify.Service
}

func buildRunner(rc config.RunnerConfig, sup *rtsup.Supervisor, deps runnerDeps) (*runner, error) {
	delay, err := rc.Delay()
	if err != nil {
		return nil, err
	}
	factory, err := processorFactory(rc.Probe)
	if err != nil {
		return nil, err
	}

	log := deps.log.With(logx.String("runner", rc.Name))

	hooks := logHooks(log)
	hooks = hooks.Merge(busHooks(rc.Name, deps.bus))
	if deps.store != nil {
		hooks = hooks.Merge(history.NewRecorder(deps.store, rc.Name, log).Hooks())
	}
	if deps.alerts != nil {
		hooks = hooks.Merge(deps.alerts.Hooks(rc.Name))
	}

	sc, err := sched.New(rc.Name, &sched.Schedule{
		Delay:         delay,
		MaxIterations: rc.MaxIterations,
		NewProcessor:  factory,
		Hooks:         hooks,
		DroppedError: func(err error) {
			log.Warn("error hook failed", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}

	return &runner{
		name:   rc.Name,
		fp:     rc.Fingerprint(),
		sched:  sc,
		sup:    sup,
		log:    log,
		paused: rc.Paused,
	}, nil
}

// start launches the loop. sched.Scheduler.Start blocks until the loop
// exits, so it runs under the supervisor; a start hook failure is logged and
// leaves the runner stopped.
func (r *runner) start() {
	r.paused = false
	r.sup.Go0("runner."+r.name, func(ctx context.Context) {
		if err := r.sched.Start(ctx); err != nil {
			r.log.Error("runner failed to start", logx.Err(err))
		}
	})
}

func (r *runner) pause(ctx context.Context) {
	r.paused = true
	if err := r.sched.Pause(ctx); err != nil {
		r.log.Warn("pause hook failed", logx.Err(err))
	}
}

func (r *runner) stop(ctx context.Context) {
	if err := r.sched.Stop(ctx); err != nil {
		r.log.Warn("stop hook failed", logx.Err(err))
	}
}

func processorFactory(p config.ProbeConfig) (func() sched.Processor, error) {
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "http":
		timeout, err := config.DurationOrDefault("probe.timeout", p.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		expect := p.ExpectStatus
		if expect == 0 {
			expect = http.StatusOK
		}
		url := p.URL
		return func() sched.Processor { return probe.NewHTTP(url, timeout, expect) }, nil
	case "command":
		command, args := p.Command, p.Args
		return func() sched.Processor { return probe.NewCommand(command, args) }, nil
	case "speedtest":
		saving := p.SavingMode
		return func() sched.Processor { return probe.NewSpeedtest(saving) }, nil
	default:
		return nil, fmt.Errorf("unknown probe type %q", p.Type)
	}
}

// logHooks observes every phase of the loop in the runner's log (which
// already carries the runner field). All of them are synchronous and never
// fail.
func logHooks(log logx.Logger) sched.Hooks {
	return sched.Hooks{
		OnStart: []func() error{func() error {
			log.Info("runner starting")
			return nil
		}},
		OnPause: []func() error{func() error {
			log.Info("runner paused")
			return nil
		}},
		OnStop: []func() error{func() error {
			log.Info("runner stopped")
			return nil
		}},
		OnIterationStart: []func(ordinal int) error{func(ordinal int) error {
			log.Debug("iteration starting", logx.Int("ordinal", ordinal))
			return nil
		}},
		OnIterationCompleted: []func(res sched.Result) error{func(res sched.Result) error {
			log.Info("iteration completed",
				logx.Int("ordinal", res.Ordinal),
				logx.String("summary", res.Summary))
			return nil
		}},
		OnError: []func(iterErr error) error{func(iterErr error) error {
			log.Warn("iteration failed", logx.Err(iterErr))
			return nil
		}},
	}
}

func busHooks(name string, bus eventbus.Bus) sched.Hooks {
	if bus == nil {
		return sched.Hooks{}
	}
	return sched.Hooks{
		OnStart: []func() error{func() error {
			bus.Publish(eventbus.Event{Type: eventbus.TypeRunnerStarted, Runner: name})
			return nil
		}},
		OnPause: []func() error{func() error {
			bus.Publish(eventbus.Event{Type: eventbus.TypeRunnerPaused, Runner: name})
			return nil
		}},
		OnStop: []func() error{func() error {
			bus.Publish(eventbus.Event{Type: eventbus.TypeRunnerStopped, Runner: name})
			return nil
		}},
		OnIterationCompleted: []func(res sched.Result) error{func(res sched.Result) error {
			bus.Publish(eventbus.Event{
				Type:    eventbus.TypeIterationDone,
				Runner:  name,
				Ordinal: res.Ordinal,
				Summary: res.Summary,
			})
			return nil
		}},
		OnError: []func(iterErr error) error{func(iterErr error) error {
			bus.Publish(eventbus.Event{
				Type:    eventbus.TypeIterationFailed,
				Runner:  name,
				Summary: iterErr.Error(),
			})
			return nil
		}},
	}
}
