package history

import (
	"context"
	"sync/atomic"
	"time"

	"pulsemon/internal/sched"
	"pulsemon/pkg/logx"
)

// Recorder adapts a Store into scheduler hooks for one runner. Storage
// failures are logged and swallowed so a slow or broken log never turns a
// healthy iteration into a failed one.
type Recorder struct {
	store  *Store
	runner string
	log    logx.Logger

	lastOrdinal atomic.Int64
	startedAt   atomic.Int64 // unix nanos of the last iteration start
}

func NewRecorder(store *Store, runner string, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, runner: runner, log: log}
}

// Hooks returns the hook set that feeds the store. The iteration-start hook
// is synchronous so the ordinal is captured before the processor runs; the
// writes themselves happen on the async paths.
func (r *Recorder) Hooks() sched.Hooks {
	if r == nil || r.store == nil {
		return sched.Hooks{}
	}
	return sched.Hooks{
		OnIterationStart: []func(ordinal int) error{
			func(ordinal int) error {
				r.lastOrdinal.Store(int64(ordinal))
				r.startedAt.Store(time.Now().UnixNano())
				return nil
			},
		},
		OnIterationCompletedAsync: []func(ctx context.Context, res sched.Result) error{
			func(ctx context.Context, res sched.Result) error {
				r.append(ctx, RunEntry{
					Runner:  r.runner,
					Ordinal: res.Ordinal,
					OK:      true,
					Summary: res.Summary,
					Took:    r.sinceStart(),
				})
				return nil
			},
		},
		OnErrorAsync: []func(ctx context.Context, iterErr error) error{
			func(ctx context.Context, iterErr error) error {
				r.append(ctx, RunEntry{
					Runner:  r.runner,
					Ordinal: int(r.lastOrdinal.Load()),
					OK:      false,
					Error:   iterErr.Error(),
					Took:    r.sinceStart(),
				})
				return nil
			},
		},
	}
}

func (r *Recorder) append(ctx context.Context, e RunEntry) {
	wctx, cancel := context.WithTimeout(withoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.store.AppendRun(wctx, e); err != nil {
		r.log.Warn("history write failed",
			logx.String("runner", r.runner),
			logx.Int("ordinal", e.Ordinal),
			logx.Err(err))
	}
}

func (r *Recorder) sinceStart() time.Duration {
	started := r.startedAt.Load()
	if started == 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() - started)
}

// withoutCancel keeps writes going during shutdown so the final outcome of a
// pass still lands in the log.
func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
