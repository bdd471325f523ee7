package sched

import "context"

// Result is the value a Processor produces for one iteration. The scheduler
// treats it as opaque: it is handed verbatim to the iteration-completed
// hooks. Processors should at minimum fill Runner and Ordinal so downstream
// hooks (history, alerts) can attribute the result.
type Result struct {
	Runner  string
	Ordinal int
	Summary string
	Data    map[string]any
}

// Processor performs one unit of work per iteration. It may block and may
// fail; failures are contained by the scheduler loop and reported via the
// error hooks.
type Processor interface {
	Process(ctx context.Context, name string, ordinal int) (Result, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, name string, ordinal int) (Result, error)

func (f ProcessorFunc) Process(ctx context.Context, name string, ordinal int) (Result, error) {
	return f(ctx, name, ordinal)
}

// Hooks holds the ordered observer callbacks for every lifecycle and phase
// event. For each event the plain slice is the synchronous list and the
// *Async slice is the asynchronous (context-taking) one. Nil entries are
// skipped; a nil Hooks value is valid and means "no observers".
type Hooks struct {
	OnStart      []func() error
	OnStartAsync []func(ctx context.Context) error

	OnPause      []func() error
	OnPauseAsync []func(ctx context.Context) error

	OnStop      []func() error
	OnStopAsync []func(ctx context.Context) error

	OnIterationStart      []func(ordinal int) error
	OnIterationStartAsync []func(ctx context.Context, ordinal int) error

	OnIterationCompleted      []func(res Result) error
	OnIterationCompletedAsync []func(ctx context.Context, res Result) error

	OnError      []func(iterErr error) error
	OnErrorAsync []func(ctx context.Context, iterErr error) error
}

// runPlain executes a sync list then an async list for an argument-less
// event, stopping at the first failure.
func runPlain(ctx context.Context, sync []func() error, async []func(context.Context) error) error {
	for _, fn := range sync {
		if fn == nil {
			continue
		}
		if err := fn(); err != nil {
			return err
		}
	}
	for _, fn := range async {
		if fn == nil {
			continue
		}
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h Hooks) runStart(ctx context.Context) error {
	return runPlain(ctx, h.OnStart, h.OnStartAsync)
}

func (h Hooks) runPause(ctx context.Context) error {
	return runPlain(ctx, h.OnPause, h.OnPauseAsync)
}

func (h Hooks) runStop(ctx context.Context) error {
	return runPlain(ctx, h.OnStop, h.OnStopAsync)
}

func (h Hooks) runIterationStart(ctx context.Context, ordinal int) error {
	for _, fn := range h.OnIterationStart {
		if fn == nil {
			continue
		}
		if err := fn(ordinal); err != nil {
			return err
		}
	}
	for _, fn := range h.OnIterationStartAsync {
		if fn == nil {
			continue
		}
		if err := fn(ctx, ordinal); err != nil {
			return err
		}
	}
	return nil
}

func (h Hooks) runIterationCompleted(ctx context.Context, res Result) error {
	for _, fn := range h.OnIterationCompleted {
		if fn == nil {
			continue
		}
		if err := fn(res); err != nil {
			return err
		}
	}
	for _, fn := range h.OnIterationCompletedAsync {
		if fn == nil {
			continue
		}
		if err := fn(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (h Hooks) runError(ctx context.Context, iterErr error) error {
	for _, fn := range h.OnError {
		if fn == nil {
			continue
		}
		if err := fn(iterErr); err != nil {
			return err
		}
	}
	for _, fn := range h.OnErrorAsync {
		if fn == nil {
			continue
		}
		if err := fn(ctx, iterErr); err != nil {
			return err
		}
	}
	return nil
}

// Merge appends o's callbacks after h's, preserving registration order
// within each event. Used by the app layer to stack observer sets (logging,
// history, alerts) onto a runner.
func (h Hooks) Merge(o Hooks) Hooks {
	return Hooks{
		OnStart:      append(append([]func() error(nil), h.OnStart...), o.OnStart...),
		OnStartAsync: append(append([]func(context.Context) error(nil), h.OnStartAsync...), o.OnStartAsync...),

		OnPause:      append(append([]func() error(nil), h.OnPause...), o.OnPause...),
		OnPauseAsync: append(append([]func(context.Context) error(nil), h.OnPauseAsync...), o.OnPauseAsync...),

		OnStop:      append(append([]func() error(nil), h.OnStop...), o.OnStop...),
		OnStopAsync: append(append([]func(context.Context) error(nil), h.OnStopAsync...), o.OnStopAsync...),

		OnIterationStart:      append(append([]func(int) error(nil), h.OnIterationStart...), o.OnIterationStart...),
		OnIterationStartAsync: append(append([]func(context.Context, int) error(nil), h.OnIterationStartAsync...), o.OnIterationStartAsync...),

		OnIterationCompleted:      append(append([]func(Result) error(nil), h.OnIterationCompleted...), o.OnIterationCompleted...),
		OnIterationCompletedAsync: append(append([]func(context.Context, Result) error(nil), h.OnIterationCompletedAsync...), o.OnIterationCompletedAsync...),

		OnError:      append(append([]func(error) error(nil), h.OnError...), o.OnError...),
		OnErrorAsync: append(append([]func(context.Context, error) error(nil), h.OnErrorAsync...), o.OnErrorAsync...),
	}
}
