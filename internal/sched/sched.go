package sched

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Schedule is the immutable configuration of a Scheduler. Build it once,
// hand it to New, never mutate it afterward.
type Schedule struct {
	// Delay is waited unconditionally at the end of every loop pass,
	// including the last one and failed ones. Must be >= 0.
	Delay time.Duration

	// MaxIterations caps the iteration budget. 0 means unbounded.
	MaxIterations int

	// NewProcessor is invoked exactly once per Start to obtain a fresh
	// processor instance.
	NewProcessor func() Processor

	// Hooks are the observer callbacks around every phase.
	Hooks Hooks

	// DroppedError, when set, receives failures raised by the error hooks
	// themselves. Those failures never propagate and never stop the loop;
	// without a sink they are discarded.
	DroppedError func(err error)
}

func (c *Schedule) validate() error {
	if c.NewProcessor == nil {
		return ErrNoProcessor
	}
	if c.Delay < 0 {
		return ErrNegativeWait
	}
	if c.MaxIterations < 0 {
		return ErrNegativeCap
	}
	return nil
}

// Scheduler drives the iteration loop for one named runner. The running
// flag and the ordinal are owned exclusively by the Scheduler and guarded by
// a single mutex; Start/Pause/Stop may be called from any goroutine.
type Scheduler struct {
	name string
	cfg  Schedule

	mu      sync.Mutex
	running bool
	active  bool // loop currently executing inside Start
	ordinal int
}

// New validates the name and configuration and returns a stopped Scheduler
// with its ordinal at 1.
func New(name string, cfg *Schedule) (*Scheduler, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if cfg == nil {
		return nil, ErrNilSchedule
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Scheduler{name: name, cfg: *cfg, ordinal: 1}, nil
}

// Name returns the immutable scheduler name.
func (s *Scheduler) Name() string { return s.name }

// Ordinal returns the 1-based number of the current/next iteration.
func (s *Scheduler) Ordinal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ordinal
}

// Running reports whether the loop is allowed to continue past its current
// pass.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start transitions to Running and drives the loop until the iteration
// budget is exhausted or Pause/Stop clears the running flag. It returns only
// when the loop has exited. Starting from Paused resumes at the preserved
// ordinal; starting from Stopped begins at ordinal 1.
//
// Errors from the start hooks propagate and the loop never begins. If the
// previous loop is still draining a pause (its final pass and delay have not
// finished), Start restores the running flag and returns immediately: the
// draining loop observes the flag at its next continuation check and keeps
// going in place, so a resume racing a pause is never lost.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.running = true
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.active = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	if err := s.cfg.Hooks.runStart(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	proc := s.cfg.NewProcessor()
	s.loop(ctx, proc)
	return nil
}

// Pause clears the running flag and runs the pause hooks. The ordinal is
// preserved; the loop exits at its next continuation check, which may be up
// to one iteration plus one delay away. Pause hook errors propagate.
func (s *Scheduler) Pause(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.cfg.Hooks.runPause(ctx)
}

// Stop clears the running flag, resets the ordinal to 1 and runs the stop
// hooks. Stop hook errors propagate.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.ordinal = 1
	s.mu.Unlock()
	return s.cfg.Hooks.runStop(ctx)
}

// continueAt is the continuation predicate for candidate ordinal n: false
// once the running flag is down or the context is gone, true while n is
// within the configured budget (or the budget is unbounded).
func (s *Scheduler) continueAt(ctx context.Context, n int) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continueLocked(n)
}

func (s *Scheduler) continueLocked(n int) bool {
	if !s.running {
		return false
	}
	if s.cfg.MaxIterations == 0 {
		return true
	}
	return n <= s.cfg.MaxIterations
}

func (s *Scheduler) loop(ctx context.Context, proc Processor) {
	for {
		n := s.Ordinal()
		if !s.continueAt(ctx, n) {
			return
		}
		if s.runPass(ctx, proc, n) {
			return
		}
	}
}

// runPass executes one loop pass at ordinal n and reports whether the loop
// should exit (budget exhausted). The configured delay is waited on every
// path out of the pass. Failures inside the pass are contained here and do
// not advance the ordinal.
func (s *Scheduler) runPass(ctx context.Context, proc Processor, n int) (exhausted bool) {
	defer s.wait(ctx)

	if err := s.pass(ctx, proc, n); err != nil {
		s.reportError(ctx, err)
		return false
	}

	// Natural end of budget (or a pause/stop that raced the pass): exit
	// without advancing. The re-check and the increment share one critical
	// section so a Stop landing in between cannot have its ordinal reset
	// overwritten.
	done := ctx.Err() != nil
	s.mu.Lock()
	if done || !s.continueLocked(n+1) {
		s.mu.Unlock()
		return true
	}
	s.ordinal = n + 1
	s.mu.Unlock()
	return false
}

// pass runs hooks and processor for one iteration. Panics anywhere in the
// pass are mapped to errors so the containment policy covers them too.
func (s *Scheduler) pass(ctx context.Context, proc Processor, n int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration %d panicked: %v", n, r)
		}
	}()

	if err := s.cfg.Hooks.runIterationStart(ctx, n); err != nil {
		return err
	}
	res, err := proc.Process(ctx, s.name, n)
	if err != nil {
		return err
	}
	return s.cfg.Hooks.runIterationCompleted(ctx, res)
}

// reportError hands a contained pass failure to the error hooks. Failures
// (and panics) from the error hooks themselves are swallowed so the loop
// cannot be killed by a misbehaving observer; DroppedError, when set, gets a
// last look at them.
func (s *Scheduler) reportError(ctx context.Context, iterErr error) {
	defer func() {
		if r := recover(); r != nil {
			s.drop(fmt.Errorf("error hook panicked: %v", r))
		}
	}()
	if err := s.cfg.Hooks.runError(ctx, iterErr); err != nil {
		s.drop(err)
	}
}

func (s *Scheduler) drop(err error) {
	fn := s.cfg.DroppedError
	if fn == nil {
		return
	}
	// The sink is outside the containment contract too.
	defer func() { _ = recover() }()
	fn(err)
}

func (s *Scheduler) wait(ctx context.Context) {
	if s.cfg.Delay <= 0 {
		return
	}
	t := time.NewTimer(s.cfg.Delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
