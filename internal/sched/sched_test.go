package sched

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// recorder collects hook observations with ordering preserved.
type recorder struct {
	mu     sync.Mutex
	events []string
	orders []int
	errs   []error
}

func (r *recorder) note(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) noteOrdinal(ev string, n int) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.orders = append(r.orders, n)
	r.mu.Unlock()
}

func (r *recorder) noteErr(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]string, []int, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]int(nil), r.orders...), append([]error(nil), r.errs...)
}

func okProcessor() func() Processor {
	return func() Processor {
		return ProcessorFunc(func(ctx context.Context, name string, ordinal int) (Result, error) {
			return Result{Runner: name, Ordinal: ordinal}, nil
		})
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	valid := &Schedule{NewProcessor: okProcessor()}

	tests := []struct {
		name    string
		runner  string
		cfg     *Schedule
		wantErr error
	}{
		{name: "empty name", runner: "", cfg: valid, wantErr: ErrEmptyName},
		{name: "whitespace name", runner: "  \t ", cfg: valid, wantErr: ErrEmptyName},
		{name: "nil schedule", runner: "web", cfg: nil, wantErr: ErrNilSchedule},
		{name: "no factory", runner: "web", cfg: &Schedule{}, wantErr: ErrNoProcessor},
		{name: "negative delay", runner: "web", cfg: &Schedule{Delay: -time.Second, NewProcessor: okProcessor()}, wantErr: ErrNegativeWait},
		{name: "negative cap", runner: "web", cfg: &Schedule{MaxIterations: -1, NewProcessor: okProcessor()}, wantErr: ErrNegativeCap},
		{name: "ok", runner: "web", cfg: valid},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.runner, tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if s.Ordinal() != 1 {
				t.Fatalf("fresh ordinal = %d, want 1", s.Ordinal())
			}
			if s.Running() {
				t.Fatal("fresh scheduler reports running")
			}
		})
	}
}

func TestBudgetRunsExactly(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	s, err := New("web", &Schedule{
		MaxIterations: 3,
		NewProcessor:  okProcessor(),
		Hooks: Hooks{
			OnIterationCompleted: []func(Result) error{func(res Result) error {
				rec.noteOrdinal("done", res.Ordinal)
				return nil
			}},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, orders, _ := rec.snapshot()
	if len(orders) != 3 {
		t.Fatalf("completed %d iterations, want 3 (ordinals %v)", len(orders), orders)
	}
	for i, n := range orders {
		if n != i+1 {
			t.Fatalf("ordinals = %v, want [1 2 3]", orders)
		}
	}
	if got := s.Ordinal(); got != 3 {
		t.Fatalf("final ordinal = %d, want 3", got)
	}
}

func TestUnboundedExitsOnStop(t *testing.T) {
	t.Parallel()
	seen := make(chan int, 64)
	s, err := New("web", &Schedule{
		Delay: time.Millisecond,
		NewProcessor: func() Processor {
			return ProcessorFunc(func(ctx context.Context, name string, ordinal int) (Result, error) {
				select {
				case seen <- ordinal:
				default:
				}
				return Result{Runner: name, Ordinal: ordinal}, nil
			})
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	// Wait for a few iterations, then stop from outside the loop.
	deadline := time.After(5 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-seen:
		case <-deadline:
			t.Fatal("timed out waiting for iterations")
		}
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}
	if got := s.Ordinal(); got != 1 {
		t.Fatalf("ordinal after Stop = %d, want 1", got)
	}
}

func TestPauseResumePreservesOrdinal(t *testing.T) {
	t.Parallel()
	reached := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	firstResumed := make(chan int, 1)

	starts := 0
	s, err := New("web", &Schedule{
		NewProcessor: func() Processor {
			starts++
			run := starts
			return ProcessorFunc(func(ctx context.Context, name string, ordinal int) (Result, error) {
				if run == 1 && ordinal == 3 {
					once.Do(func() { close(reached) })
					<-release
				}
				if run == 2 {
					select {
					case firstResumed <- ordinal:
					default:
					}
				}
				return Result{Runner: name, Ordinal: ordinal}, nil
			})
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	<-reached
	// The loop is parked inside iteration 3. Pause now; the pass finishes,
	// the continuation check fails, and the ordinal stays at 3.
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if got := s.Ordinal(); got != 3 {
		t.Fatalf("ordinal after Pause = %d, want 3", got)
	}

	// Resuming picks up at the preserved ordinal with a fresh processor.
	go func() { done <- s.Start(context.Background()) }()
	select {
	case n := <-firstResumed:
		if n != 3 {
			t.Fatalf("first resumed ordinal = %d, want 3", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("resumed loop never ran")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-done

	if starts != 2 {
		t.Fatalf("processor factory invoked %d times, want 2 (once per Start)", starts)
	}
	if got := s.Ordinal(); got != 1 {
		t.Fatalf("ordinal after Stop = %d, want 1", got)
	}
}

func TestFailedIterationRetriesSameOrdinal(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	boom := errors.New("probe exploded")
	failedOnce := false

	s, err := New("web", &Schedule{
		MaxIterations: 2,
		NewProcessor: func() Processor {
			return ProcessorFunc(func(ctx context.Context, name string, ordinal int) (Result, error) {
				if ordinal == 1 && !failedOnce {
					failedOnce = true
					return Result{}, boom
				}
				return Result{Runner: name, Ordinal: ordinal}, nil
			})
		},
		Hooks: Hooks{
			OnIterationCompleted: []func(Result) error{func(res Result) error {
				rec.noteOrdinal("done", res.Ordinal)
				return nil
			}},
			OnError: []func(error) error{func(err error) error {
				rec.noteErr(err)
				return nil
			}},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, orders, errs := rec.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Fatalf("error hook calls = %v, want exactly one %v", errs, boom)
	}
	// Iteration 1 failed once, was retried at ordinal 1, then 2 ran.
	if len(orders) != 2 || orders[0] != 1 || orders[1] != 2 {
		t.Fatalf("completed ordinals = %v, want [1 2]", orders)
	}
}

func TestErrorHookFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	var dropped []error
	var dmu sync.Mutex
	failedOnce := false

	s, err := New("web", &Schedule{
		MaxIterations: 1,
		NewProcessor: func() Processor {
			return ProcessorFunc(func(ctx context.Context, name string, ordinal int) (Result, error) {
				if !failedOnce {
					failedOnce = true
					return Result{}, errors.New("first pass fails")
				}
				return Result{Runner: name, Ordinal: ordinal}, nil
			})
		},
		Hooks: Hooks{
			OnError: []func(error) error{func(err error) error {
				return errors.New("error hook is broken too")
			}},
		},
		DroppedError: func(err error) {
			dmu.Lock()
			dropped = append(dropped, err)
			dmu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start must not surface error-hook failures, got %v", err)
	}

	dmu.Lock()
	defer dmu.Unlock()
	if len(dropped) != 1 || !strings.Contains(dropped[0].Error(), "broken") {
		t.Fatalf("dropped = %v, want the swallowed error-hook failure", dropped)
	}
}

func TestPanicsAreContained(t *testing.T) {
	t.Parallel()
	var errs []error
	var emu sync.Mutex
	panicked := false

	s, err := New("web", &Schedule{
		MaxIterations: 1,
		NewProcessor: func() Processor {
			return ProcessorFunc(func(ctx context.Context, name string, ordinal int) (Result, error) {
				if !panicked {
					panicked = true
					panic("probe lost its mind")
				}
				return Result{Runner: name, Ordinal: ordinal}, nil
			})
		},
		Hooks: Hooks{
			OnError: []func(error) error{func(err error) error {
				emu.Lock()
				errs = append(errs, err)
				emu.Unlock()
				return nil
			}},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	emu.Lock()
	defer emu.Unlock()
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "panicked") {
		t.Fatalf("error hook calls = %v, want one contained panic", errs)
	}
}

func TestStartHookFailurePropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("start hook refused")
	ran := false

	s, err := New("web", &Schedule{
		MaxIterations: 1,
		NewProcessor: func() Processor {
			return ProcessorFunc(func(ctx context.Context, name string, ordinal int) (Result, error) {
				ran = true
				return Result{}, nil
			})
		},
		Hooks: Hooks{
			OnStart: []func() error{func() error { return boom }},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Start error = %v, want %v", err, boom)
	}
	if ran {
		t.Fatal("loop ran despite failing start hook")
	}
	if s.Running() {
		t.Fatal("scheduler reports running after a failed start")
	}
}

func TestResumeDuringDrainingPauseContinuesLoop(t *testing.T) {
	t.Parallel()
	reached := make(chan struct{})
	release := make(chan struct{})
	continued := make(chan int, 1)
	var once sync.Once

	s, err := New("web", &Schedule{
		NewProcessor: func() Processor {
			return ProcessorFunc(func(ctx context.Context, name string, ordinal int) (Result, error) {
				if ordinal == 2 {
					once.Do(func() { close(reached) })
					<-release
				}
				if ordinal == 3 {
					select {
					case continued <- ordinal:
					default:
					}
				}
				return Result{Runner: name, Ordinal: ordinal}, nil
			})
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	<-reached
	// Pause while the loop is parked mid-pass, then resume before the old
	// loop has drained. The resume must not be lost: the draining loop sees
	// the restored flag and keeps iterating.
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("resume Start: %v", err)
	}
	close(release)

	select {
	case n := <-continued:
		if n != 3 {
			t.Fatalf("loop continued at ordinal %d, want 3", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("resume was dropped: loop never ran past the paused pass")
	}
	if !s.Running() {
		t.Fatal("scheduler not running after resume")
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
}

func TestStopRacingAPassNeverSurvivesWithStaleOrdinal(t *testing.T) {
	t.Parallel()

	// Stop issued from inside a completing pass: the reset must win over the
	// post-pass increment.
	var sc *Scheduler
	s, err := New("web", &Schedule{
		NewProcessor: okProcessor(),
		Hooks: Hooks{
			OnIterationCompleted: []func(Result) error{func(res Result) error {
				if res.Ordinal == 2 {
					return sc.Stop(context.Background())
				}
				return nil
			}},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sc = s
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Ordinal(); got != 1 {
		t.Fatalf("ordinal after in-pass Stop = %d, want 1", got)
	}

	// Stop issued from another goroutine: however the race lands, a stopped
	// scheduler always reads ordinal 1 once the loop has exited.
	for i := 0; i < 50; i++ {
		s, err := New("web", &Schedule{NewProcessor: okProcessor()})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		done := make(chan error, 1)
		go func() { done <- s.Start(context.Background()) }()
		time.Sleep(time.Duration(i%3) * 100 * time.Microsecond)
		if err := s.Stop(context.Background()); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if err := <-done; err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
		if got := s.Ordinal(); got != 1 {
			t.Fatalf("round %d: ordinal after Stop = %d, want 1", i, got)
		}
	}
}

func TestDelayIsWaitedAfterFinalPass(t *testing.T) {
	t.Parallel()
	const delay = 50 * time.Millisecond
	s, err := New("web", &Schedule{
		Delay:         delay,
		MaxIterations: 1,
		NewProcessor:  okProcessor(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Fatalf("Start returned after %v, want >= %v (delay is unconditional, last pass included)", elapsed, delay)
	}
}

func TestFailedPassWaitsDelayBeforeRetry(t *testing.T) {
	t.Parallel()
	const delay = 40 * time.Millisecond
	failedOnce := false

	s, err := New("web", &Schedule{
		Delay:         delay,
		MaxIterations: 1,
		NewProcessor: func() Processor {
			return ProcessorFunc(func(ctx context.Context, name string, ordinal int) (Result, error) {
				if !failedOnce {
					failedOnce = true
					return Result{}, errors.New("first pass fails")
				}
				return Result{Runner: name, Ordinal: ordinal}, nil
			})
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// One delay after the failed pass plus one after the successful retry.
	if elapsed := time.Since(start); elapsed < 2*delay {
		t.Fatalf("Start returned after %v, want >= %v (failed pass must wait a full delay too)", elapsed, 2*delay)
	}
}

func TestLifecycleHooksRerunOnIdempotentCalls(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	s, err := New("web", &Schedule{
		NewProcessor: okProcessor(),
		Hooks: Hooks{
			OnPause: []func() error{func() error { rec.note("pause"); return nil }},
			OnStop:  []func() error{func() error { rec.note("stop"); return nil }},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.Pause(ctx); err != nil {
			t.Fatalf("Pause: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}

	events, _, _ := rec.snapshot()
	want := []string{"pause", "pause", "stop", "stop"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan struct{}, 1)

	s, err := New("web", &Schedule{
		Delay: time.Millisecond,
		NewProcessor: func() Processor {
			return ProcessorFunc(func(ctx context.Context, name string, ordinal int) (Result, error) {
				select {
				case seen <- struct{}{}:
				default:
				}
				return Result{Runner: name, Ordinal: ordinal}, nil
			})
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("loop never ran")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit on context cancellation")
	}
}
