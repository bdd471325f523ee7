package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pulsemon/internal/sched"
	"pulsemon/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notify disabled")
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify stopped")
)

// Sender delivers one rendered alert.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// Config controls the alert pipeline.
type Config struct {
	Enabled    bool
	RatePerMin int
	QueueSize  int
}

// Service is the async alert pipeline: bounded queue, one worker, token
// bucket. Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	sender  Sender
	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan string
	wg        sync.WaitGroup
	cancel    context.CancelFunc

	dropped atomic.Uint64
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	s.cfg = cfg
	// Burst of a few messages, then steady per-minute pace. The limiter is
	// created once and retuned in place: the worker reads the field without
	// holding s.mu, so the pointer must never be swapped.
	lim := rate.Limit(float64(cfg.RatePerMin) / 60.0)
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(lim, 3)
	} else {
		s.limiter.SetLimit(lim)
	}
}

// Apply updates pacing on hot reload. Enabling, disabling or repointing the
// transport requires a restart; only the limiter is swapped live.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	s.applyLocked(cfg)
	s.cfg.Enabled = enabled
	s.mu.Unlock()
}

// Start is idempotent; it does nothing when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		return
	}
	s.queue = make(chan string, s.cfg.QueueSize)
	s.accepting = true

	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	q := s.queue
	s.wg.Add(1)
	go s.workerLoop(wctx, q)
}

// Stop blocks intake, drains queued alerts best-effort, and waits up to the
// ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q := s.queue
	cancel := s.cancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.cancel = nil
	s.mu.Unlock()

	close(q)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
	}
	cancel()
}

// Notify enqueues one alert without blocking the caller.
func (s *Service) Notify(text string) error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.mu.Unlock()

	select {
	case q <- text:
		return nil
	default:
		s.dropped.Add(1)
		s.log.Warn("alert dropped, queue full", logx.Int64("dropped_total", int64(s.dropped.Load())))
		return ErrQueueFull
	}
}

// Dropped reports how many alerts were discarded due to backpressure.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

func (s *Service) workerLoop(ctx context.Context, q <-chan string) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("notify worker panic", logx.Any("panic", r))
		}
	}()
	for text := range q {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.sender.Send(sctx, text); err != nil {
			s.log.Warn("alert send failed", logx.Err(err))
		}
		cancel()
	}
}

// Hooks returns the scheduler hook set for one runner: failure alerts plus
// start and stop notices. All of them run on the async paths and never
// return an error, so delivery trouble cannot disturb the loop.
func (s *Service) Hooks(runner string) sched.Hooks {
	if s == nil {
		return sched.Hooks{}
	}
	return sched.Hooks{
		OnStartAsync: []func(ctx context.Context) error{
			func(context.Context) error {
				_ = s.Notify(fmt.Sprintf("▶️ runner %q started", runner))
				return nil
			},
		},
		OnStopAsync: []func(ctx context.Context) error{
			func(context.Context) error {
				_ = s.Notify(fmt.Sprintf("⏹ runner %q stopped", runner))
				return nil
			},
		},
		OnErrorAsync: []func(ctx context.Context, iterErr error) error{
			func(_ context.Context, iterErr error) error {
				_ = s.Notify(fmt.Sprintf("⚠️ runner %q iteration failed: %v", runner, iterErr))
				return nil
			},
		},
	}
}
