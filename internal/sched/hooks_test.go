package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestSyncHooksCompleteBeforeAsync(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var seq []string
	note := func(s string) {
		mu.Lock()
		seq = append(seq, s)
		mu.Unlock()
	}

	s, err := New("web", &Schedule{
		MaxIterations: 1,
		NewProcessor:  okProcessor(),
		Hooks: Hooks{
			OnIterationStart: []func(int) error{
				func(int) error { note("start-sync-1"); return nil },
				func(int) error { note("start-sync-2"); return nil },
			},
			OnIterationStartAsync: []func(context.Context, int) error{
				func(context.Context, int) error { note("start-async-1"); return nil },
			},
			OnIterationCompleted: []func(Result) error{
				func(Result) error { note("done-sync-1"); return nil },
			},
			OnIterationCompletedAsync: []func(context.Context, Result) error{
				func(context.Context, Result) error { note("done-async-1"); return nil },
				func(context.Context, Result) error { note("done-async-2"); return nil },
			},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{
		"start-sync-1", "start-sync-2", "start-async-1",
		"done-sync-1", "done-async-1", "done-async-2",
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seq) != len(want) {
		t.Fatalf("sequence = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", seq, want)
		}
	}
}

func TestHookListShortCircuitsOnFirstFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("second hook fails")
	var calls []string

	h := Hooks{
		OnStart: []func() error{
			func() error { calls = append(calls, "first"); return nil },
			func() error { calls = append(calls, "second"); return boom },
			func() error { calls = append(calls, "third"); return nil },
		},
		OnStartAsync: []func(context.Context) error{
			func(context.Context) error { calls = append(calls, "async"); return nil },
		},
	}

	if err := h.runStart(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("runStart error = %v, want %v", err, boom)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("calls = %v, want [first second]", calls)
	}
}

func TestNilHookEntriesAreSkipped(t *testing.T) {
	t.Parallel()
	ran := false
	h := Hooks{
		OnStop:      []func() error{nil, func() error { ran = true; return nil }, nil},
		OnStopAsync: []func(context.Context) error{nil},
	}
	if err := h.runStop(context.Background()); err != nil {
		t.Fatalf("runStop: %v", err)
	}
	if !ran {
		t.Fatal("non-nil hook was not executed")
	}
}

func TestMergeKeepsRegistrationOrder(t *testing.T) {
	t.Parallel()
	var calls []string
	base := Hooks{
		OnError: []func(error) error{func(error) error { calls = append(calls, "base"); return nil }},
	}
	extra := Hooks{
		OnError: []func(error) error{func(error) error { calls = append(calls, "extra"); return nil }},
	}

	merged := base.Merge(extra)
	if err := merged.runError(context.Background(), errors.New("x")); err != nil {
		t.Fatalf("runError: %v", err)
	}
	if len(calls) != 2 || calls[0] != "base" || calls[1] != "extra" {
		t.Fatalf("calls = %v, want [base extra]", calls)
	}

	// Merge must not alias the originals.
	if len(base.OnError) != 1 || len(extra.OnError) != 1 {
		t.Fatal("Merge mutated its inputs")
	}
}
