package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunReturnsNilOnCleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	child := Child{Name: "steady", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}
	sup := New(child)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error on clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return after cancellation")
	}
}

func TestRunRestartsChildOnFailure(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	child := Child{Name: "flaky", Run: func(ctx context.Context) error {
		n := calls.Add(1)
		if n < 3 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return nil
	}}
	sup := New(child)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Give the child time to fail twice and restart before shutting down.
	time.Sleep(3500 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after cancellation")
	}

	if calls.Load() < 3 {
		t.Fatalf("calls = %d, want at least 3 (initial + 2 restarts)", calls.Load())
	}
}

func TestRunExceedsRestartBudgetReturnsError(t *testing.T) {
	child := Child{Name: "alwaysfails", Run: func(ctx context.Context) error {
		return errors.New("boom")
	}}
	sup := New(child)

	// restartBudget (10) restarts each wait restartDelay(n) = min(n, 30)
	// seconds before the next attempt, so exhausting the budget takes on
	// the order of a minute; give it ample headroom.
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	err := sup.Run(ctx)
	if !errors.Is(err, ErrRestartBudgetExceeded) {
		t.Fatalf("expected ErrRestartBudgetExceeded, got %v", err)
	}
}

func TestRunRestartsChildOnPanic(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	child := Child{Name: "panicky", Run: func(ctx context.Context) error {
		n := calls.Add(1)
		if n < 2 {
			panic("boom")
		}
		<-ctx.Done()
		return nil
	}}
	sup := New(child)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(1500 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after cancellation")
	}

	if calls.Load() < 2 {
		t.Fatalf("calls = %d, want at least 2 (panic then restart)", calls.Load())
	}
}

func TestRestartDelayCapsAt30Seconds(t *testing.T) {
	if d := restartDelay(1); d != 1*time.Second {
		t.Fatalf("restartDelay(1) = %v, want 1s", d)
	}
	if d := restartDelay(100); d != 30*time.Second {
		t.Fatalf("restartDelay(100) = %v, want capped at 30s", d)
	}
}
