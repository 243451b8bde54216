package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestStopWhileJobRunning(t *testing.T) {
	t.Parallel()

	sched := NewIntervalScheduler(5 * time.Millisecond)

	var calls atomic.Int64
	started := make(chan struct{})
	gate := make(chan struct{})
	job := func(time.Time) {
		if calls.Add(1) == 1 {
			close(started)
			<-gate
		}
	}

	if err := sched.Start(context.Background(), job); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Stop lands while the goroutine is blocked inside the first job; the
	// loop must still observe the closed channel when it comes back to its
	// select instead of spinning on a stale one.
	<-started
	done := make(chan error, 1)
	go func() { done <- sched.Stop(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stop blocked on a running job")
	}
	close(gate)

	time.Sleep(50 * time.Millisecond)
	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != after {
		t.Fatalf("job still ticking after stop: %d -> %d", after, got)
	}
}

func TestStopTwice(t *testing.T) {
	t.Parallel()

	sched := NewIntervalScheduler(time.Hour)
	if err := sched.Start(context.Background(), func(time.Time) {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStartTwiceKeepsOneLoop(t *testing.T) {
	t.Parallel()

	sched := NewIntervalScheduler(10 * time.Millisecond)

	var calls atomic.Int64
	job := func(time.Time) { calls.Add(1) }

	if err := sched.Start(context.Background(), job); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Each Start fires the job once immediately; a second Start on a running
	// scheduler must not spawn a second loop.
	if err := sched.Start(context.Background(), job); err != nil {
		t.Fatalf("second start: %v", err)
	}
	defer sched.Stop(context.Background())

	time.Sleep(35 * time.Millisecond)
	// One loop gives ~4 calls in this window; two loops would give ~8.
	if got := calls.Load(); got > 6 {
		t.Fatalf("suspiciously many job calls for a single loop: %d", got)
	}
}
