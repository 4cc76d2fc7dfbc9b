package scheduler

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler() *Scheduler {
	return New(log.New(io.Discard, "", 0))
}

func TestScheduledJobRuns(t *testing.T) {
	s := newTestScheduler()
	var runs atomic.Int32
	s.Add("fast", 20*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	// Immediate run plus several ticks.
	if got := runs.Load(); got < 3 {
		t.Errorf("expected at least 3 runs, got %d", got)
	}
}

func TestTriggerUnknownJob(t *testing.T) {
	s := newTestScheduler()
	if s.Trigger(context.Background(), "ghost") {
		t.Error("unknown job should not trigger")
	}
}

func TestTriggerFiresOnDemandJob(t *testing.T) {
	s := newTestScheduler()
	done := make(chan struct{})
	s.Add("manual", 0, func(ctx context.Context) {
		close(done)
	})

	if !s.Trigger(context.Background(), "manual") {
		t.Fatal("trigger should find the job")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("triggered job never ran")
	}
}

func TestOverlapSuppression(t *testing.T) {
	s := newTestScheduler()
	var started atomic.Int32
	release := make(chan struct{})
	s.Add("slow", 0, func(ctx context.Context) {
		started.Add(1)
		<-release
	})

	ctx := context.Background()
	s.Trigger(ctx, "slow")

	// Wait for the first run to be in flight.
	deadline := time.After(time.Second)
	for started.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first run never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Further triggers while running are skipped.
	s.Trigger(ctx, "slow")
	s.Trigger(ctx, "slow")
	time.Sleep(50 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Errorf("expected overlapping runs to be suppressed, got %d starts", got)
	}

	close(release)

	// After completion the job can run again. The running flag clears
	// asynchronously, so keep triggering until the second run lands.
	deadline = time.After(time.Second)
	for started.Load() != 2 {
		s.Trigger(ctx, "slow")
		select {
		case <-deadline:
			t.Fatalf("expected a second run, got %d", started.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
