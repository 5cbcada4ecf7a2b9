package progress

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/bus"
)

func TestTracker_AggregatesTaskToStageToRun(t *testing.T) {
	b := bus.New(nil)
	tr := New(Config{MinInterval: time.Hour, MinDelta: 0.01}, b, nil)

	var received []Snapshot
	unsub := b.Subscribe(bus.EventProgress, func(ctx context.Context, e bus.Event) error {
		received = append(received, e.Payload.(Snapshot))
		return nil
	}, bus.SubscribeOptions{QueueSize: 16, Mode: bus.ModeParallel})
	defer unsub()

	tr.Link("task", "t1", "stage", "s1", 1)
	tr.Link("task", "t2", "stage", "s1", 1)
	tr.Link("stage", "s1", "run", "r1", 1)

	corr := uuid.New()
	tr.Report(context.Background(), corr, "t1", 1.0, "")
	tr.Report(context.Background(), corr, "t2", 0.0, "")

	time.Sleep(50 * time.Millisecond)

	tr.mu.Lock()
	stageFraction := tr.nodes[entityKey{"stage", "s1"}].fraction
	runFraction := tr.nodes[entityKey{"run", "r1"}].fraction
	tr.mu.Unlock()

	if stageFraction != 0.5 {
		t.Fatalf("expected stage weighted mean 0.5, got %v", stageFraction)
	}
	if runFraction != 0.5 {
		t.Fatalf("expected run weighted mean 0.5, got %v", runFraction)
	}
}

func TestTracker_ThrottlesWithinMinIntervalBelowDelta(t *testing.T) {
	tr := New(Config{MinInterval: time.Hour, MinDelta: 0.5}, nil, nil)
	tr.mu.Lock()
	n := tr.nodeLocked(entityKey{"task", "t1"})
	n.emitted = true
	n.lastEmitted = 0.1
	n.lastEmitTime = time.Now()
	emitNow := tr.shouldEmitLocked(n)
	tr.mu.Unlock()
	if emitNow {
		t.Fatal("expected throttling to suppress emission below the delta threshold")
	}
}

func TestTracker_EmitsImmediatelyOnFirstReport(t *testing.T) {
	tr := New(Config{MinInterval: time.Hour, MinDelta: 0.5}, nil, nil)
	tr.mu.Lock()
	n := tr.nodeLocked(entityKey{"task", "t1"})
	emitNow := tr.shouldEmitLocked(n)
	tr.mu.Unlock()
	if !emitNow {
		t.Fatal("expected the first report for an entity to always emit")
	}
}
