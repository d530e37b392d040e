package presence

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/graphiti-browser/internal/bus"
	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

func status(id string, s protocol.ExecutionStatus) protocol.AgentStatus {
	return protocol.AgentStatus{ExecutionID: id, TaskID: "t", Status: s}
}

func TestTracker_SeedThenCompleted(t *testing.T) {
	b := bus.New()
	tr := New(func(context.Context) ([]string, error) { return []string{"execA"}, nil })

	var flips []bool
	tr.OnChange(func(v bool) { flips = append(flips, v) })
	tr.Start(context.Background(), b)
	defer tr.Stop()

	if !tr.IsRunning() {
		t.Fatal("expected running after seed")
	}
	b.Publish(status("execA", protocol.StatusCompleted))
	if tr.IsRunning() {
		t.Error("expected not running after completion")
	}
	if len(flips) != 2 || !flips[0] || flips[1] {
		t.Errorf("flips = %v, want [true false]", flips)
	}
}

func TestTracker_Idempotent(t *testing.T) {
	tr := New(nil)

	tr.Apply(status("x", protocol.StatusRunning))
	tr.Apply(status("x", protocol.StatusToolCall))
	if got := tr.Running(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("running = %v, want [x]", got)
	}

	tr.Apply(status("x", protocol.StatusCancelled))
	tr.Apply(status("x", protocol.StatusCancelled))
	tr.Apply(status("never-seen", protocol.StatusError))
	if tr.IsRunning() {
		t.Errorf("running = %v, want empty", tr.Running())
	}
}

func TestTracker_SnapshotFailureFailsOpen(t *testing.T) {
	b := bus.New()
	tr := New(func(context.Context) ([]string, error) { return nil, errors.New("503") })
	tr.Start(context.Background(), b)
	defer tr.Stop()

	if tr.IsRunning() {
		t.Fatal("failed snapshot should start empty")
	}
	b.Publish(status("y", protocol.StatusRunning))
	if !tr.IsRunning() {
		t.Error("events must still apply after a failed snapshot")
	}
}

func TestTracker_EventsDuringSnapshotAppliedAfterSeed(t *testing.T) {
	b := bus.New()
	tr := New(func(context.Context) ([]string, error) {
		// execA finishes and execB starts while the snapshot is in flight;
		// the snapshot was taken before either change.
		b.Publish(status("execA", protocol.StatusCompleted))
		b.Publish(status("execB", protocol.StatusRunning))
		return []string{"execA"}, nil
	})
	tr.Start(context.Background(), b)
	defer tr.Stop()

	got := tr.Running()
	if len(got) != 1 || got[0] != "execB" {
		t.Errorf("running = %v, want [execB]", got)
	}
}

func TestTracker_StopUnsubscribes(t *testing.T) {
	b := bus.New()
	tr := New(nil)
	tr.Start(context.Background(), b)
	tr.Stop()
	tr.Stop()

	b.Publish(status("z", protocol.StatusRunning))
	if tr.IsRunning() {
		t.Error("stopped tracker still applying events")
	}
	if n := b.Subscribers(protocol.EventAgentStatus); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
}
