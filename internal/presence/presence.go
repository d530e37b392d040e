// Package presence answers "is any task execution running right now" by
// folding agent-status events over a snapshot of running executions.
package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/nextlevelbuilder/graphiti-browser/internal/bus"
	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

// SnapshotFunc returns the ids of executions currently in progress.
type SnapshotFunc func(ctx context.Context) ([]string, error)

// Subscriber is the event source the tracker listens to.
type Subscriber interface {
	Subscribe(tag protocol.EventType, handler bus.Handler) *bus.Subscription
}

// Tracker holds the running set. Membership changes only through the seed
// and Apply; both are idempotent.
type Tracker struct {
	fetch    SnapshotFunc
	changes  bus.Fanout[bool]
	mu       sync.Mutex
	running  map[string]struct{}
	seeded   bool
	buffered []protocol.AgentStatus
	sub      *bus.Subscription
}

// New creates a tracker that seeds from fetch. fetch may be nil.
func New(fetch SnapshotFunc) *Tracker {
	return &Tracker{fetch: fetch, running: make(map[string]struct{})}
}

// Start subscribes to agent-status events on src, then seeds the set from
// the snapshot. Events arriving while the snapshot is in flight are held
// and applied after the seed. A failed snapshot leaves the set empty.
func (t *Tracker) Start(ctx context.Context, src Subscriber) {
	sub := src.Subscribe(protocol.EventAgentStatus, func(e protocol.Event) {
		if as, ok := e.(protocol.AgentStatus); ok {
			t.Apply(as)
		}
	})
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()

	var ids []string
	if t.fetch != nil {
		var err error
		ids, err = t.fetch(ctx)
		if err != nil {
			slog.Warn("presence: snapshot failed, assuming nothing is running", "error", err)
			ids = nil
		}
	}
	t.seed(ids)
}

func (t *Tracker) seed(ids []string) {
	t.mu.Lock()
	was := len(t.running) > 0
	for _, id := range ids {
		t.running[id] = struct{}{}
	}
	pending := t.buffered
	t.buffered = nil
	t.seeded = true
	for _, e := range pending {
		t.applyLocked(e)
	}
	now := len(t.running) > 0
	t.mu.Unlock()

	slog.Debug("presence: seeded", "snapshot", len(ids), "buffered", len(pending), "running", now)
	if was != now {
		t.changes.Emit(now)
	}
}

// Apply folds one status event: terminal statuses remove the execution,
// any other status adds it.
func (t *Tracker) Apply(e protocol.AgentStatus) {
	t.mu.Lock()
	if !t.seeded && t.fetch != nil {
		t.buffered = append(t.buffered, e)
		t.mu.Unlock()
		return
	}
	was := len(t.running) > 0
	t.applyLocked(e)
	now := len(t.running) > 0
	t.mu.Unlock()

	if was != now {
		t.changes.Emit(now)
	}
}

func (t *Tracker) applyLocked(e protocol.AgentStatus) {
	if e.ExecutionID == "" {
		return
	}
	if e.Status.IsTerminal() {
		delete(t.running, e.ExecutionID)
	} else {
		t.running[e.ExecutionID] = struct{}{}
	}
}

// IsRunning reports whether the running set is non-empty.
func (t *Tracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running) > 0
}

// Running returns the running execution ids, sorted.
func (t *Tracker) Running() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.running))
	for id := range t.running {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// OnChange registers fn, called with the new IsRunning value whenever it
// flips.
func (t *Tracker) OnChange(fn func(bool)) *bus.Subscription {
	return t.changes.Add(fn)
}

// Stop cancels the event subscription.
func (t *Tracker) Stop() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	sub.Cancel()
}
