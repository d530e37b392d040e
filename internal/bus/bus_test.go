package bus

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

func entityCreated(id string) protocol.Event {
	return protocol.EntityCreated{Meta: protocol.Meta{GroupID: "g"}, UUID: id}
}

func TestBus_RegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	for i := 0; i < 3; i++ {
		b.Subscribe(protocol.EventEntityCreated, func(protocol.Event) { order = append(order, i) })
	}

	b.Publish(entityCreated("e1"))

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("order = %v, want [0 1 2]", order)
	}
}

func TestBus_UnsubscribeIsolation(t *testing.T) {
	b := New()
	var a, c int
	subA := b.Subscribe(protocol.EventEntityCreated, func(protocol.Event) { a++ })
	b.Subscribe(protocol.EventEntityCreated, func(protocol.Event) { c++ })

	b.Publish(entityCreated("e1"))
	subA.Cancel()
	b.Publish(entityCreated("e2"))

	if a != 1 {
		t.Errorf("cancelled subscriber got %d events, want 1", a)
	}
	if c != 2 {
		t.Errorf("remaining subscriber got %d events, want 2", c)
	}
	if n := b.Subscribers(protocol.EventEntityCreated); n != 1 {
		t.Errorf("subscribers = %d, want 1", n)
	}
}

func TestBus_CancelIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe(protocol.EventEdgeCreated, func(protocol.Event) {})
	b.Subscribe(protocol.EventEdgeCreated, func(protocol.Event) {})

	sub.Cancel()
	sub.Cancel()

	if n := b.Subscribers(protocol.EventEdgeCreated); n != 1 {
		t.Errorf("subscribers = %d, want 1", n)
	}

	var nilSub *Subscription
	nilSub.Cancel()
}

func TestBus_TagIsolation(t *testing.T) {
	b := New()
	var got int
	b.Subscribe(protocol.EventEntityDeleted, func(protocol.Event) { got++ })

	b.Publish(entityCreated("e1"))

	if got != 0 {
		t.Errorf("handler for another tag invoked %d times", got)
	}
}

func TestBus_SubscribeAllRunsAfterTagHandlers(t *testing.T) {
	b := New()
	var order []string
	b.SubscribeAll(func(protocol.Event) { order = append(order, "all") })
	b.Subscribe(protocol.EventEntityCreated, func(protocol.Event) { order = append(order, "tag") })

	b.Publish(entityCreated("e1"))

	if len(order) != 2 || order[0] != "tag" || order[1] != "all" {
		t.Errorf("order = %v", order)
	}
}

func TestFanout_CancelDuringEmitSkipsLater(t *testing.T) {
	var f Fanout[int]
	var second *Subscription
	var calls int
	f.Add(func(int) { second.Cancel() })
	second = f.Add(func(int) { calls++ })

	f.Emit(1)

	if calls != 0 {
		t.Errorf("cancelled callback ran %d times", calls)
	}
	if f.Len() != 1 {
		t.Errorf("len = %d, want 1", f.Len())
	}
}

func TestDedupeCache_TTL(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewDedupeCache(5*time.Second, 0)
	d.now = func() time.Time { return now }

	if d.IsDuplicate("k") {
		t.Fatal("first sighting must not be a duplicate")
	}
	if !d.IsDuplicate("k") {
		t.Fatal("second sighting within TTL must be a duplicate")
	}

	now = now.Add(6 * time.Second)
	if d.IsDuplicate("k") {
		t.Error("sighting after TTL must not be a duplicate")
	}
}

func TestDedupeCache_MaxSizeEvictsOldest(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewDedupeCache(time.Hour, 2)
	d.now = func() time.Time { return now }

	d.IsDuplicate("a")
	now = now.Add(time.Second)
	d.IsDuplicate("b")
	now = now.Add(time.Second)
	d.IsDuplicate("c")

	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
	if !d.IsDuplicate("c") {
		t.Error("newest key should still be remembered")
	}
}
