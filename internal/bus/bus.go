// Package bus holds the in-process subscription plumbing shared by the event
// transports: ordered per-tag handler lists with cancellable handles.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

// Handler receives one decoded event.
type Handler func(protocol.Event)

// Subscription is the handle returned by every Subscribe call. Cancel must be
// called by the owner when it no longer wants deliveries.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the registration. Safe to call more than once and on nil.
func (s *Subscription) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Fanout is an ordered list of callbacks. Emit invokes them in registration
// order on the caller's goroutine.
type Fanout[T any] struct {
	mu   sync.RWMutex
	seq  uint64
	subs []*fanoutEntry[T]
}

type fanoutEntry[T any] struct {
	id   uint64
	fn   func(T)
	dead atomic.Bool
}

// Add registers fn and returns its handle.
func (f *Fanout[T]) Add(fn func(T)) *Subscription {
	f.mu.Lock()
	f.seq++
	e := &fanoutEntry[T]{id: f.seq, fn: fn}
	f.subs = append(f.subs, e)
	f.mu.Unlock()

	return &Subscription{cancel: func() { f.remove(e) }}
}

func (f *Fanout[T]) remove(e *fanoutEntry[T]) {
	e.dead.Store(true)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.id == e.id {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
			return
		}
	}
}

// Emit calls every live callback with v. Callbacks cancelled while the emit
// is in progress are skipped.
func (f *Fanout[T]) Emit(v T) {
	f.mu.RLock()
	subs := make([]*fanoutEntry[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()

	for _, s := range subs {
		if s.dead.Load() {
			continue
		}
		s.fn(v)
	}
}

// Len returns the number of registered callbacks.
func (f *Fanout[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Bus routes events to subscribers by tag.
type Bus struct {
	mu     sync.Mutex
	topics map[protocol.EventType]*Fanout[protocol.Event]
	all    Fanout[protocol.Event]
}

func New() *Bus {
	return &Bus{topics: make(map[protocol.EventType]*Fanout[protocol.Event])}
}

// Subscribe registers handler for one tag. Handlers of the same tag run in
// registration order.
func (b *Bus) Subscribe(tag protocol.EventType, handler Handler) *Subscription {
	b.mu.Lock()
	topic, ok := b.topics[tag]
	if !ok {
		topic = &Fanout[protocol.Event]{}
		b.topics[tag] = topic
	}
	b.mu.Unlock()
	return topic.Add(handler)
}

// SubscribeAll registers handler for every tag. It runs after the per-tag
// handlers of each event.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	return b.all.Add(handler)
}

// Publish delivers evt synchronously to its tag's subscribers, then to the
// catch-all subscribers.
func (b *Bus) Publish(evt protocol.Event) {
	b.mu.Lock()
	topic := b.topics[evt.Type()]
	b.mu.Unlock()

	if topic != nil {
		topic.Emit(evt)
	}
	b.all.Emit(evt)
}

// Subscribers returns how many handlers are registered for tag.
func (b *Bus) Subscribers(tag protocol.EventType) int {
	b.mu.Lock()
	topic := b.topics[tag]
	b.mu.Unlock()
	if topic == nil {
		return 0
	}
	return topic.Len()
}
