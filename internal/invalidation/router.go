// Package invalidation keeps the query cache consistent with pushed events.
// Events never write cache contents: they only mark affected keys stale, and
// the cache refetches what is being observed.
package invalidation

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/graphiti-browser/internal/bus"
	"github.com/nextlevelbuilder/graphiti-browser/internal/notify"
	"github.com/nextlevelbuilder/graphiti-browser/internal/querycache"
	"github.com/nextlevelbuilder/graphiti-browser/internal/transport"
	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

// Source is an event transport the router can attach to.
type Source interface {
	Name() string
	Subscribe(tag protocol.EventType, handler bus.Handler) *bus.Subscription
	OnStateChange(fn func(transport.State)) *bus.Subscription
}

// Router applies the routing table to every event from its attached sources.
type Router struct {
	cache    *querycache.Cache
	notifier notify.Notifier

	mu   sync.Mutex
	subs []*bus.Subscription
}

// NewRouter creates a router. notifier may be nil.
func NewRouter(cache *querycache.Cache, notifier notify.Notifier) *Router {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Router{cache: cache, notifier: notifier}
}

var routedTags = append(append([]protocol.EventType(nil), protocol.GraphEventTypes...), protocol.TaskEventTypes...)

// Attach subscribes the router to every routed tag on src and to its
// connection state. After src reconnects, every observed query is refetched
// since events sent while disconnected are lost.
func (r *Router) Attach(src Source) {
	subs := make([]*bus.Subscription, 0, len(routedTags)+1)
	for _, tag := range routedTags {
		subs = append(subs, src.Subscribe(tag, r.Handle))
	}

	var (
		mu           sync.Mutex
		wasConnected bool
	)
	subs = append(subs, src.OnStateChange(func(s transport.State) {
		if s != transport.StateConnected {
			return
		}
		mu.Lock()
		reconnect := wasConnected
		wasConnected = true
		mu.Unlock()

		if reconnect {
			n := r.cache.InvalidateObserved()
			slog.Info("invalidation: reconciling after reconnect", "source", src.Name(), "entries", n)
		}
	}))

	r.mu.Lock()
	r.subs = append(r.subs, subs...)
	r.mu.Unlock()
}

// Detach cancels every subscription made by Attach.
func (r *Router) Detach() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

// Handle invalidates the keys routed for evt, then shows a notification if
// the event warrants one.
func (r *Router) Handle(evt protocol.Event) {
	r.invalidate(evt)
	if t, ok := toastFor(evt); ok {
		r.notifier.Notify(t)
	}
}

// Local invalidates the keys evt routes to without notifying. It is used
// after a mutating request succeeds; the matching push event, if it
// arrives, invalidates again harmlessly.
func (r *Router) Local(evt protocol.Event) {
	r.invalidate(evt)
}

func (r *Router) invalidate(evt protocol.Event) {
	matched := 0
	for _, k := range Routes(evt) {
		matched += r.cache.Invalidate(k)
	}
	slog.Debug("invalidation: event applied", "type", evt.Type(), "group", evt.Group(), "matched", matched)
}

func toastFor(evt protocol.Event) (notify.Toast, bool) {
	switch e := evt.(type) {
	case protocol.AgentStatus:
		key := "exec:" + e.ExecutionID + ":" + string(e.Status)
		switch e.Status {
		case protocol.StatusCompleted:
			return notify.Toast{Level: notify.LevelSuccess, Title: "Task completed", Message: e.TaskID, Key: key}, true
		case protocol.StatusError:
			msg := e.Error
			if msg == "" {
				msg = e.TaskID
			}
			return notify.Toast{Level: notify.LevelError, Title: "Task failed", Message: msg, Key: key}, true
		case protocol.StatusCancelled:
			return notify.Toast{Level: notify.LevelWarning, Title: "Task cancelled", Message: e.TaskID, Key: key}, true
		}

	case protocol.TaskChanged:
		if e.Type() == protocol.EventTaskDeleted {
			name := e.Name
			if name == "" {
				name = e.TaskID
			}
			return notify.Toast{Level: notify.LevelInfo, Title: "Task deleted", Message: name, Key: "task-deleted:" + e.TaskID}, true
		}

	case protocol.DocumentChanged:
		switch e.Type() {
		case protocol.EventDocumentAdded:
			return notify.Toast{Level: notify.LevelInfo, Title: "Document added", Message: e.Path, Key: "doc-added:" + e.Path}, true
		case protocol.EventDocumentRemoved:
			return notify.Toast{Level: notify.LevelInfo, Title: "Document removed", Message: e.Path, Key: "doc-removed:" + e.Path}, true
		}

	case protocol.GroupDeleted:
		msg := fmt.Sprintf("%s: %d episodes, %d entities, %d edges removed", e.Group(), e.Episodes, e.Entities, e.Edges)
		return notify.Toast{Level: notify.LevelWarning, Title: "Group deleted", Message: msg, Key: "group-deleted:" + e.Group()}, true
	}
	return notify.Toast{}, false
}
