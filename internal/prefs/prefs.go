// Package prefs holds small persisted client preferences. Every read and
// write is best effort: storage failures are logged and the caller sees the
// default (reads) or an in-memory value for the rest of the session (writes).
package prefs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/graphiti-browser/internal/kvstore"
)

const (
	KeyLastDocument          = "prefs:last-document"
	KeyLastFolder            = "prefs:last-folder"
	KeyNotificationsDisabled = "prefs:notifications-disabled"

	opTimeout = 2 * time.Second
)

type Prefs struct {
	kv kvstore.Store

	mu      sync.Mutex
	local   map[string]any  // last value read or written
	unsaved map[string]bool // keys whose last write failed; served from local
}

func New(kv kvstore.Store) *Prefs {
	return &Prefs{kv: kv, local: make(map[string]any), unsaved: make(map[string]bool)}
}

// LastDocument is the path of the last opened document, or "".
func (p *Prefs) LastDocument(ctx context.Context) string {
	return getValue(ctx, p, KeyLastDocument, "")
}

func (p *Prefs) SetLastDocument(ctx context.Context, path string) {
	p.set(ctx, KeyLastDocument, path)
}

// LastFolder is the last expanded folder in the document tree, or "".
func (p *Prefs) LastFolder(ctx context.Context) string {
	return getValue(ctx, p, KeyLastFolder, "")
}

func (p *Prefs) SetLastFolder(ctx context.Context, path string) {
	p.set(ctx, KeyLastFolder, path)
}

// NotificationsDisabled reports whether non-error toasts are suppressed.
func (p *Prefs) NotificationsDisabled(ctx context.Context) bool {
	return getValue(ctx, p, KeyNotificationsDisabled, false)
}

func (p *Prefs) SetNotificationsDisabled(ctx context.Context, disabled bool) {
	p.set(ctx, KeyNotificationsDisabled, disabled)
}

// getValue reads key from the store on every call so changes made by other
// processes are seen. The local copy only answers when the store cannot.
func getValue[T any](ctx context.Context, p *Prefs, key string, def T) T {
	p.mu.Lock()
	if p.unsaved[key] {
		v := p.local[key].(T)
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var v T
	found, err := p.kv.Get(ctx, key, &v)

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case err != nil:
		if last, ok := p.local[key]; ok {
			slog.Warn("prefs: read failed, using last known value", "key", key, "error", err)
			return last.(T)
		}
		slog.Warn("prefs: read failed, using default", "key", key, "error", err)
		return def
	case !found:
		delete(p.local, key)
		return def
	}
	p.local[key] = v
	return v
}

func (p *Prefs) set(ctx context.Context, key string, v any) {
	p.mu.Lock()
	p.local[key] = v
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err := p.kv.Put(ctx, key, v)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.unsaved[key] = true
		slog.Warn("prefs: write failed, keeping value for this session", "key", key, "error", err)
		return
	}
	delete(p.unsaved, key)
}
