// Package notify delivers user-visible transient notifications ("toasts").
// Notifications are a presentation layer only: callers perform the state
// change first and notify second.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/nextlevelbuilder/graphiti-browser/internal/bus"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Toast is one notification.
type Toast struct {
	Level   Level
	Title   string
	Message string
	// Key identifies the underlying change for de-duplication. Empty keys
	// are never de-duplicated.
	Key string
}

// Notifier shows toasts.
type Notifier interface {
	Notify(Toast)
}

// Func adapts a function to Notifier.
type Func func(Toast)

func (f Func) Notify(t Toast) { f(t) }

// Discard drops every toast.
var Discard Notifier = Func(func(Toast) {})

// LogNotifier writes toasts to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(t Toast) {
	attrs := []any{"title", t.Title, "message", t.Message}
	switch t.Level {
	case LevelError:
		slog.Error("notify", attrs...)
	case LevelWarning:
		slog.Warn("notify", attrs...)
	default:
		slog.Info("notify", attrs...)
	}
}

// TerminalNotifier prints colored one-line toasts.
type TerminalNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminalNotifier(w io.Writer) *TerminalNotifier {
	return &TerminalNotifier{w: w}
}

var levelColors = map[Level]*color.Color{
	LevelInfo:    color.New(color.FgCyan),
	LevelSuccess: color.New(color.FgGreen),
	LevelWarning: color.New(color.FgYellow),
	LevelError:   color.New(color.FgRed, color.Bold),
}

func (n *TerminalNotifier) Notify(t Toast) {
	c, ok := levelColors[t.Level]
	if !ok {
		c = levelColors[LevelInfo]
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	label := c.Sprintf("[%s]", t.Level)
	if t.Message == "" {
		fmt.Fprintf(n.w, "%s %s\n", label, t.Title)
		return
	}
	fmt.Fprintf(n.w, "%s %s: %s\n", label, t.Title, t.Message)
}

// Gate forwards toasts unless notifications are disabled, collapsing toasts
// with the same Key seen within the dedupe window.
type Gate struct {
	disabled func() bool
	seen     *bus.DedupeCache

	mu   sync.RWMutex
	next Notifier
}

// NewGate wraps next. disabled may be nil (always enabled).
func NewGate(next Notifier, disabled func() bool, window time.Duration) *Gate {
	return &Gate{
		next:     next,
		disabled: disabled,
		seen:     bus.NewDedupeCache(window, 1000),
	}
}

func (g *Gate) Notify(t Toast) {
	if g.disabled != nil && g.disabled() && t.Level != LevelError {
		return
	}
	if t.Key != "" && g.seen.IsDuplicate(t.Key) {
		return
	}
	g.mu.RLock()
	next := g.next
	g.mu.RUnlock()
	next.Notify(t)
}

// SetNext swaps the notifier toasts are forwarded to.
func (g *Gate) SetNext(next Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = next
}

// SetWindow changes the dedupe window.
func (g *Gate) SetWindow(window time.Duration) {
	g.seen.SetTTL(window)
}

// Multi fans a toast out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(t Toast) {
	for _, n := range m {
		n.Notify(t)
	}
}

// Recorder keeps every toast in memory.
type Recorder struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *Recorder) Notify(t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

// Toasts returns a copy of everything recorded so far.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}
