package notify

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
)

func TestGate_DisabledDropsAllButErrors(t *testing.T) {
	var rec Recorder
	g := NewGate(&rec, func() bool { return true }, time.Second)

	g.Notify(Toast{Level: LevelInfo, Title: "doc added"})
	g.Notify(Toast{Level: LevelError, Title: "request failed"})

	got := rec.Toasts()
	if len(got) != 1 || got[0].Level != LevelError {
		t.Errorf("toasts = %+v, want only the error", got)
	}
}

func TestGate_DedupesByKey(t *testing.T) {
	var rec Recorder
	g := NewGate(&rec, nil, time.Minute)

	g.Notify(Toast{Title: "a", Key: "doc:notes/a.md"})
	g.Notify(Toast{Title: "a again", Key: "doc:notes/a.md"})
	g.Notify(Toast{Title: "b", Key: "doc:notes/b.md"})
	g.Notify(Toast{Title: "unkeyed"})
	g.Notify(Toast{Title: "unkeyed"})

	if n := len(rec.Toasts()); n != 4 {
		t.Errorf("toasts = %d, want 4", n)
	}
}

func TestTerminalNotifier_Format(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	n := NewTerminalNotifier(&buf)

	n.Notify(Toast{Level: LevelWarning, Title: "Task cancelled", Message: "nightly digest"})
	n.Notify(Toast{Level: LevelSuccess, Title: "Saved"})

	out := buf.String()
	if !strings.Contains(out, "[warning] Task cancelled: nightly digest\n") {
		t.Errorf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "[success] Saved\n") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestMulti_FansOut(t *testing.T) {
	var a, b Recorder
	Multi{&a, &b}.Notify(Toast{Title: "x"})
	if len(a.Toasts()) != 1 || len(b.Toasts()) != 1 {
		t.Error("expected both recorders to receive the toast")
	}
}

func TestGate_ReconfigureLive(t *testing.T) {
	var first, second Recorder
	g := NewGate(&first, nil, time.Minute)
	toast := Toast{Title: "saved", Key: "doc:a"}

	g.Notify(toast)
	g.Notify(toast)
	if n := len(first.Toasts()); n != 1 {
		t.Fatalf("toasts = %d, want 1 inside the window", n)
	}

	g.SetWindow(time.Millisecond)
	g.SetNext(&second)
	time.Sleep(5 * time.Millisecond)
	g.Notify(toast)

	if n := len(second.Toasts()); n != 1 {
		t.Errorf("new sink toasts = %d, want 1", n)
	}
	if n := len(first.Toasts()); n != 1 {
		t.Errorf("old sink received %d toasts after swap", n)
	}
}
