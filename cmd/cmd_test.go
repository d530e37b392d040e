package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		evt  protocol.Event
		want string
	}{
		{protocol.EntityCreated{Meta: protocol.Meta{GroupID: "g"}, UUID: "u1", Name: "Alice"}, `group=g uuid=u1 name="Alice"`},
		{protocol.EntityDeleted{UUID: "u1"}, "group=- uuid=u1"},
		{protocol.QueueStatus{Meta: protocol.Meta{GroupID: "g"}, Pending: 2, Processing: 1}, "group=g pending=2 processing=1"},
		{protocol.AgentStatus{ExecutionID: "0123456789", TaskID: "t1", Status: protocol.StatusToolCall, ToolName: "search"},
			"task=t1 exec=01234567 status=tool_call tool=search"},
		{protocol.NewTaskChanged(protocol.EventTaskDeleted, "t9"), "task=t9 "},
	}
	for _, tt := range tests {
		if got := describeEvent(tt.evt); got != tt.want {
			t.Errorf("describeEvent(%T) = %q, want %q", tt.evt, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a\n  b\tc", 10); got != "a b c" {
		t.Errorf("whitespace not collapsed: %q", got)
	}
	got := truncate(strings.Repeat("x", 20), 8)
	if got != "xxxxxxx…" {
		t.Errorf("truncate = %q", got)
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(nil); got != "never" {
		t.Errorf("nil = %q", got)
	}
	var zero time.Time
	if got := formatTime(&zero); got != "never" {
		t.Errorf("zero = %q", got)
	}
}

func TestShortID(t *testing.T) {
	if shortID("abc") != "abc" || shortID("0123456789") != "01234567" {
		t.Error("unexpected shortID")
	}
}

func TestRootCommandTree(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"watch", "chat", "history", "tasks", "health", "docs", "notifications", "login", "logout", "config", "version"} {
		c, _, err := root.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
	c, _, err := root.Find([]string{"tasks", "create"})
	if err != nil || c.Flags().Lookup("cron") == nil {
		t.Error("tasks create missing --cron")
	}
}
