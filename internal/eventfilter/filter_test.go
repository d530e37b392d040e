package eventfilter

import (
	"testing"

	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

func TestFilter_Match(t *testing.T) {
	entity := protocol.EntityCreated{Meta: protocol.Meta{GroupID: "notes"}, UUID: "e1", Name: "Alice"}
	queue := protocol.QueueStatus{Meta: protocol.Meta{GroupID: "notes"}, Pending: 5}
	failed := protocol.AgentStatus{ExecutionID: "x1", TaskID: "t1", Status: protocol.StatusError}

	cases := []struct {
		expr string
		evt  protocol.Event
		want bool
	}{
		{`type == "entity_created"`, entity, true},
		{`type == "entity_created" && group == "other"`, entity, false},
		{`data.name == "Alice"`, entity, true},
		{`data.pending > 3`, queue, true},
		{`data.pending > 4.5`, queue, true},
		{`data.pending == 5`, queue, true},
		{`type.startsWith("scheduled-tasks:") && data.status == "error"`, failed, true},
		{`data.status == "completed"`, failed, false},
		{`data.missing == "x"`, entity, false},
		{`"summary" in data`, entity, false},
	}
	for _, tc := range cases {
		f, err := Compile(tc.expr)
		if err != nil {
			t.Fatalf("compile %q: %v", tc.expr, err)
		}
		if got := f.Match(tc.evt); got != tc.want {
			t.Errorf("%q on %s = %v, want %v", tc.expr, tc.evt.Type(), got, tc.want)
		}
	}
}

func TestCompile_Errors(t *testing.T) {
	for _, expr := range []string{
		`type ==`,
		`unknown_var == 1`,
		`group + "x"`,
	} {
		if _, err := Compile(expr); err == nil {
			t.Errorf("Compile(%q) succeeded, want error", expr)
		}
	}
}

func TestFilter_NilMatchesAll(t *testing.T) {
	var f *Filter
	if !f.Match(protocol.EntityDeleted{UUID: "x"}) {
		t.Error("nil filter should match")
	}
}
