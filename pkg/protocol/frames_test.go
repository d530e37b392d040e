package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeEnvelope_EntityCreated(t *testing.T) {
	raw := `{"event_type":"entity_created","group_id":"g1","timestamp":"2026-01-02T03:04:05Z",
		"data":{"uuid":"e-1","name":"Alice","labels":["Person"]}}`

	evt, err := DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ec, ok := evt.(EntityCreated)
	if !ok {
		t.Fatalf("expected EntityCreated, got %T", evt)
	}
	if ec.Group() != "g1" {
		t.Errorf("group = %q, want g1", ec.Group())
	}
	if ec.UUID != "e-1" || ec.Name != "Alice" {
		t.Errorf("unexpected payload: %+v", ec)
	}
	if !ec.Timestamp.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("timestamp = %v", ec.Timestamp)
	}
}

func TestDecodeEnvelope_CascadeCounts(t *testing.T) {
	raw := `{"event_type":"group_deleted","group_id":"g1","timestamp":"2026-01-02T03:04:05Z",
		"data":{"episodes_deleted":3,"entities_deleted":7,"edges_deleted":11}}`

	evt, err := DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gd := evt.(GroupDeleted)
	if gd.Episodes != 3 || gd.Entities != 7 || gd.Edges != 11 {
		t.Errorf("counts = %+v", gd.DeletedCounts)
	}
}

func TestDecodeEnvelope_UnknownTagRejected(t *testing.T) {
	raw := `{"event_type":"entity_renamed","group_id":"g1","data":{}}`
	_, err := DecodeEnvelope([]byte(raw))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestDecodeEnvelope_MalformedPayload(t *testing.T) {
	raw := `{"event_type":"queue_status","group_id":"g1","data":{"pending":"many"}}`
	if _, err := DecodeEnvelope([]byte(raw)); err == nil {
		t.Fatal("expected decode error for malformed payload")
	}
}

func TestDecodeFrame_AgentStatus(t *testing.T) {
	raw := `{"event":"scheduled-tasks:agent-status","data":{"executionId":"x1","taskId":"t1","status":"tool_call","toolName":"search"}}`

	evt, err := DecodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	as, ok := evt.(AgentStatus)
	if !ok {
		t.Fatalf("expected AgentStatus, got %T", evt)
	}
	if as.ExecutionID != "x1" || as.Status != StatusToolCall || as.ToolName != "search" {
		t.Errorf("unexpected payload: %+v", as)
	}
	if as.Status.IsTerminal() {
		t.Error("tool_call must not be terminal")
	}
}

func TestDecodeFrame_AgentStatusRequiresExecutionID(t *testing.T) {
	raw := `{"event":"scheduled-tasks:agent-status","data":{"status":"completed"}}`
	if _, err := DecodeFrame([]byte(raw)); err == nil {
		t.Fatal("expected error for missing executionId")
	}
}

func TestDecodeFrame_DocumentKinds(t *testing.T) {
	cases := map[string]EventType{
		"obsidian:document-added":   EventDocumentAdded,
		"obsidian:document-updated": EventDocumentUpdated,
		"obsidian:document-removed": EventDocumentRemoved,
	}
	for name, want := range cases {
		raw := `{"event":"` + name + `","data":{"path":"notes/a.md","absolutePath":"/vault/notes/a.md","changeType":"x"}}`
		evt, err := DecodeFrame([]byte(raw))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if evt.Type() != want {
			t.Errorf("%s: type = %q, want %q", name, evt.Type(), want)
		}
		if evt.(DocumentChanged).Path != "notes/a.md" {
			t.Errorf("%s: wrong path", name)
		}
	}
}

func TestDecodeFrame_UnknownEvent(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"event":"obsidian:vault-renamed","data":{}}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestEncodeEnvelope_RoundTrip(t *testing.T) {
	in := EdgeCreated{Meta: Meta{GroupID: "g2"}, UUID: "edge-1", SourceUUID: "a", TargetUUID: "b"}
	data, err := EncodeEnvelope(in, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ec := out.(EdgeCreated)
	if ec.Group() != "g2" || ec.UUID != "edge-1" || ec.TargetUUID != "b" {
		t.Errorf("round trip mismatch: %+v", ec)
	}
}

func TestEncodeFrame_PreservesKind(t *testing.T) {
	data, err := EncodeFrame(NewTaskChanged(EventTaskDeleted, "t9"), time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Type() != EventTaskDeleted || out.(TaskChanged).TaskID != "t9" {
		t.Errorf("unexpected event: %#v", out)
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	terminal := []ExecutionStatus{StatusCompleted, StatusCancelled, StatusError}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []ExecutionStatus{StatusPending, StatusRunning, StatusThinking, "custom"} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
