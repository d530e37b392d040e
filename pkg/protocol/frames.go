// Package protocol defines the wire format of the two push channels the
// browser client listens to: the Graphiti graph-event socket and the Xerro
// task/document socket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownEvent is returned when a wire message carries a tag this client
// does not know. It is never silently mapped to a default event.
var ErrUnknownEvent = errors.New("unknown event type")

// Envelope is the graph-channel wire message.
type Envelope struct {
	EventType EventType       `json:"event_type"`
	GroupID   string          `json:"group_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Frame is the task/document-channel wire message.
type Frame struct {
	Event     EventType       `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// DecodeEnvelope parses one graph-channel message into its typed event.
func DecodeEnvelope(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	meta := Meta{GroupID: env.GroupID, Timestamp: env.Timestamp}

	switch env.EventType {
	case EventEntityCreated:
		return decodeInto(env.Data, &EntityCreated{Meta: meta})
	case EventEntityDeleted:
		return decodeInto(env.Data, &EntityDeleted{Meta: meta})
	case EventEdgeCreated:
		return decodeInto(env.Data, &EdgeCreated{Meta: meta})
	case EventEdgeDeleted:
		return decodeInto(env.Data, &EdgeDeleted{Meta: meta})
	case EventEpisodeCreated:
		return decodeInto(env.Data, &EpisodeCreated{Meta: meta})
	case EventEpisodeDeleted:
		return decodeInto(env.Data, &EpisodeDeleted{Meta: meta})
	case EventGroupDeleted:
		return decodeInto(env.Data, &GroupDeleted{Meta: meta})
	case EventSessionDeleted:
		return decodeInto(env.Data, &SessionDeleted{Meta: meta})
	case EventProjectDeleted:
		return decodeInto(env.Data, &ProjectDeleted{Meta: meta})
	case EventQueueStatus:
		return decodeInto(env.Data, &QueueStatus{Meta: meta})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.EventType)
	}
}

// DecodeFrame parses one task/document-channel message into its typed event.
// The channel carries no group; Group() of the result is empty unless the
// payload names one.
func DecodeFrame(data []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	meta := Meta{Timestamp: f.Timestamp}

	switch f.Event {
	case EventAgentStatus:
		e := &AgentStatus{Meta: meta}
		if _, err := decodeInto(f.Data, e); err != nil {
			return nil, err
		}
		if e.ExecutionID == "" {
			return nil, fmt.Errorf("decode %s: missing executionId", f.Event)
		}
		return *e, nil
	case EventTaskCreated, EventTaskUpdated, EventTaskDeleted:
		e := &TaskChanged{Meta: meta, kind: f.Event}
		if _, err := decodeInto(f.Data, e); err != nil {
			return nil, err
		}
		return *e, nil
	case EventDocumentAdded, EventDocumentUpdated, EventDocumentRemoved:
		e := &DocumentChanged{Meta: meta, kind: f.Event}
		if _, err := decodeInto(f.Data, e); err != nil {
			return nil, err
		}
		if e.Path == "" {
			return nil, fmt.Errorf("decode %s: missing path", f.Event)
		}
		return *e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

// EncodeEnvelope renders a graph-channel event in wire form.
func EncodeEnvelope(e Event, ts time.Time) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{EventType: e.Type(), GroupID: e.Group(), Timestamp: ts, Data: data})
}

// EncodeFrame renders a task/document-channel event in wire form.
func EncodeFrame(e Event, ts time.Time) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: e.Type(), Data: data, Timestamp: ts})
}

// decodeInto unmarshals raw into dst and returns the dereferenced event.
func decodeInto[T Event](raw json.RawMessage, dst *T) (Event, error) {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", (*dst).Type(), err)
		}
	}
	return *dst, nil
}
