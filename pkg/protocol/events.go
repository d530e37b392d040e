package protocol

import "time"

// EventType is the tag of a pushed event. Graph-channel tags travel in
// Envelope.EventType, task/document-channel tags in Frame.Event.
type EventType string

// Graph channel (Graphiti service).
const (
	EventEntityCreated  EventType = "entity_created"
	EventEntityDeleted  EventType = "entity_deleted"
	EventEdgeCreated    EventType = "edge_created"
	EventEdgeDeleted    EventType = "edge_deleted"
	EventEpisodeCreated EventType = "episode_created"
	EventEpisodeDeleted EventType = "episode_deleted"
	EventGroupDeleted   EventType = "group_deleted"
	EventSessionDeleted EventType = "session_deleted"
	EventProjectDeleted EventType = "project_deleted"
	EventQueueStatus    EventType = "queue_status"
)

// Task and document channel (Xerro service).
const (
	EventAgentStatus     EventType = "scheduled-tasks:agent-status"
	EventTaskCreated     EventType = "scheduled-tasks:task-created"
	EventTaskUpdated     EventType = "scheduled-tasks:task-updated"
	EventTaskDeleted     EventType = "scheduled-tasks:task-deleted"
	EventDocumentAdded   EventType = "obsidian:document-added"
	EventDocumentUpdated EventType = "obsidian:document-updated"
	EventDocumentRemoved EventType = "obsidian:document-removed"
)

// GraphEventTypes lists every tag carried by the graph channel.
var GraphEventTypes = []EventType{
	EventEntityCreated, EventEntityDeleted,
	EventEdgeCreated, EventEdgeDeleted,
	EventEpisodeCreated, EventEpisodeDeleted,
	EventGroupDeleted, EventSessionDeleted, EventProjectDeleted,
	EventQueueStatus,
}

// TaskEventTypes lists every tag carried by the task/document channel.
var TaskEventTypes = []EventType{
	EventAgentStatus, EventTaskCreated, EventTaskUpdated, EventTaskDeleted,
	EventDocumentAdded, EventDocumentUpdated, EventDocumentRemoved,
}

// ExecutionStatus is the status reported for one run of a scheduled task.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusToolCall  ExecutionStatus = "tool_call"
	StatusThinking  ExecutionStatus = "thinking"
	StatusCompleted ExecutionStatus = "completed"
	StatusCancelled ExecutionStatus = "cancelled"
	StatusError     ExecutionStatus = "error"
)

// IsTerminal reports whether the execution will not change status again.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Event is the sum type of every pushed event. The set of implementations
// is closed: only types in this package satisfy it.
type Event interface {
	Type() EventType
	Group() string
	isEvent()
}

// Meta is the envelope part shared by every event.
type Meta struct {
	GroupID   string    `json:"-"`
	Timestamp time.Time `json:"-"`
}

func (m Meta) Group() string { return m.GroupID }
func (Meta) isEvent()        {}

// --- Graph channel payloads ---

type EntityCreated struct {
	Meta
	UUID    string   `json:"uuid"`
	Name    string   `json:"name"`
	Labels  []string `json:"labels,omitempty"`
	Summary string   `json:"summary,omitempty"`
}

func (EntityCreated) Type() EventType { return EventEntityCreated }

type EntityDeleted struct {
	Meta
	UUID string `json:"uuid"`
}

func (EntityDeleted) Type() EventType { return EventEntityDeleted }

type EdgeCreated struct {
	Meta
	UUID       string `json:"uuid"`
	SourceUUID string `json:"source_node_uuid"`
	TargetUUID string `json:"target_node_uuid"`
	Name       string `json:"name,omitempty"`
	Fact       string `json:"fact,omitempty"`
}

func (EdgeCreated) Type() EventType { return EventEdgeCreated }

type EdgeDeleted struct {
	Meta
	UUID string `json:"uuid"`
}

func (EdgeDeleted) Type() EventType { return EventEdgeDeleted }

type EpisodeCreated struct {
	Meta
	UUID      string `json:"uuid"`
	Name      string `json:"name,omitempty"`
	Source    string `json:"source,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (EpisodeCreated) Type() EventType { return EventEpisodeCreated }

type EpisodeDeleted struct {
	Meta
	UUID string `json:"uuid"`
}

func (EpisodeDeleted) Type() EventType { return EventEpisodeDeleted }

// DeletedCounts carries cascade counts for group/session/project deletion.
type DeletedCounts struct {
	Episodes int `json:"episodes_deleted"`
	Entities int `json:"entities_deleted"`
	Edges    int `json:"edges_deleted"`
}

type GroupDeleted struct {
	Meta
	DeletedCounts
}

func (GroupDeleted) Type() EventType { return EventGroupDeleted }

type SessionDeleted struct {
	Meta
	SessionID string `json:"session_id"`
	DeletedCounts
}

func (SessionDeleted) Type() EventType { return EventSessionDeleted }

type ProjectDeleted struct {
	Meta
	ProjectName string `json:"project_name"`
	DeletedCounts
}

func (ProjectDeleted) Type() EventType { return EventProjectDeleted }

// QueueStatus reports pending ingestion work for a group.
type QueueStatus struct {
	Meta
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}

func (QueueStatus) Type() EventType { return EventQueueStatus }

// --- Task channel payloads ---

// AgentStatus is a status transition of one task execution.
type AgentStatus struct {
	Meta
	ExecutionID string          `json:"executionId"`
	TaskID      string          `json:"taskId"`
	Status      ExecutionStatus `json:"status"`
	Operation   string          `json:"operation,omitempty"`
	ToolName    string          `json:"toolName,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func (AgentStatus) Type() EventType { return EventAgentStatus }

// TaskChanged is a lifecycle change of a scheduled task definition.
type TaskChanged struct {
	Meta
	TaskID string `json:"taskId"`
	Name   string `json:"name,omitempty"`
	kind   EventType
}

func (e TaskChanged) Type() EventType { return e.kind }

// NewTaskChanged builds a task lifecycle event of the given kind.
func NewTaskChanged(kind EventType, taskID string) TaskChanged {
	return TaskChanged{TaskID: taskID, kind: kind}
}

// --- Document channel payloads ---

// DocumentChanged is an Obsidian vault change notification.
type DocumentChanged struct {
	Meta
	Path         string `json:"path"`
	AbsolutePath string `json:"absolutePath,omitempty"`
	ChangeType   string `json:"changeType,omitempty"`
	kind         EventType
}

func (e DocumentChanged) Type() EventType { return e.kind }

// NewDocumentChanged builds a document event of the given kind.
func NewDocumentChanged(kind EventType, path string) DocumentChanged {
	return DocumentChanged{Path: path, kind: kind}
}
