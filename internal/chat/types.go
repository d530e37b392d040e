// Package chat holds the conversation with the agent: a bounded, persisted
// message history and the orchestrator that runs one turn at a time.
package chat

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one chat message. Assistant messages are created empty with
// Streaming set and filled in place when the response arrives.
type Message struct {
	ID            string       `json:"id"`
	Role          Role         `json:"role"`
	Content       string       `json:"content"`
	Timestamp     time.Time    `json:"timestamp"`
	TokenEstimate int          `json:"tokenEstimate"`
	MemoryIDs     []string     `json:"memoryIds,omitempty"`
	MemoryFacts   []MemoryFact `json:"memoryFacts,omitempty"`
	Trace         *Trace       `json:"trace,omitempty"`
	Streaming     bool         `json:"isStreaming,omitempty"`
}

// MemoryFact is a knowledge-graph fact the agent used to answer.
type MemoryFact struct {
	ID   string `json:"id"`
	Fact string `json:"fact,omitempty"`
	Name string `json:"name,omitempty"`
}

// Trace is the tool-calling record of one agent response.
type Trace struct {
	Turns []TraceTurn `json:"turns"`
}

type TraceTurn struct {
	Index     int        `json:"index"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
}

// ToolCalls returns every call across all turns, in order.
func (t *Trace) ToolCalls() []ToolCall {
	if t == nil {
		return nil
	}
	var out []ToolCall
	for _, turn := range t.Turns {
		out = append(out, turn.ToolCalls...)
	}
	return out
}

// HistoryVersion is the current persisted envelope version. Envelopes with
// any other version are ignored on load.
const HistoryVersion = 1

// History is the persisted conversation envelope.
type History struct {
	Version     int       `json:"version"`
	GroupID     string    `json:"groupId"`
	Messages    []Message `json:"messages"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// HistoryKey is the storage key for a group's conversation.
func HistoryKey(groupID string) string { return "chat-history:" + groupID }

// Patch lists the fields UpdateMessage merges. Nil fields are left as is.
type Patch struct {
	Content     *string
	MemoryIDs   []string
	MemoryFacts []MemoryFact
	Trace       *Trace
	Streaming   *bool
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }
