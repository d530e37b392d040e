package chat

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Result is what a turn extracts from an agent response.
type Result struct {
	Text        string
	MemoryIDs   []string
	MemoryFacts []MemoryFact
	Trace       *Trace
}

// memoryTools are the agent tools whose results reference graph facts.
var memoryTools = map[string]bool{
	"search_memory":       true,
	"search_memory_facts": true,
	"search_facts":        true,
	"search_nodes":        true,
	"graphiti_search":     true,
	"get_entity_edge":     true,
	"get_episodes":        true,
}

type rawResponse struct {
	Response  *string         `json:"response"`
	Content   *string         `json:"content"`
	Message   *string         `json:"message"`
	Memories  json.RawMessage `json:"memories"`
	Trace     json.RawMessage `json:"trace"`
	ToolCalls json.RawMessage `json:"toolCalls"`
}

type rawMemory struct {
	ID   string `json:"id"`
	UUID string `json:"uuid"`
	Fact string `json:"fact"`
	Name string `json:"name"`
}

func (m rawMemory) fact() (MemoryFact, bool) {
	id := m.ID
	if id == "" {
		id = m.UUID
	}
	if id == "" {
		return MemoryFact{}, false
	}
	return MemoryFact{ID: id, Fact: m.Fact, Name: m.Name}, true
}

// Extract parses an agent response. Malformed parts are logged and treated
// as absent; it never fails as a whole.
func Extract(raw []byte) Result {
	var res Result
	var r rawResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		// Plain-text agents answer with a bare string body.
		var text string
		if json.Unmarshal(raw, &text) == nil {
			res.Text = text
			return res
		}
		slog.Warn("chat: unparseable agent response", "error", err, "bytes", len(raw))
		return res
	}

	for _, s := range []*string{r.Response, r.Content, r.Message} {
		if s != nil && *s != "" {
			res.Text = *s
			break
		}
	}

	res.Trace = parseTrace(r.Trace, r.ToolCalls)

	var facts []MemoryFact
	facts = append(facts, parseMemories(r.Memories, "memories")...)
	for _, call := range res.Trace.ToolCalls() {
		if call.IsError || !memoryTools[call.Name] || len(call.Result) == 0 {
			continue
		}
		facts = append(facts, parseToolResult(call)...)
	}
	res.MemoryFacts = dedupeFacts(facts)
	for _, f := range res.MemoryFacts {
		res.MemoryIDs = append(res.MemoryIDs, f.ID)
	}
	return res
}

func parseTrace(trace, flat json.RawMessage) *Trace {
	if len(trace) > 0 && string(trace) != "null" {
		var t Trace
		if err := json.Unmarshal(trace, &t); err != nil {
			slog.Warn("chat: malformed trace", "error", err)
		} else if len(t.Turns) > 0 {
			return &t
		}
	}
	if len(flat) > 0 && string(flat) != "null" {
		var calls []ToolCall
		if err := json.Unmarshal(flat, &calls); err != nil {
			slog.Warn("chat: malformed tool calls", "error", err)
			return nil
		}
		if len(calls) > 0 {
			return &Trace{Turns: []TraceTurn{{Index: 0, ToolCalls: calls}}}
		}
	}
	return nil
}

func parseMemories(raw json.RawMessage, source string) []MemoryFact {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var items []rawMemory
	if err := json.Unmarshal(raw, &items); err != nil {
		slog.Warn("chat: malformed memory list", "source", source, "error", err)
		return nil
	}
	out := make([]MemoryFact, 0, len(items))
	for _, it := range items {
		if f, ok := it.fact(); ok {
			out = append(out, f)
		}
	}
	return out
}

// parseToolResult accepts the result shapes memory tools produce: a list of
// facts, or an object holding one under facts, memories, edges or nodes.
// Results are sometimes double-encoded as a JSON string.
func parseToolResult(call ToolCall) []MemoryFact {
	raw := call.Result
	var s string
	if json.Unmarshal(raw, &s) == nil {
		s = strings.TrimSpace(s)
		if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
			return nil
		}
		raw = json.RawMessage(s)
	}

	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		return parseMemories(raw, call.Name)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		slog.Warn("chat: malformed tool result", "tool", call.Name, "error", err)
		return nil
	}
	var out []MemoryFact
	for _, field := range []string{"facts", "memories", "edges", "nodes"} {
		if v, ok := obj[field]; ok {
			out = append(out, parseMemories(v, call.Name)...)
		}
	}
	return out
}

// dedupeFacts keeps the first occurrence of every id.
func dedupeFacts(facts []MemoryFact) []MemoryFact {
	if len(facts) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(facts))
	out := make([]MemoryFact, 0, len(facts))
	for _, f := range facts {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		out = append(out, f)
	}
	return out
}
