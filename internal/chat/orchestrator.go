package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/graphiti-browser/internal/bus"
	"github.com/nextlevelbuilder/graphiti-browser/internal/notify"
)

// Turn is one prior message sent as context with a request.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is what the agent receives for one user turn.
type Request struct {
	Message string `json:"message"`
	History []Turn `json:"history,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

// Agent answers one chat turn with the raw response body.
type Agent interface {
	Chat(ctx context.Context, req Request) (json.RawMessage, error)
}

// StreamingAgent can additionally deliver the response text in chunks
// before returning the final body.
type StreamingAgent interface {
	Agent
	ChatStream(ctx context.Context, req Request, onChunk func(string)) (json.RawMessage, error)
}

// State is the per-turn state machine: idle, sending, then succeeded or
// failed, then idle again.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Options configures an Orchestrator.
type Options struct {
	// HistoryTurns is how many prior messages go with each request. Zero
	// sends none.
	HistoryTurns int
	// MaxRequestTokens caps the history further, counted with Counter.
	// Zero means no cap.
	MaxRequestTokens int
	Counter          TokenCounter
	Stream           bool
	// OnChunk, if set, receives each streamed text chunk as it arrives.
	OnChunk func(string)
}

// Orchestrator runs chat turns against an agent and records them in a
// Store. It holds no queue: a second SendMessage while a turn is running
// fails with ErrTurnInFlight.
type Orchestrator struct {
	store    *Store
	agent    Agent
	notifier notify.Notifier
	opts     Options
	states   bus.Fanout[State]

	mu    sync.Mutex
	state State
}

func NewOrchestrator(store *Store, agent Agent, notifier notify.Notifier, opts Options) *Orchestrator {
	if notifier == nil {
		notifier = notify.Discard
	}
	if opts.Counter == nil {
		opts.Counter = EstimateCounter{}
	}
	return &Orchestrator{
		store:    store,
		agent:    agent,
		notifier: notifier,
		opts:     opts,
		state:    StateIdle,
	}
}

// State returns the current turn state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IsStreaming reports whether a turn is in flight.
func (o *Orchestrator) IsStreaming() bool { return o.State() == StateSending }

// OnStateChange registers fn for every state transition.
func (o *Orchestrator) OnStateChange(fn func(State)) *bus.Subscription {
	return o.states.Add(fn)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.states.Emit(s)
}

// SendMessage runs one turn: it records the user message and an assistant
// placeholder, calls the agent, and fills the placeholder in. It returns
// the final assistant message. On failure the placeholder is kept empty
// with Streaming cleared, a toast is shown and the error is returned.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) (Message, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return Message{}, ErrTurnInFlight
	}
	o.state = StateSending
	o.mu.Unlock()
	o.states.Emit(StateSending)
	defer o.setState(StateIdle)

	req := Request{
		Message: text,
		History: o.historyFor(o.store.Messages()),
		GroupID: o.store.GroupID(),
	}
	o.store.AddMessage(Message{Role: RoleUser, Content: text})
	placeholder := o.store.AddMessage(Message{Role: RoleAssistant, Streaming: true})

	raw, streamed, err := o.call(ctx, req, placeholder.ID)
	if err != nil {
		// Partial streamed text is dropped so a failed turn reads as empty.
		o.store.UpdateMessage(placeholder.ID, Patch{Content: Ptr(""), Streaming: Ptr(false)})
		o.notifier.Notify(notify.Toast{
			Level:   notify.LevelError,
			Title:   "Chat failed",
			Message: DescribeError(err),
		})
		o.setState(StateFailed)
		slog.Warn("chat: turn failed", "group", req.GroupID, "error", err)

		msg, _ := o.store.Message(placeholder.ID)
		return msg, fmt.Errorf("chat: %w", err)
	}

	res := Extract(raw)
	content := res.Text
	if content == "" {
		content = streamed
	}
	o.store.UpdateMessage(placeholder.ID, Patch{
		Content:     &content,
		MemoryIDs:   res.MemoryIDs,
		MemoryFacts: res.MemoryFacts,
		Trace:       res.Trace,
		Streaming:   Ptr(false),
	})
	o.setState(StateSucceeded)

	msg, ok := o.store.Message(placeholder.ID)
	if !ok {
		// Trimmed away by a tiny window; report what was produced anyway.
		msg = placeholder
		msg.Content = content
		msg.TokenEstimate = EstimateTokens(content)
		msg.MemoryIDs = res.MemoryIDs
		msg.MemoryFacts = res.MemoryFacts
		msg.Trace = res.Trace
		msg.Streaming = false
	}
	slog.Debug("chat: turn complete", "group", req.GroupID, "tokens", msg.TokenEstimate, "memories", len(msg.MemoryIDs))
	return msg, nil
}

// call invokes the agent, streaming into the placeholder when enabled and
// supported. It returns the final body and the streamed text.
func (o *Orchestrator) call(ctx context.Context, req Request, placeholderID string) (json.RawMessage, string, error) {
	sa, ok := o.agent.(StreamingAgent)
	if !o.opts.Stream || !ok {
		raw, err := o.agent.Chat(ctx, req)
		return raw, "", err
	}

	var buf strings.Builder
	raw, err := sa.ChatStream(ctx, req, func(chunk string) {
		buf.WriteString(chunk)
		o.store.UpdateMessage(placeholderID, Patch{Content: Ptr(buf.String())})
		if o.opts.OnChunk != nil {
			o.opts.OnChunk(chunk)
		}
	})
	return raw, buf.String(), err
}

// historyFor picks the prior turns sent with a request: completed user and
// assistant messages, the most recent HistoryTurns of them, then trimmed
// from the oldest end to fit MaxRequestTokens.
func (o *Orchestrator) historyFor(msgs []Message) []Turn {
	if o.opts.HistoryTurns <= 0 {
		return nil
	}

	var turns []Turn
	for _, m := range msgs {
		if m.Streaming || m.Content == "" {
			continue
		}
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	if len(turns) > o.opts.HistoryTurns {
		turns = turns[len(turns)-o.opts.HistoryTurns:]
	}

	if o.opts.MaxRequestTokens > 0 {
		total := 0
		counts := make([]int, len(turns))
		for i, t := range turns {
			counts[i] = o.opts.Counter.Count(t.Content)
			total += counts[i]
		}
		for len(turns) > 0 && total > o.opts.MaxRequestTokens {
			total -= counts[0]
			turns, counts = turns[1:], counts[1:]
		}
	}
	return turns
}
