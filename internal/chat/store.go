package chat

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/graphiti-browser/internal/kvstore"
)

const (
	DefaultMaxMessages = 50
	DefaultMaxTokens   = 8000

	persistTimeout = 5 * time.Second
)

// Limits bound the stored history. Zero values take the defaults.
type Limits struct {
	MaxMessages int
	MaxTokens   int
}

func (l Limits) withDefaults() Limits {
	if l.MaxMessages <= 0 {
		l.MaxMessages = DefaultMaxMessages
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = DefaultMaxTokens
	}
	return l
}

// Store is the conversation for one group. Every mutation trims (on append)
// and writes the full envelope back to kv. Storage failures never surface
// to callers: the store logs them and keeps working in memory.
type Store struct {
	kv      kvstore.Store
	groupID string
	limits  Limits
	now     func() time.Time

	mu       sync.Mutex
	messages []Message
	degraded bool
}

// NewStore loads the stored conversation for groupID. A stored envelope is
// used only when its version and group id both match; anything else starts
// an empty history. kv may be nil for an in-memory store.
func NewStore(ctx context.Context, kv kvstore.Store, groupID string, limits Limits) *Store {
	s := &Store{
		kv:      kv,
		groupID: groupID,
		limits:  limits.withDefaults(),
		now:     time.Now,
	}
	s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) {
	if s.kv == nil {
		return
	}
	var h History
	ok, err := s.kv.Get(ctx, HistoryKey(s.groupID), &h)
	if err != nil {
		slog.Warn("chat: failed to load history", "group", s.groupID, "error", err)
		s.degraded = true
		return
	}
	if !ok {
		return
	}
	if h.Version != HistoryVersion || h.GroupID != s.groupID {
		slog.Info("chat: ignoring stored history", "group", s.groupID,
			"stored_version", h.Version, "stored_group", h.GroupID)
		return
	}
	s.messages = h.Messages
}

// GroupID returns the group this conversation belongs to.
func (s *Store) GroupID() string { return s.groupID }

// AddMessage assigns id, timestamp and token estimate, appends m and trims.
// The returned message is the stored one; it may already have been trimmed
// away (system messages always are).
func (s *Store) AddMessage(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Timestamp = s.now().UTC()
	m.TokenEstimate = EstimateTokens(m.Content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = trim(append(s.messages, m), s.limits)
	s.persistLocked()
	return m
}

// UpdateMessage merges p into the message with id. It reports false, and
// changes nothing, when no such message exists.
func (s *Store) UpdateMessage(id string, p Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.messages, func(m Message) bool { return m.ID == id })
	if i < 0 {
		return false
	}
	m := &s.messages[i]
	if p.Content != nil {
		m.Content = *p.Content
		m.TokenEstimate = EstimateTokens(m.Content)
	}
	if p.MemoryIDs != nil {
		m.MemoryIDs = p.MemoryIDs
	}
	if p.MemoryFacts != nil {
		m.MemoryFacts = p.MemoryFacts
	}
	if p.Trace != nil {
		m.Trace = p.Trace
	}
	if p.Streaming != nil {
		m.Streaming = *p.Streaming
	}
	s.persistLocked()
	return true
}

// Message returns the message with id.
func (s *Store) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Messages returns the history, oldest first.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Clear drops the whole conversation, in memory and in storage.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	if s.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.kv.Delete(ctx, HistoryKey(s.groupID)); err != nil {
		slog.Warn("chat: failed to clear stored history", "group", s.groupID, "error", err)
		s.degraded = true
	}
}

// TotalTokens sums the token estimates of the stored messages.
func (s *Store) TotalTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalTokens(s.messages)
}

// Degraded reports whether a storage operation has failed; the history is
// then only as durable as the process.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Store) persistLocked() {
	if s.kv == nil {
		return
	}
	h := History{
		Version:     HistoryVersion,
		GroupID:     s.groupID,
		Messages:    s.messages,
		LastUpdated: s.now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.kv.Put(ctx, HistoryKey(s.groupID), h); err != nil {
		if !s.degraded {
			slog.Warn("chat: failed to persist history, continuing in memory", "group", s.groupID, "error", err)
		}
		s.degraded = true
	}
}

// trim applies, in order: drop system messages, keep the last MaxMessages,
// then drop the oldest while over MaxTokens and more than two remain.
func trim(msgs []Message, l Limits) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}

	if len(out) > l.MaxMessages {
		out = out[len(out)-l.MaxMessages:]
	}

	total := totalTokens(out)
	for total > l.MaxTokens && len(out) > 2 {
		total -= out[0].TokenEstimate
		out = out[1:]
	}
	return out
}

func totalTokens(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += m.TokenEstimate
	}
	return n
}
