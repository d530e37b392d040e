package kvstore

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store. Values are still JSON-encoded so it
// behaves like the durable backends (no aliasing of caller data).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string, dst any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decode(key, raw, dst)
}

func (s *MemoryStore) Put(_ context.Context, key string, v any) error {
	data, err := encode(key, v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
