package kvstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation. Values live for the
// lifetime of the process only, so it suits tests and explicit
// session-scoped fallbacks, not durable persistence.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrKeyNotFound
	}

	// Copy so callers cannot mutate stored bytes.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.values[key] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}
