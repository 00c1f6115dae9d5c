package docstore

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore keeps documents in process memory. Used by tests and dry runs.
func NewMemoryStore() Store {
	return wrap(&memoryStore{docs: make(map[string][]byte)})
}

func (s *memoryStore) get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.docs[name]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), body...), nil
}

func (s *memoryStore) put(_ context.Context, name string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[name] = append([]byte(nil), body...)
	return nil
}

func (s *memoryStore) close() error { return nil }

func (s *memoryStore) backend() string { return "memory" }
