package statestore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by tests and the memory driver.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, ok := s.records[key]
		if !ok {
			continue
		}
		copied := make([]byte, len(value))
		copy(copied, value)
		found[key] = copied
	}
	return found, nil
}

func (s *MemoryStore) Set(_ context.Context, records map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range records {
		copied := make([]byte, len(value))
		copy(copied, value)
		s.records[key] = copied
	}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
