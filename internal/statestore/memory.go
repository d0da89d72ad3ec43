package statestore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node development.
// Semantics match RedisStore, including conditional-write behavior.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte

	// SaveCount tallies successful writes per key; tests use it to assert
	// write short-circuits.
	saveCount map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:    make(map[string][]byte),
		saveCount: make(map[string]int),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, Etag(v), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, key string, value []byte, expectedEtag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expectedEtag == EtagAbsent {
		if _, ok := s.values[key]; ok {
			return ErrVersionConflict
		}
	} else if expectedEtag != "" {
		current, ok := s.values[key]
		if !ok || Etag(current) != expectedEtag {
			return ErrVersionConflict
		}
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.values[key] = cp
	s.saveCount[key]++
	return nil
}

// SaveCount returns the number of successful writes for key.
func (s *MemoryStore) SaveCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCount[key]
}
