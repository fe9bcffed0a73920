package apikey

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps key records in process memory. Registry reads
// dominate; create/revoke take the exclusive lock.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*Key)}
}

func (s *MemoryStore) Get(_ context.Context, keyID string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[keyID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, key *Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) MarkRevoked(_ context.Context, keyID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok || !key.IsActive {
		return false, nil
	}
	key.IsActive = false
	key.RevokedAt = &at
	return true, nil
}
