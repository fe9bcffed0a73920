// Package nonce tracks recently seen nonces per signer scope to block
// replayed requests and tickets.
package nonce

import (
	"context"
	"sync"
	"time"
)

// Store is the anti-replay contract. CheckAndRecord is logically atomic:
// at most one call per (scope, nonce) pair may be accepted before the
// recorded entry expires. Seen is a read-only peek that never consumes.
type Store interface {
	Seen(ctx context.Context, scope, nonce string) (bool, error)
	CheckAndRecord(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error)
}

// DefaultRequestTTL is the replay window for HMAC-signed API requests.
// Ticket nonces use the ticket's own remaining lifetime instead.
const DefaultRequestTTL = 10 * time.Minute

// MemoryStore keeps nonce records in process memory. Suitable for tests
// and single-instance deployments; multi-instance deployments should use
// RedisStore so all replicas share one replay window.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates an empty store and starts a background sweep
// that prunes expired entries every sweepEvery. A non-positive interval
// disables the sweeper; expired entries are still pruned lazily on read.
func NewMemoryStore(sweepEvery time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go s.sweepLoop(sweepEvery)
	}
	return s
}

// WithClock overrides the time source. Test use only.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Close stops the sweep goroutine.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func key(scope, nonce string) string { return scope + "\n" + nonce }

func (s *MemoryStore) Seen(_ context.Context, scope, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.entries[key(scope, nonce)]
	if !ok {
		return false, nil
	}
	if s.now().After(exp) {
		delete(s.entries, key(scope, nonce))
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) CheckAndRecord(_ context.Context, scope, nonce string, ttl time.Duration) (bool, error) {
	k := key(scope, nonce)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.entries[k]; ok && !now.After(exp) {
		return false, nil
	}
	s.entries[k] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.entries {
		if now.After(exp) {
			delete(s.entries, k)
		}
	}
}

// Len reports the number of live entries. Test use only.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
