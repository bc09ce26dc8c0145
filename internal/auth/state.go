package auth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// stateStore issues and consumes the single-use state values that tie an
// authorization redirect to its completion. Entries expire so an abandoned
// flow cannot be replayed later.
type stateStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func newStateStore(ttl time.Duration) *stateStore {
	return &stateStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue generates and records a fresh state value.
func (s *stateStore) Issue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.URLEncoding.EncodeToString(b)
	s.mu.Lock()
	s.entries[state] = s.now().Add(s.ttl)
	s.prune()
	s.mu.Unlock()
	return state, nil
}

// Consume validates and removes a state value. A state is valid exactly once.
func (s *stateStore) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.entries[state]
	if !ok {
		return false
	}
	delete(s.entries, state)
	return s.now().Before(expiry)
}

// prune drops expired entries; called with the lock held.
func (s *stateStore) prune() {
	now := s.now()
	for state, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, state)
		}
	}
}
