package credential

import (
	"context"
	"sync"
)

// StaticStore keeps tokens in memory, seeded from configuration.
type StaticStore struct {
	tokens map[string]string
	mu     sync.RWMutex
}

// NewStaticStore creates a store holding token under name (if non-empty).
func NewStaticStore(name, token string) *StaticStore {
	s := &StaticStore{tokens: make(map[string]string)}
	if token != "" {
		s.tokens[name] = token
	}
	return s
}

func (s *StaticStore) Load(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[name]
	if !ok {
		return "", ErrAuthNotReady
	}
	return token, nil
}

func (s *StaticStore) Save(_ context.Context, name, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[name] = token
	return nil
}

func (s *StaticStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, name)
	return nil
}

func (s *StaticStore) Close() error { return nil }
