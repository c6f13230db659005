package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/odlemon/khaya-portal-sub001/pkg/jwt"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
)

// Session is the token source of the console: it caches the stored token
// and the identity it carries, and tells listeners when either changes.
type Session struct {
	store  Store
	name   string
	parser *jwt.Parser
	now    func() time.Time

	mu        sync.RWMutex
	token     string
	identity  *jwt.Identity
	listeners []func(*jwt.Identity)
}

// NewSession creates a session reading the token stored under name.
func NewSession(store Store, name string, parser *jwt.Parser) *Session {
	return &Session{
		store:  store,
		name:   name,
		parser: parser,
		now:    time.Now,
	}
}

// OnChange registers fn to be called with the new identity whenever the
// session token changes; identity is nil after Clear.
func (s *Session) OnChange(fn func(*jwt.Identity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Token returns the bearer token, loading it from the store on first use.
// It returns an error wrapping ErrAuthNotReady when none is usable.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token, identity := s.token, s.identity
	s.mu.RUnlock()

	if token != "" && !s.expired(identity) {
		return token, nil
	}

	stored, err := s.store.Load(ctx, s.name)
	if err != nil {
		return "", err
	}
	id, err := s.parser.Parse(stored)
	if err != nil {
		return "", fmt.Errorf("%w: stored token rejected: %v", ErrAuthNotReady, err)
	}
	if s.expired(id) {
		return "", fmt.Errorf("%w: stored token expired", ErrAuthNotReady)
	}

	s.commit(stored, id)
	return stored, nil
}

// Identity returns the identity of the cached token, or nil.
func (s *Session) Identity() *jwt.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Set validates, persists and caches a new token.
func (s *Session) Set(ctx context.Context, token string) (*jwt.Identity, error) {
	id, err := s.parser.Parse(token)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, s.name, token); err != nil {
		return nil, fmt.Errorf("failed to persist session token: %w", err)
	}
	s.commit(token, id)

	l := log.Ctx(ctx)
	l.Info().Str(log.FieldUserID, id.UserID).Str(log.FieldRole, id.Role).Msg("session token stored")
	return id, nil
}

// Clear forgets the token in memory and in the store.
func (s *Session) Clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.name); err != nil && !errors.Is(err, ErrAuthNotReady) {
		return err
	}
	s.commit("", nil)
	return nil
}

// Close releases the underlying store.
func (s *Session) Close() error {
	return s.store.Close()
}

func (s *Session) commit(token string, id *jwt.Identity) {
	s.mu.Lock()
	changed := s.token != token
	s.token = token
	s.identity = id
	listeners := append(([]func(*jwt.Identity))(nil), s.listeners...)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(id)
	}
}

func (s *Session) expired(id *jwt.Identity) bool {
	return id != nil && !id.ExpiresAt.IsZero() && s.now().After(id.ExpiresAt)
}
