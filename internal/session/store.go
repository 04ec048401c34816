package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultLifetime is how long a session stays valid after creation.
	DefaultLifetime = 24 * time.Hour

	tokenBytes = 32
)

type session struct {
	accountID string
	expiresAt time.Time
}

// Store maps opaque tokens to account ids.
type Store struct {
	mutex    sync.Mutex
	sessions map[string]session
	lifetime time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store. A non-positive lifetime falls back to
// DefaultLifetime.
func New(lifetime time.Duration, opts ...Option) *Store {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	s := &Store{
		sessions: make(map[string]session),
		lifetime: lifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues a new token for accountID.
func (s *Store) Create(accountID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[token] = session{
		accountID: accountID,
		expiresAt: s.now().Add(s.lifetime),
	}
	return token, nil
}

// Validate returns the account id for token. An expired token is deleted in
// the same critical section and reported as absent.
func (s *Store) Validate(token string) (string, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return "", false
	}
	if !sess.expiresAt.After(s.now()) {
		delete(s.sessions, token)
		return "", false
	}
	return sess.accountID, true
}

// Destroy removes token if present.
func (s *Store) Destroy(token string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.sessions, token)
}

// Prune removes every session whose account no longer exists and returns
// how many were removed.
func (s *Store) Prune(exists func(accountID string) bool) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if !exists(sess.accountID) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.sessions)
}

// Lifetime returns how long new sessions stay valid.
func (s *Store) Lifetime() time.Duration {
	return s.lifetime
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
