package identity

import (
	"sync"
	"time"
)

// Token is a cached delegated access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// PendingAuthorization records an in-flight user authorization.
type PendingAuthorization struct {
	UserID           string
	AuthorizationURL string
	StartedAt        time.Time
}

// TokenStore holds delegated tokens keyed by user. Implementations must be
// safe for concurrent use.
type TokenStore interface {
	Get(userID string) (Token, bool)
	Put(userID string, token Token)
	Delete(userID string)
}

// PendingStore holds pending authorizations keyed by user. Implementations
// must be safe for concurrent use.
type PendingStore interface {
	Get(userID string) (PendingAuthorization, bool)
	Put(userID string, pending PendingAuthorization)
	Delete(userID string)
}

type memoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewMemoryTokenStore returns an in-process TokenStore.
func NewMemoryTokenStore() TokenStore {
	return &memoryTokenStore{tokens: make(map[string]Token)}
}

func (s *memoryTokenStore) Get(userID string) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[userID]
	return token, ok
}

func (s *memoryTokenStore) Put(userID string, token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
}

func (s *memoryTokenStore) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userID)
}

type memoryPendingStore struct {
	mu      sync.RWMutex
	pending map[string]PendingAuthorization
}

// NewMemoryPendingStore returns an in-process PendingStore.
func NewMemoryPendingStore() PendingStore {
	return &memoryPendingStore{pending: make(map[string]PendingAuthorization)}
}

func (s *memoryPendingStore) Get(userID string) (PendingAuthorization, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending, ok := s.pending[userID]
	return pending, ok
}

func (s *memoryPendingStore) Put(userID string, pending PendingAuthorization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userID] = pending
}

func (s *memoryPendingStore) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
}
