package session

import (
	"context"
	"sync"
)

// Keys under which the session tokens are persisted.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// Tokens is the persisted session. An empty field means the value is absent.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Empty reports whether no session is stored.
func (t Tokens) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// get returns the value stored under key.
func (t Tokens) get(key string) string {
	switch key {
	case KeyAccessToken:
		return t.AccessToken
	case KeyRefreshToken:
		return t.RefreshToken
	default:
		return ""
	}
}

// TokenStore persists the access and refresh token.
//
// Get, Load and Clear never fail: read errors are reported as an absent
// session. Set writes both tokens so that no reader observes one updated and
// the other stale, and reports persistence failures to the caller.
type TokenStore interface {
	Get(ctx context.Context, key string) string
	Load(ctx context.Context) Tokens
	Set(ctx context.Context, tokens Tokens) error
	Clear(ctx context.Context)
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens Tokens
}

// NewMemoryStore creates a MemoryStore seeded with tokens.
func NewMemoryStore(tokens Tokens) *MemoryStore {
	return &MemoryStore{tokens: tokens}
}

func (s *MemoryStore) Get(_ context.Context, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.get(key)
}

func (s *MemoryStore) Load(_ context.Context) Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *MemoryStore) Set(_ context.Context, tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = Tokens{}
}
