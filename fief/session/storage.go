package session

import (
	"context"
	"sync"

	"github.com/TamiasSibiricus/fief-go/fief"
)

// Storage persists the state of one user session between requests: the
// current userinfo, the current token set, and the transient PKCE code
// verifier of an in-flight authorization.  Getters return a zero value
// and no error when nothing is stored.  How a Storage is scoped to a
// browser session (cookie, server-side store...) is up to the host
// application.
type Storage interface {
	Userinfo(ctx context.Context) (fief.UserInfo, error)
	SetUserinfo(ctx context.Context, userinfo fief.UserInfo) error
	ClearUserinfo(ctx context.Context) error

	TokenSet(ctx context.Context) (*fief.TokenSet, error)
	SetTokenSet(ctx context.Context, tokens *fief.TokenSet) error
	ClearTokenSet(ctx context.Context) error

	CodeVerifier(ctx context.Context) (string, error)
	SetCodeVerifier(ctx context.Context, verifier string) error
	ClearCodeVerifier(ctx context.Context) error
}

// MemoryStorage is an in-process Storage holding a single session.
// It's mostly useful for CLIs, desktop apps and tests; web applications
// need a per-browser-session implementation instead.
type MemoryStorage struct {
	mu       sync.RWMutex
	userinfo fief.UserInfo
	tokens   *fief.TokenSet
	verifier string
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Userinfo implements Storage.
func (s *MemoryStorage) Userinfo(_ context.Context) (fief.UserInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userinfo, nil
}

// SetUserinfo implements Storage.
func (s *MemoryStorage) SetUserinfo(_ context.Context, userinfo fief.UserInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userinfo = userinfo
	return nil
}

// ClearUserinfo implements Storage.
func (s *MemoryStorage) ClearUserinfo(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userinfo = nil
	return nil
}

// TokenSet implements Storage.
func (s *MemoryStorage) TokenSet(_ context.Context) (*fief.TokenSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens, nil
}

// SetTokenSet implements Storage.
func (s *MemoryStorage) SetTokenSet(_ context.Context, tokens *fief.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
	return nil
}

// ClearTokenSet implements Storage.
func (s *MemoryStorage) ClearTokenSet(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil
	return nil
}

// CodeVerifier implements Storage.
func (s *MemoryStorage) CodeVerifier(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifier, nil
}

// SetCodeVerifier implements Storage.
func (s *MemoryStorage) SetCodeVerifier(_ context.Context, verifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifier = verifier
	return nil
}

// ClearCodeVerifier implements Storage.
func (s *MemoryStorage) ClearCodeVerifier(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifier = ""
	return nil
}
