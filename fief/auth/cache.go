package auth

import (
	"context"
	"sync"

	"github.com/TamiasSibiricus/fief-go/fief"
)

// UserInfoCache holds userinfo between authenticated requests, indexed
// by the user id.  Get returns a nil UserInfo and no error on a miss.
// Implementations must be safe for concurrent use.
type UserInfoCache interface {
	Get(ctx context.Context, id string) (fief.UserInfo, error)
	Set(ctx context.Context, id string, userinfo fief.UserInfo) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// MemoryUserInfoCache is an in-process UserInfoCache.  Entries live
// until removed; there is no expiry.
type MemoryUserInfoCache struct {
	mu      sync.RWMutex
	entries map[string]fief.UserInfo
}

// NewMemoryUserInfoCache creates an empty MemoryUserInfoCache.
func NewMemoryUserInfoCache() *MemoryUserInfoCache {
	return &MemoryUserInfoCache{
		entries: map[string]fief.UserInfo{},
	}
}

// Get implements UserInfoCache.
func (c *MemoryUserInfoCache) Get(_ context.Context, id string) (fief.UserInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id], nil
}

// Set implements UserInfoCache.
func (c *MemoryUserInfoCache) Set(_ context.Context, id string, userinfo fief.UserInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = userinfo
	return nil
}

// Remove implements UserInfoCache.
func (c *MemoryUserInfoCache) Remove(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

// Clear implements UserInfoCache.
func (c *MemoryUserInfoCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]fief.UserInfo{}
	return nil
}
