package service

import (
	"context"
	"sync"
	"time"
)

// RBACPermissionCacheStore caches the permissions granted by a user's current
// role. InvalidateUser drops one entry; InvalidateAll bumps a generation that
// every entry is stamped with, so older entries read as misses.
type RBACPermissionCacheStore interface {
	Get(ctx context.Context, userID uint) ([]string, bool, error)
	Set(ctx context.Context, userID uint, permissions []string, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID uint) error
	InvalidateAll(ctx context.Context) error
}

type NoopRBACPermissionCacheStore struct{}

func NewNoopRBACPermissionCacheStore() *NoopRBACPermissionCacheStore {
	return &NoopRBACPermissionCacheStore{}
}

func (NoopRBACPermissionCacheStore) Get(context.Context, uint) ([]string, bool, error) {
	return nil, false, nil
}
func (NoopRBACPermissionCacheStore) Set(context.Context, uint, []string, time.Duration) error {
	return nil
}
func (NoopRBACPermissionCacheStore) InvalidateUser(context.Context, uint) error { return nil }
func (NoopRBACPermissionCacheStore) InvalidateAll(context.Context) error        { return nil }

type permissionEntry struct {
	permissions []string
	generation  uint64
	expiresAt   time.Time
}

type InMemoryRBACPermissionCacheStore struct {
	mu         sync.Mutex
	entries    map[uint]permissionEntry
	generation uint64
	now        func() time.Time
}

func NewInMemoryRBACPermissionCacheStore() *InMemoryRBACPermissionCacheStore {
	return &InMemoryRBACPermissionCacheStore{entries: make(map[uint]permissionEntry), now: time.Now}
}

func (s *InMemoryRBACPermissionCacheStore) Get(_ context.Context, userID uint) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		return nil, false, nil
	}
	if e.generation != s.generation || !s.now().Before(e.expiresAt) {
		delete(s.entries, userID)
		return nil, false, nil
	}
	return append([]string(nil), e.permissions...), true, nil
}

func (s *InMemoryRBACPermissionCacheStore) Set(_ context.Context, userID uint, permissions []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = permissionEntry{
		permissions: append([]string(nil), permissions...),
		generation:  s.generation,
		expiresAt:   s.now().Add(ttl),
	}
	return nil
}

func (s *InMemoryRBACPermissionCacheStore) InvalidateUser(_ context.Context, userID uint) error {
	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryRBACPermissionCacheStore) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	s.generation++
	clear(s.entries)
	s.mu.Unlock()
	return nil
}
