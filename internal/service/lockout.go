package service

import (
	"context"
	"sync"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
)

type LockoutPolicy struct {
	Threshold    int
	LockDuration time.Duration
	ResetWindow  time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 5, LockDuration: 15 * time.Minute, ResetWindow: time.Hour}
}

type LockoutRecord struct {
	FailCount   int
	LastAttempt time.Time
	LockedUntil time.Time
}

func (r LockoutRecord) IsLocked(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}

// LockoutStore keeps failure records per key. Records whose last attempt is
// older than the reset window are treated as absent and dropped.
type LockoutStore interface {
	Get(ctx context.Context, key string, now time.Time, policy LockoutPolicy) (LockoutRecord, bool, error)
	RecordFailure(ctx context.Context, key string, now time.Time, policy LockoutPolicy) (LockoutRecord, error)
	Reset(ctx context.Context, key string) error
}

type InMemoryLockoutStore struct {
	mu      sync.Mutex
	records map[string]LockoutRecord
}

func NewInMemoryLockoutStore() *InMemoryLockoutStore {
	return &InMemoryLockoutStore{records: make(map[string]LockoutRecord)}
}

func (s *InMemoryLockoutStore) Get(_ context.Context, key string, now time.Time, policy LockoutPolicy) (LockoutRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.currentLocked(key, now, policy)
	return rec, ok, nil
}

func (s *InMemoryLockoutStore) RecordFailure(_ context.Context, key string, now time.Time, policy LockoutPolicy) (LockoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, _ := s.currentLocked(key, now, policy)
	rec.FailCount++
	rec.LastAttempt = now
	if rec.FailCount >= policy.Threshold {
		rec.LockedUntil = now.Add(policy.LockDuration)
	}
	s.records[key] = rec
	return rec, nil
}

func (s *InMemoryLockoutStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *InMemoryLockoutStore) currentLocked(key string, now time.Time, policy LockoutPolicy) (LockoutRecord, bool) {
	rec, ok := s.records[key]
	if !ok {
		return LockoutRecord{}, false
	}
	if now.Sub(rec.LastAttempt) > policy.ResetWindow {
		delete(s.records, key)
		return LockoutRecord{}, false
	}
	return rec, true
}

// LockoutTracker applies the lockout policy to login attempts keyed by
// normalized email.
type LockoutTracker struct {
	store  LockoutStore
	policy LockoutPolicy
	now    func() time.Time
}

func NewLockoutTracker(store LockoutStore, policy LockoutPolicy) *LockoutTracker {
	if store == nil {
		store = NewInMemoryLockoutStore()
	}
	def := DefaultLockoutPolicy()
	if policy.Threshold <= 0 {
		policy.Threshold = def.Threshold
	}
	if policy.LockDuration <= 0 {
		policy.LockDuration = def.LockDuration
	}
	if policy.ResetWindow <= 0 {
		policy.ResetWindow = def.ResetWindow
	}
	return &LockoutTracker{store: store, policy: policy, now: time.Now}
}

func (t *LockoutTracker) WithClock(now func() time.Time) *LockoutTracker {
	t.now = now
	return t
}

func (t *LockoutTracker) Policy() LockoutPolicy { return t.policy }

// Check returns a *LockedError while the key is locked.
func (t *LockoutTracker) Check(ctx context.Context, email string) error {
	now := t.now()
	rec, ok, err := t.store.Get(ctx, lockoutKey(email), now, t.policy)
	if err != nil {
		return err
	}
	if ok && rec.IsLocked(now) {
		observability.RecordAuthLockout(ctx, "rejected")
		return &LockedError{RetryAfter: rec.LockedUntil.Sub(now)}
	}
	return nil
}

// RecordFailure counts a failed attempt and reports whether it triggered a lock.
func (t *LockoutTracker) RecordFailure(ctx context.Context, email string) (LockoutRecord, bool, error) {
	now := t.now()
	rec, err := t.store.RecordFailure(ctx, lockoutKey(email), now, t.policy)
	if err != nil {
		return LockoutRecord{}, false, err
	}
	locked := rec.IsLocked(now)
	if locked {
		observability.RecordAuthLockout(ctx, "locked")
	}
	return rec, locked, nil
}

func (t *LockoutTracker) Reset(ctx context.Context, email string) error {
	return t.store.Reset(ctx, lockoutKey(email))
}

func lockoutKey(email string) string {
	return domain.NormalizeEmail(email)
}
