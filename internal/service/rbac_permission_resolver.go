package service

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
)

var errMissingPrincipal = errors.New("missing principal")

// CachedPermissionResolver resolves permissions from the user's current role,
// not the role baked into the access token, so promotions and demotions apply
// on the next request.
type CachedPermissionResolver struct {
	cache RBACPermissionCacheStore
	users UserServiceInterface
	ttl   time.Duration
}

func NewCachedPermissionResolver(cache RBACPermissionCacheStore, users UserServiceInterface, ttl time.Duration) *CachedPermissionResolver {
	if cache == nil {
		cache = NewNoopRBACPermissionCacheStore()
	}
	return &CachedPermissionResolver{cache: cache, users: users, ttl: ttl}
}

func (r *CachedPermissionResolver) ResolvePermissions(ctx context.Context, p *Principal) ([]string, error) {
	if p == nil || p.UserID == 0 {
		return nil, errMissingPrincipal
	}
	if r.ttl > 0 {
		perms, ok, err := r.cache.Get(ctx, p.UserID)
		switch {
		case err != nil:
			observability.RecordRBACPermissionCacheEvent(ctx, "error")
		case ok:
			observability.RecordRBACPermissionCacheEvent(ctx, "hit")
			return perms, nil
		default:
			observability.RecordRBACPermissionCacheEvent(ctx, "miss")
		}
	}

	user, perms, err := r.users.GetByID(p.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if r.ttl > 0 {
		_ = r.cache.Set(ctx, p.UserID, perms, r.ttl)
	}
	return perms, nil
}

func (r *CachedPermissionResolver) InvalidateUser(ctx context.Context, userID uint) error {
	return r.cache.InvalidateUser(ctx, userID)
}

func (r *CachedPermissionResolver) InvalidateAll(ctx context.Context) error {
	return r.cache.InvalidateAll(ctx)
}
