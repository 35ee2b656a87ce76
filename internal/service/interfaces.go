package service

import (
	"context"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
)

type UserServiceInterface interface {
	GetByID(id uint) (*domain.User, []string, error)
}

type RBACAuthorizer interface {
	HasPermission(permissions []string, required string) bool
}

type PermissionResolver interface {
	ResolvePermissions(ctx context.Context, p *Principal) ([]string, error)
	InvalidateUser(ctx context.Context, userID uint) error
	InvalidateAll(ctx context.Context) error
}
