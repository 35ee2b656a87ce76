package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
)

const maxPreferenceKeys = 50

type ProfileUpdate struct {
	Name        *string        `json:"name"`
	Preferences map[string]any `json:"preferences"`
}

type AdminUserUpdate struct {
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

type UserService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	rbac     *RBACService
	resolver PermissionResolver
}

func NewUserService(users repository.UserRepository, sessions repository.SessionRepository, rbac *RBACService) *UserService {
	return &UserService{users: users, sessions: sessions, rbac: rbac}
}

// SetPermissionResolver wires cache invalidation after construction; the
// resolver itself depends on this service.
func (s *UserService) SetPermissionResolver(resolver PermissionResolver) {
	s.resolver = resolver
}

func (s *UserService) GetByID(id uint) (*domain.User, []string, error) {
	user, err := s.users.FindByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return user, s.rbac.PermissionsFor(user.Role), nil
}

func (s *UserService) List(ctx context.Context, query repository.UserListQuery) (repository.PageResult[domain.UserView], error) {
	page, err := s.users.ListPaged(query)
	if err != nil {
		return repository.PageResult[domain.UserView]{}, err
	}
	views := make([]domain.UserView, 0, len(page.Items))
	for i := range page.Items {
		views = append(views, page.Items[i].Sanitize())
	}
	return repository.PageResult[domain.UserView]{
		Items:      views,
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID uint, in ProfileUpdate) (*domain.UserView, error) {
	user, _, err := s.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if n := utf8.RuneCountInString(name); n < security.MinNameLength || n > security.MaxNameLength {
			return nil, &security.ValidationError{Field: "name", Message: "name must be between 2 and 100 characters"}
		}
		user.Name = name
	}
	if in.Preferences != nil {
		if len(in.Preferences) > maxPreferenceKeys {
			return nil, &security.ValidationError{Field: "preferences", Message: "too many preference keys"}
		}
		merged := map[string]any{}
		for k, v := range user.Preferences {
			merged[k] = v
		}
		for k, v := range in.Preferences {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		user.Preferences = merged
	}
	if err := s.users.Update(user); err != nil {
		return nil, err
	}
	view := user.Sanitize()
	return &view, nil
}

// AdminUpdate changes role or activation. Deactivation deletes every session
// of the user and both changes invalidate cached permissions.
func (s *UserService) AdminUpdate(ctx context.Context, actorID, targetID uint, in AdminUserUpdate) (*domain.UserView, error) {
	if actorID == targetID {
		return nil, ErrForbidden
	}
	user, _, err := s.GetByID(targetID)
	if err != nil {
		return nil, err
	}
	if in.Role != nil {
		role, ok := domain.ParseRole(*in.Role)
		if !ok {
			return nil, &security.ValidationError{Field: "role", Message: "unknown role"}
		}
		user.Role = role
	}
	deactivated := false
	if in.IsActive != nil {
		deactivated = user.IsActive && !*in.IsActive
		user.IsActive = *in.IsActive
	}
	if err := s.users.Update(user); err != nil {
		return nil, err
	}
	if deactivated {
		n, err := s.sessions.DeleteByUserID(user.ID)
		if err != nil {
			return nil, err
		}
		observability.RecordSessionRevocation(ctx, "deactivation", n)
		observability.RecordAdminUserMutation(ctx, "deactivate")
	}
	if in.Role != nil {
		observability.RecordAdminUserMutation(ctx, "set_role")
	}
	s.invalidatePermissions(ctx, user.ID)
	view := user.Sanitize()
	return &view, nil
}

// invalidatePermissions drops cached permissions after a role or status change.
// A failure leaves the old entry until RBAC_PERMISSION_CACHE_TTL expires.
func (s *UserService) invalidatePermissions(ctx context.Context, userID uint) {
	if s.resolver == nil {
		return
	}
	if err := s.resolver.InvalidateUser(ctx, userID); err != nil {
		slog.WarnContext(ctx, "permission cache invalidation failed", "user_id", userID, "error", err)
		observability.RecordRBACPermissionCacheEvent(ctx, "invalidate_error")
	}
}

// SetRoleByEmail is the operator path used by authctl.
func (s *UserService) SetRoleByEmail(ctx context.Context, email string, role domain.Role) (*domain.UserView, error) {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	user.Role = role
	if err := s.users.Update(user); err != nil {
		return nil, err
	}
	s.invalidatePermissions(ctx, user.ID)
	observability.RecordAdminUserMutation(ctx, "set_role")
	view := user.Sanitize()
	return &view, nil
}
