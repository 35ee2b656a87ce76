package service

import (
	"slices"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
)

const (
	PermSessionsReadSelf   = "sessions:read:self"
	PermProfileWriteSelf   = "profile:write:self"
	PermProjectsWrite      = "projects:write"
	PermProjectsReadAny    = "projects:read:any"
	PermProjectsWriteAny   = "projects:write:any"
	PermSecurityEventsRead = "security_events:read"
	PermUsersRead          = "users:read"
	PermUsersWrite         = "users:write"
)

var baseUserPermissions = []string{PermSessionsReadSelf, PermProfileWriteSelf, PermProjectsWrite}

// RBACService maps roles to their fixed permission sets.
type RBACService struct {
	byRole map[domain.Role][]string
}

func NewRBACService() *RBACService {
	return &RBACService{byRole: map[domain.Role][]string{
		domain.RoleStudent:    baseUserPermissions,
		domain.RoleTeacher:    baseUserPermissions,
		domain.RoleResearcher: baseUserPermissions,
		domain.RoleAdmin: append(slices.Clone(baseUserPermissions),
			PermProjectsReadAny, PermProjectsWriteAny, PermSecurityEventsRead, PermUsersRead, PermUsersWrite),
	}}
}

func (s *RBACService) PermissionsFor(role domain.Role) []string {
	return slices.Clone(s.byRole[role])
}

func (s *RBACService) HasPermission(permissions []string, required string) bool {
	return slices.Contains(permissions, required)
}

// Actor is the typed subject of a capability check. Permissions come from the
// caller's current role.
type Actor struct {
	UserID      uint
	Permissions []string
}

func (a Actor) Has(permission string) bool { return slices.Contains(a.Permissions, permission) }

func CanAccessProject(actor Actor, p *domain.Project) bool {
	if p == nil {
		return false
	}
	return p.Visibility == domain.VisibilityPublic || p.OwnerID == actor.UserID || actor.Has(PermProjectsReadAny)
}

func CanModifyProject(actor Actor, p *domain.Project) bool {
	if p == nil {
		return false
	}
	return p.OwnerID == actor.UserID || actor.Has(PermProjectsWriteAny)
}

// CanModifyRun allows the user who started the run, the project owner and admins.
func CanModifyRun(actor Actor, p *domain.Project, run *domain.Run) bool {
	if run == nil {
		return false
	}
	return run.UserID == actor.UserID || CanModifyProject(actor, p)
}
