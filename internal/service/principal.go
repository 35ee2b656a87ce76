package service

import "github.com/sandeepkv93/learning-platform-auth/internal/domain"

// Principal identifies the authenticated caller and the session backing the
// request.
type Principal struct {
	UserID    uint
	SessionID string
	Role      domain.Role
	Source    string

	// Permissions is filled by the RBAC middleware once resolved.
	Permissions []string
}

func (p *Principal) Actor() Actor {
	return Actor{UserID: p.UserID, Permissions: p.Permissions}
}
