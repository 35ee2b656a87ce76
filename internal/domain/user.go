package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleTeacher    Role = "teacher"
	RoleAdmin      Role = "admin"
	RoleResearcher Role = "researcher"
)

func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleStudent, RoleTeacher, RoleAdmin, RoleResearcher:
		return r, true
	default:
		return "", false
	}
}

type User struct {
	ID                     uint              `gorm:"primaryKey" json:"id"`
	Email                  string            `gorm:"size:254;uniqueIndex;not null" json:"email"`
	Name                   string            `gorm:"size:100;not null" json:"name"`
	Role                   Role              `gorm:"size:32;index;not null" json:"role"`
	IsActive               bool              `gorm:"not null" json:"is_active"`
	OAuthProvider          *string           `gorm:"size:32;uniqueIndex:idx_users_oauth_identity" json:"oauth_provider,omitempty"`
	OAuthSubject           *string           `gorm:"size:191;uniqueIndex:idx_users_oauth_identity" json:"-"`
	PasswordHash           *string           `gorm:"size:255" json:"-"`
	EmailVerifiedAt        *time.Time        `json:"email_verified_at,omitempty"`
	PasswordResetToken     *string           `gorm:"size:128;index" json:"-"`
	PasswordResetExpiresAt *time.Time        `json:"-"`
	Preferences            datatypes.JSONMap `json:"preferences,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// NormalizeEmail is the canonical form used for storage, lookup and lockout keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

func (u *User) HasOAuthIdentity() bool {
	return u.OAuthProvider != nil && *u.OAuthProvider != ""
}

func (u *User) CanAuthenticate() bool {
	return u.HasPassword() || u.HasOAuthIdentity()
}

func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserView is the sanitized representation returned to clients.
type UserView struct {
	ID              uint           `json:"id"`
	Email           string         `json:"email"`
	Name            string         `json:"name"`
	Role            Role           `json:"role"`
	IsActive        bool           `json:"is_active"`
	OAuthProvider   string         `json:"oauth_provider,omitempty"`
	EmailVerified   bool           `json:"email_verified"`
	EmailVerifiedAt *time.Time     `json:"email_verified_at,omitempty"`
	Preferences     map[string]any `json:"preferences"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (u *User) Sanitize() UserView {
	prefs := map[string]any{}
	for k, v := range u.Preferences {
		prefs[k] = v
	}
	view := UserView{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            u.Role,
		IsActive:        u.IsActive,
		EmailVerified:   u.IsVerified(),
		EmailVerifiedAt: u.EmailVerifiedAt,
		Preferences:     prefs,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
	if u.OAuthProvider != nil {
		view.OAuthProvider = *u.OAuthProvider
	}
	return view
}
