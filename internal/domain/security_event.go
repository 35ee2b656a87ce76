package domain

import "time"

type SecurityEventType string

const (
	EventLoginSuccess   SecurityEventType = "login_success"
	EventLoginFailure   SecurityEventType = "login_failure"
	EventAccountLocked  SecurityEventType = "account_locked"
	EventRegistration   SecurityEventType = "registration"
	EventLogout         SecurityEventType = "logout"
	EventSessionRevoked SecurityEventType = "session_revoked"
)

// SecurityEvent is a diagnostic record kept in a bounded buffer. It is never
// written to the database.
type SecurityEvent struct {
	Type      SecurityEventType `json:"type"`
	UserID    uint              `json:"user_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
