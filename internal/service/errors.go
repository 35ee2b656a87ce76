package service

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email address is not verified")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrUnauthorized       = errors.New("authentication required")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("resource state conflict")
)

// LockedError is returned while an account is inside its lockout window.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account temporarily locked due to repeated failed logins, retry in %d minutes", e.RetryAfterMinutes())
}

func (e *LockedError) RetryAfterMinutes() int {
	m := int(math.Ceil(e.RetryAfter.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}
