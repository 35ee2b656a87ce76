package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/sandeepkv93/learning-platform-auth/internal/http/response"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

// ErrorWriter maps service errors onto the API error taxonomy. Verbose adds
// the raw message and a stack to 500 responses and is only enabled in
// development profiles.
type ErrorWriter struct {
	Verbose bool
}

func (e ErrorWriter) Write(w http.ResponseWriter, r *http.Request, err error) {
	var validation *security.ValidationError
	var locked *service.LockedError
	switch {
	case errors.As(err, &validation):
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", validation.Message, map[string]string{"field": validation.Field})
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter.Seconds()+0.5)))
		response.Error(w, r, http.StatusLocked, "ACCOUNT_LOCKED", locked.Error(), map[string]int{"retry_after_minutes": locked.RetryAfterMinutes()})
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error(), nil)
	case errors.Is(err, service.ErrEmailNotVerified), errors.Is(err, service.ErrGoogleEmailNotVerified):
		response.Error(w, r, http.StatusUnauthorized, "EMAIL_NOT_VERIFIED", err.Error(), nil)
	case errors.Is(err, service.ErrAccountDisabled):
		response.Error(w, r, http.StatusUnauthorized, "ACCOUNT_DISABLED", err.Error(), nil)
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, security.ErrInvalidState):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	case errors.Is(err, service.ErrOAuthFailed):
		response.Error(w, r, http.StatusUnauthorized, "OAUTH_FAILED", service.ErrOAuthFailed.Error(), nil)
	case errors.Is(err, service.ErrForbidden):
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "you do not have access to this resource", nil)
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrProjectNotFound),
		errors.Is(err, repository.ErrRunNotFound),
		errors.Is(err, repository.ErrSessionNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, service.ErrEmailTaken), errors.Is(err, service.ErrOAuthIdentityConflict):
		response.Error(w, r, http.StatusConflict, "CONFLICT", err.Error(), map[string]string{"field": "email"})
	case errors.Is(err, service.ErrConflict):
		response.Error(w, r, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		e.internal(w, r, err)
	}
}

func (e ErrorWriter) internal(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "unhandled request error", "path", r.URL.Path, "error", err)
	if !e.Verbose {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.Error(w, r, http.StatusInternalServerError, "INTERNAL", err.Error(), map[string]string{"stack": string(debug.Stack())})
}
