package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandeepkv93/learning-platform-auth/internal/http/response"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
)

type Authenticator interface {
	AuthenticateAccessToken(ctx context.Context, raw string) (*service.Principal, error)
	AuthenticateSessionToken(ctx context.Context, raw string) (*service.Principal, error)
}

// AuthMiddleware accepts a bearer access token or the session cookie. An
// Authorization header wins over the cookie so that bearer callers are never
// treated as cookie-authenticated.
func AuthMiddleware(auth Authenticator, cookies security.CookiePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				principal *service.Principal
				err       error
			)
			if raw := bearerToken(r); raw != "" {
				principal, err = auth.AuthenticateAccessToken(r.Context(), raw)
			} else if raw := cookies.SessionToken(r); raw != "" {
				principal, err = auth.AuthenticateSessionToken(r.Context(), raw)
			} else {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
				return
			}
			if err != nil {
				if errors.Is(err, service.ErrUnauthorized) || errors.Is(err, service.ErrAccountDisabled) {
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired credentials", nil)
					return
				}
				slog.ErrorContext(r.Context(), "authenticate request", "error", err)
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func WithPrincipal(ctx context.Context, p *service.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (*service.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*service.Principal)
	return p, ok && p != nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
