package middleware

import (
	"errors"
	"net/http"

	"github.com/sandeepkv93/learning-platform-auth/internal/http/response"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

// RequirePermission resolves the caller's permissions from the current role
// and stores them on the principal for downstream capability checks.
func RequirePermission(rbac service.RBACAuthorizer, resolver service.PermissionResolver, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			perms := principal.Permissions
			if resolver != nil {
				resolved, err := resolver.ResolvePermissions(r.Context(), principal)
				if err != nil {
					if errors.Is(err, service.ErrAccountDisabled) {
						response.Error(w, r, http.StatusUnauthorized, "ACCOUNT_DISABLED", "account is disabled", nil)
						return
					}
					observability.RecordRBACPermissionCacheEvent(r.Context(), "resolve_error")
					response.Error(w, r, http.StatusServiceUnavailable, "RBAC_UNAVAILABLE", "permission resolution unavailable", nil)
					return
				}
				perms = resolved
			}
			if !rbac.HasPermission(perms, permission) {
				observability.RecordRBACPermissionCacheEvent(r.Context(), "denied")
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permission", map[string]string{"required": permission})
				return
			}
			observability.RecordRBACPermissionCacheEvent(r.Context(), "allowed")
			resolvedPrincipal := *principal
			resolvedPrincipal.Permissions = perms
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), &resolvedPrincipal)))
		})
	}
}
