package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/learning-platform-auth/internal/health"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/handler"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/middleware"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/response"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

const maxBodyBytes = 1 << 20

type Dependencies struct {
	AuthHandler        *handler.AuthHandler
	SessionHandler     *handler.SessionHandler
	UserHandler        *handler.UserHandler
	AdminHandler       *handler.AdminHandler
	ProjectHandler     *handler.ProjectHandler
	Authenticator      middleware.Authenticator
	Cookies            security.CookiePolicy
	RBACService        service.RBACAuthorizer
	PermissionResolver service.PermissionResolver
	CORSOrigins        []string
	AuthRateLimitRPM   int
	APIRateLimitRPM    int
	UserRateLimitRPM   int
	GlobalRateLimiter  GlobalRateLimiterFunc
	AuthRateLimiter    AuthRateLimiterFunc
	UserRateLimiter    UserRateLimiterFunc
	Readiness          *health.ProbeRunner
	EnableOTelHTTP     bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type AuthRateLimiterFunc func(http.Handler) http.Handler
type UserRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}
	// The user limiter runs after authentication so callers sharing an address
	// get separate budgets.
	userLimiter := dep.UserRateLimiter
	if userLimiter == nil {
		rpm := dep.UserRateLimitRPM
		if rpm <= 0 {
			rpm = dep.APIRateLimitRPM
		}
		userLimiter = middleware.NewDistributedRateLimiterWithKey(middleware.NewLocalFixedWindowLimiter(), rpm, time.Minute, middleware.FailClosed, "user", middleware.SubjectOrIPKey).Middleware()
	}
	authMiddleware := middleware.AuthMiddleware(dep.Authenticator, dep.Cookies)
	authenticated := func(next http.Handler) http.Handler {
		return authMiddleware(userLimiter(next))
	}
	require := func(permission string) func(http.Handler) http.Handler {
		return middleware.RequirePermission(dep.RBACService, dep.PermissionResolver, permission)
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter)
			r.Post("/register", dep.AuthHandler.Register)
			r.Post("/login", dep.AuthHandler.Login)
			r.Get("/google/login", dep.AuthHandler.GoogleLogin)
			r.Get("/google/callback", dep.AuthHandler.GoogleCallback)
			r.Group(func(r chi.Router) {
				r.Use(authenticated)
				r.Use(middleware.CSRFMiddleware)
				r.Post("/logout", dep.AuthHandler.Logout)
				r.Get("/me", dep.AuthHandler.Me)
				r.Post("/token", dep.AuthHandler.Token)
				r.Route("/sessions", func(r chi.Router) {
					r.Use(require(service.PermSessionsReadSelf))
					r.Get("/", dep.SessionHandler.List)
					r.Delete("/", dep.SessionHandler.RevokeMany)
					r.Post("/current/enrich", dep.SessionHandler.EnrichCurrent)
					r.Post("/revoke-all", dep.SessionHandler.RevokeAll)
					r.Delete("/{id}", dep.SessionHandler.RevokeOne)
				})
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Use(middleware.CSRFMiddleware)

			r.Get("/me", dep.UserHandler.Profile)
			r.With(require(service.PermProfileWriteSelf)).Patch("/me", dep.UserHandler.UpdateProfile)

			r.Route("/admin", func(r chi.Router) {
				r.With(require(service.PermUsersRead)).Get("/users", dep.AdminHandler.ListUsers)
				r.With(require(service.PermUsersWrite)).Patch("/users/{id}", dep.AdminHandler.UpdateUser)
				r.With(require(service.PermSecurityEventsRead)).Get("/security-events", dep.AdminHandler.ListSecurityEvents)
				r.With(require(service.PermSecurityEventsRead)).Get("/security-events/summary", dep.AdminHandler.SecuritySummary)
			})

			r.Group(func(r chi.Router) {
				r.Use(require(service.PermProjectsWrite))
				r.Post("/projects", dep.ProjectHandler.Create)
				r.Get("/projects", dep.ProjectHandler.List)
				r.Get("/projects/{id}", dep.ProjectHandler.Get)
				r.Patch("/projects/{id}", dep.ProjectHandler.Update)
				r.Delete("/projects/{id}", dep.ProjectHandler.Delete)
				r.Post("/projects/{id}/runs", dep.ProjectHandler.CreateRun)
				r.Get("/projects/{id}/runs", dep.ProjectHandler.ListRuns)
				r.Get("/runs/{id}", dep.ProjectHandler.GetRun)
				r.Post("/runs/{id}/transition", dep.ProjectHandler.TransitionRun)
				r.Post("/runs/{id}/trace-events", dep.ProjectHandler.AppendTraceEvents)
				r.Get("/runs/{id}/trace-events", dep.ProjectHandler.ListTraceEvents)
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
