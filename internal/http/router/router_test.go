package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/health"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

type unhealthyChecker struct{}

func (unhealthyChecker) Check(ctx context.Context) health.CheckResult {
	return health.CheckResult{Name: "db", Healthy: false, Error: "db down"}
}

// fakeAuthenticator accepts "Bearer student" (user 42), "Bearer classmate"
// (user 7) and the session cookie "cookie".
type fakeAuthenticator struct{}

func (fakeAuthenticator) AuthenticateAccessToken(_ context.Context, raw string) (*service.Principal, error) {
	switch raw {
	case "student":
		return &service.Principal{UserID: 42, SessionID: "s-bearer", Source: service.CredentialSourceBearer}, nil
	case "classmate":
		return &service.Principal{UserID: 7, SessionID: "s-classmate", Source: service.CredentialSourceBearer}, nil
	default:
		return nil, service.ErrUnauthorized
	}
}

func (fakeAuthenticator) AuthenticateSessionToken(_ context.Context, raw string) (*service.Principal, error) {
	if raw != "cookie" {
		return nil, service.ErrUnauthorized
	}
	return &service.Principal{UserID: 42, SessionID: "s-cookie", Source: service.CredentialSourceCookie}, nil
}

func newRouterTestDeps() Dependencies {
	return Dependencies{
		Authenticator:    fakeAuthenticator{},
		Cookies:          security.NewCookiePolicy(false, "", time.Hour),
		RBACService:      service.NewRBACService(),
		CORSOrigins:      []string{"http://localhost"},
		AuthRateLimitRPM: 1000,
		APIRateLimitRPM:  1000,
		EnableOTelHTTP:   false,
	}
}

func perform(r http.Handler, method, target string, headers map[string]string, cookies []*http.Cookie, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env map[string]any
	_ = json.NewDecoder(rr.Body).Decode(&env)
	errObj, _ := env["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestRouterHealthReadyNilAndUnreadyBranches(t *testing.T) {
	t.Run("nil readiness returns ready", func(t *testing.T) {
		dep := newRouterTestDeps()
		dep.Readiness = nil
		r := NewRouter(dep)

		rr := perform(r, http.MethodGet, "/health/ready", nil, nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
			t.Fatalf("expected ready status payload, got %s", rr.Body.String())
		}
	})

	t.Run("unready dependency returns 503", func(t *testing.T) {
		dep := newRouterTestDeps()
		dep.Readiness = health.NewProbeRunner(time.Second, 0, unhealthyChecker{})
		r := NewRouter(dep)

		rr := perform(r, http.MethodGet, "/health/ready", nil, nil, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"code":"DEPENDENCY_UNREADY"`) {
			t.Fatalf("expected DEPENDENCY_UNREADY error envelope, got %s", rr.Body.String())
		}
	})
}

func TestRouterHealthLiveAlwaysOKWithDefaultLimiter(t *testing.T) {
	r := NewRouter(newRouterTestDeps())

	rr := perform(r, http.MethodGet, "/health/live", nil, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected health live payload, got %s", rr.Body.String())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers on every response")
	}
}

func TestRouterFallbackGlobalRateLimiterWhenCustomNil(t *testing.T) {
	dep := newRouterTestDeps()
	dep.APIRateLimitRPM = 1
	dep.GlobalRateLimiter = nil
	r := NewRouter(dep)

	first := perform(r, http.MethodGet, "/health/live", nil, nil, "")
	if first.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", first.Code)
	}
	second := perform(r, http.MethodGet, "/health/live", nil, nil, "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429 from fallback limiter, got %d", second.Code)
	}
}

func TestRouterAuthLimiterCoversEveryAuthRoute(t *testing.T) {
	dep := newRouterTestDeps()
	hits := 0
	dep.AuthRateLimiter = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	r := NewRouter(dep)

	paths := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/auth/login"},
		{http.MethodPost, "/api/v1/auth/register"},
		{http.MethodGet, "/api/v1/auth/google/login"},
		{http.MethodGet, "/api/v1/auth/sessions"},
	}
	for _, p := range paths {
		if rr := perform(r, p.method, p.path, nil, nil, ""); rr.Code != http.StatusTooManyRequests {
			t.Fatalf("%s %s expected auth limiter, got %d", p.method, p.path, rr.Code)
		}
	}
	if hits != len(paths) {
		t.Fatalf("expected %d limiter hits, got %d", len(paths), hits)
	}
}

func TestRouterUserLimiterKeysBySubjectBehindSharedAddress(t *testing.T) {
	dep := newRouterTestDeps()
	dep.UserRateLimitRPM = 1
	r := NewRouter(dep)
	student := map[string]string{"Authorization": "Bearer student"}

	if rr := perform(r, http.MethodGet, "/api/v1/admin/users", student, nil, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("first request expected to pass the limiter, got %d", rr.Code)
	}
	rr := perform(r, http.MethodGet, "/api/v1/admin/users", student, nil, "")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("second request expected 429 with Retry-After, got %d", rr.Code)
	}
	classmate := map[string]string{"Authorization": "Bearer classmate"}
	if rr := perform(r, http.MethodGet, "/api/v1/admin/users", classmate, nil, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("another user on the same address expected its own budget, got %d", rr.Code)
	}
	if rr := perform(r, http.MethodGet, "/api/v1/admin/users", nil, nil, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous request expected 401 before the user limiter, got %d", rr.Code)
	}
}

func TestRouterRequiresAuthentication(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	for _, path := range []string{"/api/v1/auth/me", "/api/v1/auth/sessions", "/api/v1/me", "/api/v1/projects", "/api/v1/admin/users"} {
		rr := perform(r, http.MethodGet, path, nil, nil, "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s expected 401, got %d", path, rr.Code)
		}
	}
}

func TestRouterCSRFScopeOnCookieAuthenticatedRoutes(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	sessionCookie := &http.Cookie{Name: security.SessionCookieName, Value: "cookie"}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "logout", method: http.MethodPost, path: "/api/v1/auth/logout"},
		{name: "revoke-one", method: http.MethodDelete, path: "/api/v1/auth/sessions/abc"},
		{name: "revoke-many", method: http.MethodDelete, path: "/api/v1/auth/sessions", body: `{"ids":["a"]}`},
		{name: "revoke-all", method: http.MethodPost, path: "/api/v1/auth/sessions/revoke-all"},
		{name: "enrich", method: http.MethodPost, path: "/api/v1/auth/sessions/current/enrich"},
		{name: "profile", method: http.MethodPatch, path: "/api/v1/me", body: `{"name":"Ann"}`},
		{name: "projects", method: http.MethodPost, path: "/api/v1/projects", body: `{"name":"p"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := perform(r, tc.method, tc.path, nil, []*http.Cookie{sessionCookie}, tc.body)
			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected 403 csrf rejection, got %d body=%s", rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != "FORBIDDEN" {
				t.Fatalf("expected FORBIDDEN error code, got %q", code)
			}
		})
	}
}

func TestRouterAdminRoutesRequirePermission(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	headers := map[string]string{"Authorization": "Bearer student"}

	for _, path := range []string{"/api/v1/admin/users", "/api/v1/admin/security-events", "/api/v1/admin/security-events/summary?email=a@b.co"} {
		rr := perform(r, http.MethodGet, path, headers, nil, "")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s expected 403 for principal without permissions, got %d", path, rr.Code)
		}
		if code := errorCode(t, rr); code != "FORBIDDEN" {
			t.Fatalf("expected FORBIDDEN, got %q", code)
		}
	}
}
