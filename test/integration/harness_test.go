package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/learning-platform-auth/internal/config"
	"github.com/sandeepkv93/learning-platform-auth/internal/database"
	"github.com/sandeepkv93/learning-platform-auth/internal/health"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/handler"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/middleware"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/router"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

const testPassword = "Valid#Pass1234"

var dbCounter atomic.Int64

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// testClock is a movable clock shared by every time-aware service.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type serverOptions struct {
	cfgOverride   func(cfg *config.Config)
	oauthProvider service.OAuthProvider
	redis         redis.UniversalClient
}

type testServer struct {
	baseURL string
	client  *http.Client
	db      *gorm.DB
	clock   *testClock
	users   *service.UserService
	events  *service.SecurityEventLogger
	cfg     *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                      config.ProfileTest,
		JWTIssuer:                "learning-platform-auth",
		JWTAudience:              "learning-platform",
		JWTSecret:                "integration-secret-0123456789abcdef",
		AccessTokenTTL:           15 * time.Minute,
		SessionTTL:               30 * 24 * time.Hour,
		BcryptCost:               4,
		LockoutThreshold:         5,
		LockoutDuration:          15 * time.Minute,
		LockoutResetWindow:       time.Hour,
		SecurityEventCapacity:    1000,
		SecurityEventDedupWindow: 0,
		SecurityMonitorThreshold: 3,
		SecurityMonitorWindow:    15 * time.Minute,
		AuthRateLimitRPM:         1000,
		APIRateLimitRPM:          1000,
		CORSAllowedOrigins:       []string{"http://localhost:3000"},
		OAuthStateSecret:         "integration-state-secret-0123456789",
		RBACPermissionCacheTTL:   time.Minute,
		RedisKeyPrefix:           "it",
	}
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithOptions(t, serverOptions{})
}

func newTestServerWithOptions(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	cfg := testConfig()
	if opts.cfgOverride != nil {
		opts.cfgOverride(cfg)
	}

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", dbCounter.Add(1))
	db, err := database.OpenDSN(database.DriverSQLite, dsn, false)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })

	clock := &testClock{now: time.Now().UTC()}

	var (
		lockoutStore service.LockoutStore             = service.NewInMemoryLockoutStore()
		eventStore   service.SecurityEventStore       = service.NewInMemorySecurityEventStore(cfg.SecurityEventCapacity)
		permStore    service.RBACPermissionCacheStore = service.NewInMemoryRBACPermissionCacheStore()
		limiter      middleware.Limiter               = middleware.NewLocalFixedWindowLimiter()
	)
	if opts.redis != nil {
		lockoutStore = service.NewRedisLockoutStore(opts.redis, cfg.RedisKeyPrefix+":lockout")
		eventStore = service.NewRedisSecurityEventStore(opts.redis, cfg.RedisKeyPrefix+":events", cfg.SecurityEventCapacity)
		permStore = service.NewRedisRBACPermissionCacheStore(opts.redis, cfg.RedisKeyPrefix+":rbac")
		limiter = middleware.NewRedisFixedWindowLimiter(opts.redis, cfg.RedisKeyPrefix+":rl")
	}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	events := service.NewSecurityEventLogger(eventStore, nil, service.SecurityEventLoggerOptions{
		DedupWindow:      cfg.SecurityEventDedupWindow,
		MonitorThreshold: cfg.SecurityMonitorThreshold,
		MonitorWindow:    cfg.SecurityMonitorWindow,
	}).WithClock(clock.Now)
	lockout := service.NewLockoutTracker(lockoutStore, service.LockoutPolicy{
		Threshold:    cfg.LockoutThreshold,
		LockDuration: cfg.LockoutDuration,
		ResetWindow:  cfg.LockoutResetWindow,
	}).WithClock(clock.Now)
	sessions := service.NewSessionService(sessionRepo, nil, events, cfg.JWTSecret, cfg.SessionTTL).WithClock(clock.Now)
	auth := service.NewAuthService(
		userRepo,
		security.NewPasswordHasher(cfg.BcryptCost),
		lockout,
		events,
		sessions,
		security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret),
		service.AuthServiceOptions{AccessTokenTTL: cfg.AccessTokenTTL, BootstrapAdminEmail: cfg.BootstrapAdminEmail},
	).WithClock(clock.Now)

	var oauth *service.OAuthService
	if cfg.AuthGoogleEnabled && opts.oauthProvider != nil {
		oauth = service.NewOAuthService(opts.oauthProvider, userRepo, events, cfg.BootstrapAdminEmail)
	}

	rbac := service.NewRBACService()
	users := service.NewUserService(userRepo, sessionRepo, rbac)
	resolver := service.NewCachedPermissionResolver(permStore, users, cfg.RBACPermissionCacheTTL)
	users.SetPermissionResolver(resolver)
	projects := service.NewProjectService(repository.NewProjectRepository(db), repository.NewRunRepository(db))

	cookies := security.NewCookiePolicy(false, "", cfg.SessionTTL)
	errs := handler.ErrorWriter{Verbose: false}
	authLimiter := middleware.NewDistributedRateLimiter(limiter, cfg.AuthRateLimitRPM, time.Minute, middleware.FailClosed, "auth")

	checkers := []health.Checker{health.NewDBChecker(db)}
	if opts.redis != nil {
		checkers = append(checkers, health.NewRedisChecker(opts.redis))
	}

	r := router.NewRouter(router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(auth, oauth, cookies, cfg.OAuthStateSecret, errs),
		SessionHandler:     handler.NewSessionHandler(sessions, cookies, errs),
		UserHandler:        handler.NewUserHandler(users, errs),
		AdminHandler:       handler.NewAdminHandler(users, events, errs),
		ProjectHandler:     handler.NewProjectHandler(projects, errs),
		Authenticator:      auth,
		Cookies:            cookies,
		RBACService:        rbac,
		PermissionResolver: resolver,
		CORSOrigins:        cfg.CORSAllowedOrigins,
		AuthRateLimitRPM:   cfg.AuthRateLimitRPM,
		APIRateLimitRPM:    cfg.APIRateLimitRPM,
		AuthRateLimiter:    authLimiter.Middleware(),
		Readiness:          health.NewProbeRunner(time.Second, 0, checkers...),
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &testServer{
		baseURL: srv.URL,
		client:  &http.Client{Jar: jar, Timeout: 10 * time.Second},
		db:      db,
		clock:   clock,
		users:   users,
		events:  events,
		cfg:     cfg,
	}
}

// freshClient returns a client with its own empty cookie jar.
func (s *testServer) freshClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	return doRaw(t, client, method, target, body, headers, nil)
}

func doRaw(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string, cookies []*http.Cookie) (*http.Response, envelope) {
	t.Helper()
	resp, raw := doRawText(t, client, method, target, body, headers, cookies)
	var env envelope
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			t.Fatalf("decode envelope for %s %s: %v body=%s", method, target, err, raw)
		}
	}
	return resp, env
}

func doRawText(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string, cookies []*http.Cookie) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(raw)
}

func doRawTextNoRedirect(t *testing.T, client *http.Client, method, target string) (*http.Response, string) {
	t.Helper()
	clone := *client
	clone.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return doRawText(t, &clone, method, target, nil, nil, nil)
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type loginData struct {
	Token string `json:"token"`
	User  struct {
		ID    uint   `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

func register(t *testing.T, s *testServer, client *http.Client, name, email string) {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, s.baseURL+"/api/v1/auth/register", map[string]string{
		"name": name, "email": email, "password": testPassword, "confirm_password": testPassword,
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register %s: status=%d env=%+v", email, resp.StatusCode, env.Error)
	}
}

func login(t *testing.T, s *testServer, client *http.Client, email, password string) loginData {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, s.baseURL+"/api/v1/auth/login", map[string]string{"email": email, "password": password}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login %s: status=%d env=%+v", email, resp.StatusCode, env.Error)
	}
	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if data.Token == "" {
		t.Fatal("expected access token in login response")
	}
	return data
}
