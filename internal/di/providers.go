package di

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/sandeepkv93/learning-platform-auth/internal/app"
	"github.com/sandeepkv93/learning-platform-auth/internal/config"
	"github.com/sandeepkv93/learning-platform-auth/internal/database"
	"github.com/sandeepkv93/learning-platform-auth/internal/health"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/handler"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/middleware"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/router"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

// Handlers and Access are filled field by field by the injector.
type Handlers struct {
	Auth    *handler.AuthHandler
	Session *handler.SessionHandler
	User    *handler.UserHandler
	Admin   *handler.AdminHandler
	Project *handler.ProjectHandler
}

type Access struct {
	Authenticator middleware.Authenticator
	Cookies       security.CookiePolicy
	RBAC          service.RBACAuthorizer
	Resolver      service.PermissionResolver
}

type Logging struct {
	Logger   *slog.Logger
	Provider *sdklog.LoggerProvider
}

// Stores groups the state backends that switch between process memory and
// Redis on REDIS_ENABLED.
type Stores struct {
	Lockout     service.LockoutStore
	Events      service.SecurityEventStore
	Permissions service.RBACPermissionCacheStore
	GeoMisses   service.GeoMissCache
	Limiter     middleware.Limiter
}

func provideLogging(ctx context.Context, cfg *config.Config) (Logging, error) {
	logger, lp, err := observability.InitLogging(ctx, cfg, os.Stdout)
	if err != nil {
		return Logging{}, err
	}
	slog.SetDefault(logger)
	return Logging{Logger: logger, Provider: lp}, nil
}

func provideLogger(l Logging) *slog.Logger { return l.Logger }

func provideObservability(ctx context.Context, cfg *config.Config, l Logging) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, l.Logger, l.Provider)
}

func provideDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return db, nil
}

func provideRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	if !cfg.RedisEnabled {
		return nil, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func provideStores(cfg *config.Config, client redis.UniversalClient) Stores {
	if client == nil {
		return Stores{
			Lockout:     service.NewInMemoryLockoutStore(),
			Events:      service.NewInMemorySecurityEventStore(cfg.SecurityEventCapacity),
			Permissions: service.NewInMemoryRBACPermissionCacheStore(),
			GeoMisses:   service.NewInMemoryGeoMissCache(),
			Limiter:     middleware.NewLocalFixedWindowLimiter(),
		}
	}
	prefix := cfg.RedisKeyPrefix
	return Stores{
		Lockout:     service.NewRedisLockoutStore(client, prefix+":lockout"),
		Events:      service.NewRedisSecurityEventStore(client, prefix+":events", cfg.SecurityEventCapacity),
		Permissions: service.NewRedisRBACPermissionCacheStore(client, prefix+":rbac"),
		GeoMisses:   service.NewRedisGeoMissCache(client, prefix+":geo_miss"),
		Limiter:     middleware.NewRedisFixedWindowLimiter(client, prefix+":rl"),
	}
}

func providePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(cfg.BcryptCost)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)
}

func provideCookiePolicy(cfg *config.Config) security.CookiePolicy {
	return security.NewCookiePolicy(cfg.CookieSecure, cfg.CookieDomain, cfg.SessionTTL)
}

func provideSecurityEventLogger(cfg *config.Config, stores Stores, logger *slog.Logger) *service.SecurityEventLogger {
	return service.NewSecurityEventLogger(stores.Events, logger, service.SecurityEventLoggerOptions{
		DedupWindow:      cfg.SecurityEventDedupWindow,
		MonitorThreshold: cfg.SecurityMonitorThreshold,
		MonitorWindow:    cfg.SecurityMonitorWindow,
	})
}

func provideLockoutTracker(cfg *config.Config, stores Stores) *service.LockoutTracker {
	return service.NewLockoutTracker(stores.Lockout, service.LockoutPolicy{
		Threshold:    cfg.LockoutThreshold,
		LockDuration: cfg.LockoutDuration,
		ResetWindow:  cfg.LockoutResetWindow,
	})
}

func provideGeoLocator(cfg *config.Config, stores Stores) service.GeoLocator {
	if !cfg.GeoEnabled {
		return service.NewNoopGeoLocator()
	}
	return service.NewHTTPGeoLocator(service.HTTPGeoLocatorOptions{
		URLTemplate: cfg.GeoLookupURL,
		Timeout:     cfg.GeoTimeout,
		CacheSize:   cfg.GeoCacheSize,
		CacheTTL:    cfg.GeoCacheTTL,
		MissTTL:     cfg.GeoMissTTL,
	}, stores.GeoMisses)
}

func provideSessionService(cfg *config.Config, repo repository.SessionRepository, geo service.GeoLocator, events *service.SecurityEventLogger) *service.SessionService {
	return service.NewSessionService(repo, geo, events, cfg.JWTSecret, cfg.SessionTTL)
}

func provideAuthService(
	cfg *config.Config,
	users repository.UserRepository,
	hasher *security.PasswordHasher,
	lockout *service.LockoutTracker,
	events *service.SecurityEventLogger,
	sessions *service.SessionService,
	jwt *security.JWTManager,
) *service.AuthService {
	return service.NewAuthService(users, hasher, lockout, events, sessions, jwt, service.AuthServiceOptions{
		AccessTokenTTL:      cfg.AccessTokenTTL,
		BootstrapAdminEmail: cfg.BootstrapAdminEmail,
	})
}

func provideOAuthService(cfg *config.Config, users repository.UserRepository, events *service.SecurityEventLogger) *service.OAuthService {
	if !cfg.AuthGoogleEnabled {
		return nil
	}
	provider := service.NewGoogleOAuthProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	return service.NewOAuthService(provider, users, events, cfg.BootstrapAdminEmail)
}

// providePermissionResolver also registers the resolver with the user service
// so role changes invalidate cached permissions.
func providePermissionResolver(cfg *config.Config, stores Stores, users *service.UserService) service.PermissionResolver {
	resolver := service.NewCachedPermissionResolver(stores.Permissions, users, cfg.RBACPermissionCacheTTL)
	users.SetPermissionResolver(resolver)
	return resolver
}

func provideErrorWriter(cfg *config.Config) handler.ErrorWriter {
	return handler.ErrorWriter{Verbose: cfg.IsDevelopment()}
}

func provideAuthHandler(cfg *config.Config, auth *service.AuthService, oauth *service.OAuthService, cookies security.CookiePolicy, errs handler.ErrorWriter) *handler.AuthHandler {
	return handler.NewAuthHandler(auth, oauth, cookies, cfg.OAuthStateSecret, errs)
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.NewRedisChecker(client))
	}
	return health.NewProbeRunner(2*time.Second, time.Second, checkers...)
}

func provideRouterDependencies(cfg *config.Config, stores Stores, handlers Handlers, access Access, readiness *health.ProbeRunner) router.Dependencies {
	mode := middleware.FailOpen
	if cfg.Env == config.ProfileProduction {
		mode = middleware.FailClosed
	}
	global := middleware.NewDistributedRateLimiter(stores.Limiter, cfg.APIRateLimitRPM, time.Minute, mode, "api")
	user := middleware.NewDistributedRateLimiterWithKey(stores.Limiter, cfg.UserRateLimitRPM, time.Minute, mode, "user", middleware.SubjectOrIPKey)
	auth := middleware.NewDistributedRateLimiter(stores.Limiter, cfg.AuthRateLimitRPM, time.Minute, middleware.FailClosed, "auth")
	return router.Dependencies{
		AuthHandler:        handlers.Auth,
		SessionHandler:     handlers.Session,
		UserHandler:        handlers.User,
		AdminHandler:       handlers.Admin,
		ProjectHandler:     handlers.Project,
		Authenticator:      access.Authenticator,
		Cookies:            access.Cookies,
		RBACService:        access.RBAC,
		PermissionResolver: access.Resolver,
		CORSOrigins:        cfg.CORSAllowedOrigins,
		AuthRateLimitRPM:   cfg.AuthRateLimitRPM,
		APIRateLimitRPM:    cfg.APIRateLimitRPM,
		UserRateLimitRPM:   cfg.UserRateLimitRPM,
		GlobalRateLimiter:  global.Middleware(),
		AuthRateLimiter:    auth.Middleware(),
		UserRateLimiter:    user.Middleware(),
		Readiness:          readiness,
		EnableOTelHTTP:     cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, dep router.Dependencies) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(dep),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideBackgroundTasks(cfg *config.Config, sessions *service.SessionService) []app.BackgroundTask {
	return []app.BackgroundTask{
		func(ctx context.Context) error { return sessions.RunCleanup(ctx, cfg.SessionCleanupInterval) },
	}
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	db *gorm.DB,
	client redis.UniversalClient,
	runtime *observability.Runtime,
	readiness *health.ProbeRunner,
	tasks []app.BackgroundTask,
) *app.App {
	return app.New(cfg, logger, server, db, client, runtime, readiness, tasks...)
}
