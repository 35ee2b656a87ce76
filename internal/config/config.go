package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProfileDevelopment = "development"
	ProfileTest        = "test"
	ProfileStaging     = "staging"
	ProfileProduction  = "production"

	devJWTSecret = "dev-only-jwt-secret-change-me-0123456789"
)

type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	DatabaseDriver string
	DatabaseURL    string

	RedisEnabled   bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	JWTIssuer      string
	JWTAudience    string
	JWTSecret      string
	AccessTokenTTL time.Duration
	SessionTTL     time.Duration
	BcryptCost     int

	LockoutThreshold         int
	LockoutDuration          time.Duration
	LockoutResetWindow       time.Duration
	SecurityEventCapacity    int
	SecurityEventDedupWindow time.Duration
	SecurityMonitorThreshold int
	SecurityMonitorWindow    time.Duration

	CookieSecure       bool
	CookieDomain       string
	CORSAllowedOrigins []string
	AuthRateLimitRPM   int
	APIRateLimitRPM    int
	UserRateLimitRPM   int

	GeoEnabled   bool
	GeoLookupURL string
	GeoTimeout   time.Duration
	GeoCacheTTL  time.Duration
	GeoCacheSize int
	GeoMissTTL   time.Duration

	AuthGoogleEnabled  bool
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	OAuthStateSecret   string

	BootstrapAdminEmail    string
	RBACPermissionCacheTTL time.Duration
	SessionCleanupInterval time.Duration

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
}

func Load() (*Config, error) {
	profile := os.Getenv("APP_ENV")
	cfg, err := load()
	if err != nil {
		recordConfigValidationEvent(context.Background(), profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.Env, "success", "none")
	return cfg, nil
}

func load() (*Config, error) {
	e := &envReader{}
	cfg := &Config{
		Env:      strings.ToLower(e.str("APP_ENV", ProfileDevelopment)),
		HTTPAddr: e.str("HTTP_ADDR", ":8080"),
		LogLevel: e.str("LOG_LEVEL", "info"),

		DatabaseDriver: strings.ToLower(e.str("DATABASE_DRIVER", "sqlite")),
		DatabaseURL:    e.str("DATABASE_URL", ""),

		RedisEnabled:   e.boolean("REDIS_ENABLED", false),
		RedisAddr:      e.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  e.str("REDIS_PASSWORD", ""),
		RedisDB:        e.integer("REDIS_DB", 0),
		RedisKeyPrefix: e.str("REDIS_KEY_PREFIX", "lpauth"),

		JWTIssuer:      e.str("JWT_ISSUER", "learning-platform-auth"),
		JWTAudience:    e.str("JWT_AUDIENCE", "learning-platform"),
		JWTSecret:      e.str("JWT_SECRET", ""),
		AccessTokenTTL: e.duration("ACCESS_TOKEN_TTL", 15*time.Minute),
		SessionTTL:     e.duration("SESSION_TTL", 30*24*time.Hour),
		BcryptCost:     e.integer("BCRYPT_COST", 12),

		LockoutThreshold:         e.integer("LOCKOUT_THRESHOLD", 5),
		LockoutDuration:          e.duration("LOCKOUT_DURATION", 15*time.Minute),
		LockoutResetWindow:       e.duration("LOCKOUT_RESET_WINDOW", time.Hour),
		SecurityEventCapacity:    e.integer("SECURITY_EVENT_CAPACITY", 1000),
		SecurityEventDedupWindow: e.duration("SECURITY_EVENT_DEDUP_WINDOW", time.Second),
		SecurityMonitorThreshold: e.integer("SECURITY_MONITOR_THRESHOLD", 3),
		SecurityMonitorWindow:    e.duration("SECURITY_MONITOR_WINDOW", 15*time.Minute),

		CookieSecure:       e.boolean("COOKIE_SECURE", false),
		CookieDomain:       e.str("COOKIE_DOMAIN", ""),
		CORSAllowedOrigins: e.list("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		AuthRateLimitRPM:   e.integer("AUTH_RATE_LIMIT_RPM", 30),
		APIRateLimitRPM:    e.integer("API_RATE_LIMIT_RPM", 600),
		UserRateLimitRPM:   e.integer("USER_RATE_LIMIT_RPM", 300),

		GeoEnabled:   e.boolean("GEO_ENABLED", false),
		GeoLookupURL: e.str("GEO_LOOKUP_URL", "https://ipapi.co/%s/json/"),
		GeoTimeout:   e.duration("GEO_TIMEOUT", 2*time.Second),
		GeoCacheTTL:  e.duration("GEO_CACHE_TTL", 6*time.Hour),
		GeoCacheSize: e.integer("GEO_CACHE_SIZE", 4096),
		GeoMissTTL:   e.duration("GEO_MISS_TTL", 10*time.Minute),

		AuthGoogleEnabled:  e.boolean("AUTH_GOOGLE_ENABLED", false),
		GoogleClientID:     e.str("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: e.str("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  e.str("GOOGLE_REDIRECT_URL", ""),
		OAuthStateSecret:   e.str("OAUTH_STATE_SECRET", ""),

		BootstrapAdminEmail:    strings.ToLower(strings.TrimSpace(e.str("BOOTSTRAP_ADMIN_EMAIL", ""))),
		RBACPermissionCacheTTL: e.duration("RBAC_PERMISSION_CACHE_TTL", 5*time.Minute),
		SessionCleanupInterval: e.duration("SESSION_CLEANUP_INTERVAL", 10*time.Minute),

		ShutdownTimeout:              e.duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		ShutdownHTTPDrainTimeout:     e.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: e.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),

		OTELServiceName:           e.str("OTEL_SERVICE_NAME", "learning-platform-auth"),
		OTELEnvironment:           e.str("OTEL_ENVIRONMENT", ""),
		OTELExporterOTLPEndpoint:  e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  e.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        e.boolean("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        e.boolean("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           e.boolean("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: e.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
		OTELTraceSamplingRatio:    e.float("OTEL_TRACE_SAMPLING_RATIO", 1.0),
	}
	if e.err != nil {
		return nil, e.err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OTELEnvironment == "" {
		c.OTELEnvironment = c.Env
	}
	if c.DatabaseURL == "" && c.DatabaseDriver == "sqlite" {
		c.DatabaseURL = "file:learning-platform-auth.db?_foreign_keys=on"
	}
	if c.JWTSecret == "" && c.IsDevelopment() {
		c.JWTSecret = devJWTSecret
	}
	if c.OAuthStateSecret == "" {
		c.OAuthStateSecret = c.JWTSecret
	}
}

// IsDevelopment reports whether verbose error output and relaxed secrets are allowed.
func (c *Config) IsDevelopment() bool {
	return c.Env == ProfileDevelopment || c.Env == ProfileTest
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Env {
	case ProfileDevelopment, ProfileTest, ProfileStaging, ProfileProduction:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV %q is not a known profile", c.Env))
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.AccessTokenTTL <= 0 || c.SessionTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL and SESSION_TTL must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST %d out of range", c.BcryptCost))
	}
	if c.Env == ProfileProduction && c.BcryptCost < 12 {
		errs = append(errs, errors.New("BCRYPT_COST must be at least 12 in production"))
	}
	if c.LockoutThreshold <= 0 || c.LockoutDuration <= 0 || c.LockoutResetWindow <= 0 {
		errs = append(errs, errors.New("lockout threshold, duration and reset window must be positive"))
	}
	if c.SecurityEventCapacity <= 0 {
		errs = append(errs, errors.New("SECURITY_EVENT_CAPACITY must be positive"))
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when REDIS_ENABLED=true"))
	}
	if c.GeoEnabled && !strings.Contains(c.GeoLookupURL, "%s") {
		errs = append(errs, errors.New("GEO_LOOKUP_URL must contain a %s placeholder for the ip"))
	}
	if c.AuthGoogleEnabled {
		if c.GoogleClientID == "" || c.GoogleClientSecret == "" || c.GoogleRedirectURL == "" {
			errs = append(errs, errors.New("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL are required when AUTH_GOOGLE_ENABLED=true"))
		}
		if len(c.OAuthStateSecret) < 32 {
			errs = append(errs, errors.New("OAUTH_STATE_SECRET must be at least 32 bytes"))
		}
	}
	if c.Env == ProfileProduction && !c.CookieSecure {
		errs = append(errs, errors.New("COOKIE_SECURE must be true in production"))
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"))
	}
	return errors.Join(errs...)
}

type envReader struct {
	err error
}

func (e *envReader) str(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func (e *envReader) boolean(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return v
}

func (e *envReader) integer(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return v
}

func (e *envReader) float(key string, def float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return v
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return v
}

func (e *envReader) list(key string, def []string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w %s: %w", ErrMalformedValue, key, err)
	}
}
