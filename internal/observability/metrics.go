package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "learning-platform-auth"

type AppMetrics struct {
	authLoginCounter       metric.Int64Counter
	authLogoutCounter      metric.Int64Counter
	authRegisterCounter    metric.Int64Counter
	authLockoutCounter     metric.Int64Counter
	securityEventCounter   metric.Int64Counter
	sessionRevokeCounter   metric.Int64Counter
	sessionEnrichCounter   metric.Int64Counter
	geoLookupCounter       metric.Int64Counter
	repositoryOpCounter    metric.Int64Counter
	rateLimitCounter       metric.Int64Counter
	rateLimitRetryAfter    metric.Float64Histogram
	accessTokenCounter     metric.Int64Counter
	rbacPermissionCounter  metric.Int64Counter
	sessionCleanupCounter  metric.Int64Counter
	adminUserMutationCount metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m    AppMetrics
		errs []error
	)
	counter := func(name string) metric.Int64Counter {
		c, err := meter.Int64Counter(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("create counter %s: %w", name, err))
		}
		return c
	}
	m.authLoginCounter = counter("auth.login.attempts")
	m.authLogoutCounter = counter("auth.logout.attempts")
	m.authRegisterCounter = counter("auth.register.attempts")
	m.authLockoutCounter = counter("auth.lockout.events")
	m.securityEventCounter = counter("security.events")
	m.sessionRevokeCounter = counter("session.revocations")
	m.sessionEnrichCounter = counter("session.enrichment")
	m.geoLookupCounter = counter("geo.lookups")
	m.repositoryOpCounter = counter("repository.operations")
	m.rateLimitCounter = counter("http.rate_limit.decisions")
	m.accessTokenCounter = counter("auth.access_token.validations")
	m.rbacPermissionCounter = counter("rbac.permission_cache.events")
	m.sessionCleanupCounter = counter("session.cleanup.deleted")
	m.adminUserMutationCount = counter("admin.user.mutations")
	hist, err := meter.Float64Histogram("http.rate_limit.retry_after", metric.WithUnit("s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("create histogram http.rate_limit.retry_after: %w", err))
	}
	m.rateLimitRetryAfter = hist
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return &m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, provider, status string) {
	if m := current(); m != nil {
		m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		))
	}
}

func RecordAuthLogout(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthRegister(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authRegisterCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthLockout(ctx context.Context, action string) {
	if m := current(); m != nil {
		m.authLockoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

func RecordSecurityEvent(ctx context.Context, eventType, outcome string) {
	if m := current(); m != nil {
		m.securityEventCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", eventType),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordSessionRevocation(ctx context.Context, mode string, count int64) {
	if m := current(); m != nil {
		m.sessionRevokeCounter.Add(ctx, count, metric.WithAttributes(attribute.String("mode", mode)))
	}
}

func RecordSessionEnrichment(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.sessionEnrichCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func RecordSessionCleanup(ctx context.Context, deleted int64) {
	if m := current(); m != nil {
		m.sessionCleanupCounter.Add(ctx, deleted)
	}
}

func RecordGeoLookup(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.geoLookupCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func RecordRepositoryOperation(ctx context.Context, entity, op, outcome string) {
	if m := current(); m != nil {
		m.repositoryOpCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode, keyType string) {
	if m := current(); m != nil {
		m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("outcome", outcome),
			attribute.String("mode", mode),
			attribute.String("key_type", keyType),
		))
	}
}

func RecordRateLimitRetryAfter(ctx context.Context, scope, reason string, retryAfter time.Duration) {
	if m := current(); m != nil {
		m.rateLimitRetryAfter.Record(ctx, retryAfter.Seconds(), metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("reason", reason),
		))
	}
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	if m := current(); m != nil {
		m.accessTokenCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		))
	}
}

func RecordRBACPermissionCacheEvent(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.rbacPermissionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func RecordAdminUserMutation(ctx context.Context, action string) {
	if m := current(); m != nil {
		m.adminUserMutationCount.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}
