package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrInvalidConfig wraps rule violations found after every value parsed.
	ErrInvalidConfig = errors.New("validate config")
	// ErrMalformedValue wraps the first environment value that failed to parse.
	ErrMalformedValue = errors.New("parse")
)

var loadCounter = sync.OnceValue(func() metric.Int64Counter {
	c, err := otel.Meter("learning-platform-auth/config").Int64Counter(
		"config.validation.events",
		metric.WithDescription("Configuration loads by profile and outcome"),
	)
	if err != nil {
		return nil
	}
	return c
})

func recordConfigValidationEvent(ctx context.Context, profile, outcome, errorClass string) {
	c := loadCounter()
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass),
	))
}

// normalizeConfigProfile bounds the profile attribute to the known profiles
// so a typo in APP_ENV cannot mint new metric series.
func normalizeConfigProfile(profile string) string {
	switch p := strings.ToLower(strings.TrimSpace(profile)); p {
	case "":
		return "unknown"
	case ProfileDevelopment, ProfileTest, ProfileStaging, ProfileProduction:
		return p
	default:
		return "other"
	}
}

func classifyConfigLoadError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidConfig):
		return "validation"
	case errors.Is(err, ErrMalformedValue):
		return "parse"
	default:
		return "load"
	}
}
