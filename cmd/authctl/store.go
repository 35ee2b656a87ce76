package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/learning-platform-auth/internal/config"
	"github.com/sandeepkv93/learning-platform-auth/internal/database"
	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

// withDB loads config, opens the database and runs fn against it.
func withDB(fn func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error)) func(ctx context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		db, err := database.Open(cfg)
		if err != nil {
			return nil, err
		}
		defer func() { _ = database.Close(db) }()
		return fn(ctx, cfg, db)
	}
}

func redisClient(cfg *config.Config) (redis.UniversalClient, error) {
	if !cfg.RedisEnabled {
		return nil, errors.New("REDIS_ENABLED=false: security events and permission caches live in the API process")
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}), nil
}

func newSessionsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Session maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessions cleanup", withDB(func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error) {
				sessions := service.NewSessionService(repository.NewSessionRepository(db), nil, nil, cfg.JWTSecret, cfg.SessionTTL)
				n, err := sessions.CleanupExpired(ctx)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("deleted=%d", n)}, nil
			}))
		},
	})
	return cmd
}

func newUsersCommand(opts *rootOptions) *cobra.Command {
	var email, role string
	promote := &cobra.Command{
		Use:   "promote",
		Short: "Set a user's role by email",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, ok := domain.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			return execute(opts, "users promote", withDB(func(ctx context.Context, cfg *config.Config, db *gorm.DB) ([]string, error) {
				users := service.NewUserService(repository.NewUserRepository(db), repository.NewSessionRepository(db), service.NewRBACService())
				details := []string{}
				if client, err := redisClient(cfg); err == nil {
					defer client.Close()
					users.SetPermissionResolver(service.NewCachedPermissionResolver(
						service.NewRedisRBACPermissionCacheStore(client, cfg.RedisKeyPrefix+":rbac"), users, cfg.RBACPermissionCacheTTL))
					details = append(details, "permission cache invalidated")
				}
				view, err := users.SetRoleByEmail(ctx, domain.NormalizeEmail(email), parsed)
				if err != nil {
					return nil, err
				}
				return append([]string{fmt.Sprintf("user=%d email=%s role=%s", view.ID, view.Email, view.Role)}, details...), nil
			}))
		},
	}
	promote.Flags().StringVar(&email, "email", "", "account email")
	promote.Flags().StringVar(&role, "role", string(domain.RoleAdmin), "student, teacher, researcher or admin")
	_ = promote.MarkFlagRequired("email")

	cmd := &cobra.Command{Use: "users", Short: "User administration"}
	cmd.AddCommand(promote)
	return cmd
}

func newEventsCommand(opts *rootOptions) *cobra.Command {
	var limit int
	var eventType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent security events from the shared store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "events tail", func(ctx context.Context) ([]string, error) {
				cfg, err := config.Load()
				if err != nil {
					return nil, err
				}
				client, err := redisClient(cfg)
				if err != nil {
					return nil, err
				}
				defer client.Close()
				store := service.NewRedisSecurityEventStore(client, cfg.RedisKeyPrefix+":events", cfg.SecurityEventCapacity)
				events := service.NewSecurityEventLogger(store, nil, service.SecurityEventLoggerOptions{})
				var list []domain.SecurityEvent
				if eventType != "" {
					list, err = events.ByType(ctx, domain.SecurityEventType(eventType), limit)
				} else {
					list, err = events.Recent(ctx, limit)
				}
				if err != nil {
					return nil, err
				}
				details := make([]string, 0, len(list))
				for _, ev := range list {
					details = append(details, formatEvent(ev))
				}
				return details, nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "number of events to read")
	tail.Flags().StringVar(&eventType, "type", "", "only show events of this type")

	cmd := &cobra.Command{Use: "events", Short: "Security event inspection"}
	cmd.AddCommand(tail)
	return cmd
}

func formatEvent(ev domain.SecurityEvent) string {
	parts := []string{ev.Timestamp.UTC().Format(time.RFC3339), string(ev.Type)}
	if ev.Email != "" {
		parts = append(parts, "email="+ev.Email)
	}
	if ev.UserID != 0 {
		parts = append(parts, fmt.Sprintf("user=%d", ev.UserID))
	}
	if ev.IP != "" {
		parts = append(parts, "ip="+ev.IP)
	}
	return strings.Join(parts, " ")
}
