// Kept in step with wire.go by hand; `go generate` regenerates it with wire.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package di

import (
	"context"

	"github.com/sandeepkv93/learning-platform-auth/internal/app"
	"github.com/sandeepkv93/learning-platform-auth/internal/config"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/handler"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

// Injectors from wire.go:

func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	logging, err := provideLogging(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger := provideLogger(logging)
	db, err := provideDatabase(cfg)
	if err != nil {
		return nil, err
	}
	universalClient, err := provideRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	stores := provideStores(cfg, universalClient)
	securityEventLogger := provideSecurityEventLogger(cfg, stores, logger)
	sessionRepository := repository.NewSessionRepository(db)
	geoLocator := provideGeoLocator(cfg, stores)
	sessionService := provideSessionService(cfg, sessionRepository, geoLocator, securityEventLogger)
	userRepository := repository.NewUserRepository(db)
	passwordHasher := providePasswordHasher(cfg)
	lockoutTracker := provideLockoutTracker(cfg, stores)
	jwtManager := provideJWTManager(cfg)
	authService := provideAuthService(cfg, userRepository, passwordHasher, lockoutTracker, securityEventLogger, sessionService, jwtManager)
	oAuthService := provideOAuthService(cfg, userRepository, securityEventLogger)
	cookiePolicy := provideCookiePolicy(cfg)
	errorWriter := provideErrorWriter(cfg)
	authHandler := provideAuthHandler(cfg, authService, oAuthService, cookiePolicy, errorWriter)
	sessionHandler := handler.NewSessionHandler(sessionService, cookiePolicy, errorWriter)
	rbacService := service.NewRBACService()
	userService := service.NewUserService(userRepository, sessionRepository, rbacService)
	userHandler := handler.NewUserHandler(userService, errorWriter)
	adminHandler := handler.NewAdminHandler(userService, securityEventLogger, errorWriter)
	projectRepository := repository.NewProjectRepository(db)
	runRepository := repository.NewRunRepository(db)
	projectService := service.NewProjectService(projectRepository, runRepository)
	projectHandler := handler.NewProjectHandler(projectService, errorWriter)
	handlers := Handlers{
		Auth:    authHandler,
		Session: sessionHandler,
		User:    userHandler,
		Admin:   adminHandler,
		Project: projectHandler,
	}
	permissionResolver := providePermissionResolver(cfg, stores, userService)
	access := Access{
		Authenticator: authService,
		Cookies:       cookiePolicy,
		RBAC:          rbacService,
		Resolver:      permissionResolver,
	}
	probeRunner := provideReadiness(db, universalClient)
	dependencies := provideRouterDependencies(cfg, stores, handlers, access, probeRunner)
	server := provideHTTPServer(cfg, dependencies)
	runtime, err := provideObservability(ctx, cfg, logging)
	if err != nil {
		return nil, err
	}
	v := provideBackgroundTasks(cfg, sessionService)
	appApp := provideApp(cfg, logger, server, db, universalClient, runtime, probeRunner, v)
	return appApp, nil
}
