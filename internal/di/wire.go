//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/learning-platform-auth/internal/app"
	"github.com/sandeepkv93/learning-platform-auth/internal/config"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/handler"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/middleware"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

var infraSet = wire.NewSet(
	provideLogging,
	provideLogger,
	provideObservability,
	provideDatabase,
	provideRedis,
	provideStores,
	provideReadiness,
)

var repositorySet = wire.NewSet(
	repository.NewUserRepository,
	repository.NewSessionRepository,
	repository.NewProjectRepository,
	repository.NewRunRepository,
)

var serviceSet = wire.NewSet(
	providePasswordHasher,
	provideJWTManager,
	provideCookiePolicy,
	provideSecurityEventLogger,
	provideLockoutTracker,
	provideGeoLocator,
	provideSessionService,
	provideAuthService,
	provideOAuthService,
	service.NewRBACService,
	service.NewUserService,
	service.NewProjectService,
	providePermissionResolver,
	wire.Bind(new(service.RBACAuthorizer), new(*service.RBACService)),
	wire.Bind(new(middleware.Authenticator), new(*service.AuthService)),
)

var httpSet = wire.NewSet(
	provideErrorWriter,
	provideAuthHandler,
	handler.NewSessionHandler,
	handler.NewUserHandler,
	handler.NewAdminHandler,
	handler.NewProjectHandler,
	wire.Struct(new(Handlers), "*"),
	wire.Struct(new(Access), "*"),
	provideRouterDependencies,
	provideHTTPServer,
	provideBackgroundTasks,
	provideApp,
)

func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	wire.Build(infraSet, repositorySet, serviceSet, httpSet)
	return nil, nil
}
