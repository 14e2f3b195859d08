package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/infra/oauth"
	"github.com/taskplane/identity-service/internal/infra/security"
	"github.com/taskplane/identity-service/internal/transport/http/handlers"
	"github.com/taskplane/identity-service/internal/transport/http/middleware"
	"github.com/taskplane/identity-service/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth         *usecase.AuthService
	Registration *usecase.RegistrationService
	Passwords    *usecase.PasswordService
	TwoFactor    *usecase.TwoFactorService
	Identities   *usecase.ExternalIdentityService
	Accounts     *usecase.AccountService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config        *config.AppConfig
	Logger        *zap.Logger
	RateLimiter   *middleware.RateLimiter
	Metrics       *middleware.HTTPMetrics
	Services      ServiceSet
	JWTManager    *security.JWTManager
	OAuthVerifier *oauth.Verifier
	Database      DatabaseChecker
	Cache         CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	if len(deps.Config.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}

	authGuard := middleware.RequireAuth(deps.Services.Auth)

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jwksHandler := handlers.NewJWKSHandler(deps.JWTManager)
	r.GET("/.well-known/jwks.json", jwksHandler.Keys)

	cookie := deps.Config.Cookie

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Auth, cookie)
		authHandler.RegisterRoutes(authGroup,
			rateLimitRule(deps, "auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts),
			rateLimitRule(deps, "auth_refresh_ip", deps.Config.RateLimit.RefreshMaxAttempts),
		)

		registrationHandler := handlers.NewRegistrationHandler(deps.Services.Registration, cookie)
		registrationHandler.RegisterRoutes(authGroup, rateLimitRule(deps, "auth_register_ip", deps.Config.RateLimit.RegisterMaxAttempts)...)

		passwordHandler := handlers.NewPasswordHandler(deps.Services.Passwords, cookie)
		resetMiddlewares := rateLimitRule(deps, "password_reset_ip", deps.Config.RateLimit.PasswordResetMaxAttempts)

		forgotChain := append([]gin.HandlerFunc{}, resetMiddlewares...)
		forgotChain = append(forgotChain, passwordHandler.ForgotPassword)
		authGroup.POST("/forgot-password", forgotChain...)

		resetChain := append([]gin.HandlerFunc{}, resetMiddlewares...)
		resetChain = append(resetChain, passwordHandler.ResetPassword)
		authGroup.POST("/reset-password", resetChain...)

		if deps.Services.TwoFactor != nil {
			twoFactorHandler := handlers.NewTwoFactorHandler(deps.Services.TwoFactor, cookie)

			// Codes are brute-forceable; the verify endpoint gets the same
			// per-IP budget as login.
			verifyChain := append([]gin.HandlerFunc{}, rateLimitRule(deps, "auth_2fa_verify_ip", deps.Config.RateLimit.LoginMaxAttempts)...)
			verifyChain = append(verifyChain, twoFactorHandler.VerifyLogin)
			authGroup.POST("/2fa/verify", verifyChain...)

			accountTwoFactor := api.Group("/account/2fa")
			accountTwoFactor.Use(authGuard)
			accountTwoFactor.POST("/enroll", twoFactorHandler.Enroll)
			accountTwoFactor.POST("/confirm", twoFactorHandler.ConfirmSetup)
			accountTwoFactor.DELETE("", twoFactorHandler.Disable)
		}

		if deps.Services.Identities != nil {
			oauthHandler := handlers.NewOAuthHandler(deps.Services.Identities, deps.OAuthVerifier, cookie)
			authGroup.GET("/oauth/authorize", oauthHandler.Authorize)
			authGroup.POST("/oauth/callback", oauthHandler.Callback)
			authGroup.GET("/oauth/callback", oauthHandler.Callback)
		}

		accountGroup := api.Group("/account")
		accountGroup.Use(authGuard)
		accountHandler := handlers.NewAccountHandler(deps.Services.Accounts)
		accountGroup.GET("/me", accountHandler.Me)
		accountGroup.PATCH("/me", accountHandler.Update)
		accountGroup.PUT("/password", passwordHandler.ChangePassword)

		accountsGroup := api.Group("/accounts")
		accountsGroup.Use(authGuard)
		accountsGroup.GET("/:id", accountHandler.Get)
		accountsGroup.PATCH("/:id", accountHandler.Update)
	}

	return r
}

func rateLimitRule(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
