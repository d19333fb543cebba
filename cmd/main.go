package main

import (
	"crm-auth-service/internal/handler"
	"crm-auth-service/internal/middleware"
	"crm-auth-service/internal/model"
	"crm-auth-service/pkg/config"
	"crm-auth-service/pkg/database"
	"crm-auth-service/pkg/jwtutil"
	"crm-auth-service/pkg/logger"
	"crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting CRM authentication service...", cfg.LogConfig()...)

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Seed the live-token gauge from the store so it survives restarts
	if active, err := model.CountActiveRefreshTokens(database.GetDB()); err == nil {
		prometheus.SetActiveRefreshTokens(active)
	}

	// Initialize JWT utility and session handlers
	jwtutil.Initialize(&cfg.JWT)
	handler.InitAuthHandler(cfg)
	log.Info("Token issuer initialized")

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// Session lifecycle - these don't belong under the authenticated group
	// since they're for getting access in the first place
	auth := e.Group("/auth")
	auth.POST("/register", handler.Register)
	auth.POST("/login", handler.Login)
	auth.POST("/refresh", handler.Refresh)
	auth.POST("/logout", handler.Logout)

	// Authenticated routes
	authed := e.Group("")
	authed.Use(middleware.AuthMiddleware)
	authed.GET("/auth/me", handler.Me)
	authed.POST("/auth/tokens/cleanup", handler.CleanupRefreshTokens)

	// Tenant management - membership listing and creation don't require an
	// existing tenant context
	tenants := authed.Group("/tenants")
	tenants.GET("", handler.ListUserTenants)
	tenants.POST("", handler.CreateTenant)
	tenants.POST("/switch", handler.SwitchTenant)

	// Member management requires a tenant-bound token
	tenantScoped := authed.Group("/tenants", middleware.RequireTenantContext)
	tenantScoped.POST("/:id/invite", handler.InviteUser)

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
