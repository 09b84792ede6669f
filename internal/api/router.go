package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/packcycle/packcycle/internal/app"
	"github.com/packcycle/packcycle/internal/auth"
	"github.com/packcycle/packcycle/internal/cache"
	"github.com/packcycle/packcycle/internal/handlers"
	"github.com/packcycle/packcycle/internal/middleware"
	"github.com/packcycle/packcycle/internal/realtime"
	"github.com/packcycle/packcycle/internal/services"
)

// Services bundles the long-lived service handles the router wires into
// handlers. They are constructed once during bootstrap and shared.
type Services struct {
	Store     cache.Store
	Events    *services.Dispatcher
	Hub       *realtime.Hub
	Timelines *services.TimelineService
	Users     *services.UserService
	Packages  *services.PackageService
	Refresh   *services.RefreshService
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, jwt *auth.JWTService, cfg *app.Config, svcs Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svcs.Timelines == nil || svcs.Users == nil || svcs.Packages == nil || svcs.Refresh == nil {
		return nil, fmt.Errorf("service handles must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(svcs.Store, cfg.Server.RateLimit.MaxRequests, cfg.Server.RateLimit.Window))
	}

	// Health endpoint (public)
	r.GET("/health", handlers.Health(db))

	authHandler, err := handlers.NewAuthHandler(jwt, svcs.Users, cfg.Auth.AdminUsernames)
	if err != nil {
		return nil, err
	}
	r.POST("/api/auth/token", authHandler.Token)

	// WebSocket stream; authenticates via query token inside the handler.
	if svcs.Hub != nil {
		realtimeHandler := handlers.NewRealtimeHandler(svcs.Hub, jwt)
		r.GET("/api/events/ws", realtimeHandler.Stream)
	}

	timelineHandler, err := handlers.NewTimelineHandler(svcs.Timelines, svcs.Packages)
	if err != nil {
		return nil, err
	}
	userHandler, err := handlers.NewUserHandler(svcs.Users)
	if err != nil {
		return nil, err
	}
	packageHandler, err := handlers.NewPackageHandler(svcs.Timelines, svcs.Packages, svcs.Users, svcs.Refresh)
	if err != nil {
		return nil, err
	}

	requireAuth := middleware.Auth(jwt)
	requireAdmin := middleware.RequireAdmin()

	api := r.Group("/api")
	api.Use(requireAuth)

	// Timelines: reading the active timeline is open to every recipient,
	// lifecycle changes are administrative.
	timelines := api.Group("/timelines")
	{
		timelines.GET("/active", timelineHandler.GetActive)
		timelines.POST("/active", requireAdmin, timelineHandler.CreateActive)
		timelines.DELETE("/active", requireAdmin, timelineHandler.DeleteActive)
		timelines.PUT("/active/simulation-date", requireAdmin, timelineHandler.SetSimulationDate)
		timelines.POST("/active/generate", requireAdmin, timelineHandler.Generate)
		timelines.GET("/templates", requireAdmin, timelineHandler.ListTemplates)
		timelines.POST("/templates", requireAdmin, timelineHandler.CreateTemplate)
	}

	// Users
	users := api.Group("/users")
	{
		users.GET("", requireAdmin, userHandler.List)
		users.POST("", requireAdmin, userHandler.Create)
		users.GET("/:id", middleware.RequireSelfOrAdmin("id"), userHandler.Get)
		users.PUT("/:id/priority", requireAdmin, userHandler.SetPriority)
		users.PUT("/:id/active", requireAdmin, userHandler.SetActive)

		// Package history and refresh for one recipient
		users.GET("/:id/packages", middleware.RequireSelfOrAdmin("id"), packageHandler.History)
		users.POST("/:id/packages/refresh", middleware.RequireSelfOrAdmin("id"), packageHandler.Refresh)
		users.PUT("/:id/packages/:period", requireAdmin, packageHandler.UpdateStatus)
		users.POST("/:id/lifecycle/resume", middleware.RequireSelfOrAdmin("id"), packageHandler.Resume)
	}

	// Pickups; ownership is enforced in the handler because the target user
	// arrives in the payload.
	api.POST("/packages/pickup", packageHandler.Pickup)
	api.GET("/packages/pickup/qr", packageHandler.PickupQR)
	api.POST("/lifecycle/background", packageHandler.Background)

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
