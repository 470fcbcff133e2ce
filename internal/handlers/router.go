package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/middleware"
	"github.com/federated-storage/registry/internal/registry"
	"github.com/federated-storage/registry/internal/services"
)

// RouterConfig holds everything the HTTP API is built from. Accounts,
// Content, Feed and RateLimiter are optional.
type RouterConfig struct {
	Registry    *registry.Registry
	Accounts    Accounts
	Content     *services.ContentService
	Feed        *services.EventFeed
	JWT         middleware.JWTConfig
	ServiceKey  string
	RateLimiter *middleware.RateLimiter
	Logger      *zap.Logger
}

// NewRouter builds the gin engine with every API route
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"files":  cfg.Registry.Count(),
			"seq":    cfg.Registry.Seq(),
			"token":  cfg.Registry.TokenRef(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	fileHandler := NewFileHandler(cfg.Registry, cfg.Content)
	engagementHandler := NewEngagementHandler(cfg.Registry)
	rewardHandler := NewRewardHandler(cfg.Registry)
	adminHandler := NewAdminHandler(cfg.Registry)

	jwtAuth := middleware.JWTMiddleware(cfg.JWT.Secret)
	throttle := func(c *gin.Context) { c.Next() }
	if cfg.RateLimiter != nil {
		throttle = cfg.RateLimiter.Middleware()
	}

	api := router.Group("/api/v1")
	{
		// Public reads
		public := api.Group("")
		public.Use(throttle)
		{
			public.GET("/files", fileHandler.List)
			public.GET("/files/:id", fileHandler.Get)
			public.GET("/files/:id/comments", engagementHandler.ListComments)
			public.GET("/accounts/:address/files", fileHandler.ListByUploader)
			public.GET("/accounts/:address/rewards", rewardHandler.Pending)
			public.GET("/content/:ref", fileHandler.Content)
		}

		if cfg.Accounts != nil {
			authHandler := NewAuthHandler(cfg.Accounts, cfg.Registry, cfg.JWT)
			auth := api.Group("/auth")
			auth.Use(throttle)
			{
				auth.POST("/register", authHandler.Register)
				auth.POST("/login", authHandler.Login)
				auth.GET("/profile", jwtAuth, authHandler.Profile)
			}
		}

		if cfg.Feed != nil {
			api.GET("/events/ws", func(c *gin.Context) {
				if err := cfg.Feed.ServeWS(c.Writer, c.Request); err != nil {
					logger.Debug("event stream closed", zap.Error(err))
				}
			})
		}

		// Authenticated writes
		protected := api.Group("")
		protected.Use(jwtAuth, throttle)
		{
			protected.POST("/files", fileHandler.Upload)
			protected.PUT("/files/:id", fileHandler.Update)
			protected.POST("/files/:id/ratings", engagementHandler.Rate)
			protected.POST("/files/:id/comments", engagementHandler.Comment)
			protected.POST("/files/:id/tips", engagementHandler.Tip)
			protected.POST("/rewards/claim", rewardHandler.Claim)

			admin := protected.Group("/admin")
			admin.PUT("/token", adminHandler.SetToken)
			admin.POST("/withdraw", adminHandler.Withdraw)
			admin.PUT("/owner", adminHandler.TransferOwner)
		}

		internal := api.Group("/internal")
		internal.Use(middleware.ServiceKeyMiddleware(cfg.ServiceKey))
		{
			internal.POST("/rewards/accrue", rewardHandler.Accrue)
		}
	}

	return router
}
