package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/clonearena-backend/internal/config"
	"github.com/stemsi/clonearena-backend/internal/handler"
	"github.com/stemsi/clonearena-backend/internal/middleware"
	"github.com/stemsi/clonearena-backend/internal/response"
	"github.com/stemsi/clonearena-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Tab       *handler.TabHandler
	Challenge *handler.ChallengeHandler
	Attempt   *handler.AttemptHandler
	Grade     *handler.GradeHandler
	WS        *handler.WSHandler
	System    *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background goroutines such as the rate limiter sweeper.
func SetupRouter(
	ctx context.Context,
	tabService *service.TabService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.Use(middleware.Brotli())

	// Target design images never change once published.
	images := router.Group("/images")
	images.Use(middleware.CacheControl(31536000))
	{
		images.Static("/", cfg.ImagesDir)
	}

	router.GET("/health", handlers.System.Health)

	// ─── 1. Grading (Public, Rate Limited) ─────────────────────────────
	router.MaxMultipartMemory = 2 * cfg.MaxUploadBytes
	gradeLimiter := middleware.NewRateLimiter(ctx, cfg.GradeRatePerMinute, time.Minute)
	router.POST("/api/grade-result", gradeLimiter.Middleware(), handlers.Grade.GradeResult)

	// ─── 2. Tabs (Public) ──────────────────────────────────────────────
	router.POST("/api/v1/tabs", handlers.Tab.Open)

	// ─── 3. Tab API (Tab Token) ────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireTab(tabService), middleware.NoStore())
	{
		api.GET("/challenges", handlers.Challenge.List)
		api.GET("/challenges/:id", handlers.Challenge.Get)
		api.GET("/challenges/:id/prompt-scores", handlers.Challenge.PromptScore)
		api.POST("/challenges/:id/prompt-scores", handlers.Challenge.AddPromptScore)

		api.POST("/attempt", handlers.Attempt.Start)
		api.GET("/attempt", handlers.Attempt.Get)
		api.DELETE("/attempt", handlers.Attempt.End)
		api.POST("/attempt/screen-share", handlers.Attempt.AcceptScreenShare)
		api.POST("/attempt/decline", handlers.Attempt.Decline)
		api.POST("/attempt/submit", handlers.Attempt.Submit)
		api.POST("/attempt/cancel", handlers.Attempt.Cancel)
		api.POST("/attempt/confirm", handlers.Attempt.Confirm)
		api.GET("/attempt/screenshot", handlers.Attempt.Screenshot)
		api.POST("/attempt/screenshot/save", handlers.Attempt.SaveScreenshot)

		if cfg.MetricsStreamEnabled {
			api.GET("/system/metrics", handlers.System.MetricsSSE)
		}
	}

	// ─── 4. WebSocket Group (Token in Query) ───────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireTab(tabService))
	{
		ws.GET("/events", handlers.WS.EventStream)
	}

	return router
}
