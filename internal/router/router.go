package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-groupexam/internal/config"
	"github.com/stemsi/exstem-groupexam/internal/handler"
	"github.com/stemsi/exstem-groupexam/internal/middleware"
	"github.com/stemsi/exstem-groupexam/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	GroupTest *handler.GroupTestHandler
	WS        *handler.WSHandler
	Monitor   *handler.MonitorHandler // nil unless monitoring is enabled
}

// SetupRouter configures the local control API.
func SetupRouter(handlers *Handlers, limiter *middleware.RateLimiter, cfg *config.Config) *gin.Engine {
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── Group test controls ───────────────────────────────────────────
	gt := router.Group("/api/v1/group-tests/:id")
	gt.Use(middleware.NoStore())
	if limiter != nil {
		gt.Use(limiter.Middleware())
	}
	{
		gt.POST("/open", handlers.GroupTest.Open)
		gt.GET("/state", handlers.GroupTest.State)
		gt.POST("/start", handlers.GroupTest.Start)
		gt.PUT("/answers", handlers.GroupTest.Answer)
		gt.POST("/next", handlers.GroupTest.Next)
		gt.POST("/prev", handlers.GroupTest.Prev)
		gt.POST("/submit", handlers.GroupTest.Submit)
		gt.POST("/retake", handlers.GroupTest.Retake)
		gt.POST("/retry", handlers.GroupTest.Retry)
		gt.DELETE("", handlers.GroupTest.Close)
	}

	// ─── Proctor monitor (SSE) ─────────────────────────────────────────
	if handlers.Monitor != nil {
		router.GET("/api/v1/group-tests/:id/monitor", handlers.Monitor.MonitorSSE)
	}

	// ─── WebSocket ─────────────────────────────────────────────────────
	router.GET("/ws/v1/group-tests/:id/stream", handlers.WS.Stream)

	return router
}
