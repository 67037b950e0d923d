package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth   *handler.AuthHandler
	Exam   *handler.ExamHandler
	WS     *handler.WSHandler
	Health *handler.HealthHandler
}

// Deps carries the cross-cutting pieces the routes are wrapped in.
type Deps struct {
	AuthService *service.AuthService
	Limiter     *middleware.RateLimiter
	HTTPMetrics *metrics.HTTP
	Gatherer    prometheus.Gatherer
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(deps Deps, handlers *Handlers, cfg *config.Config) *gin.Engine {
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
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	if deps.HTTPMetrics != nil {
		router.Use(deps.HTTPMetrics.Middleware())
	}

	router.GET("/health", handlers.Health.Health)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	limit := func(c *gin.Context) { c.Next() }
	if deps.Limiter != nil {
		limit = deps.Limiter.Middleware()
	}

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/guest", limit, handlers.Auth.Guest)
		auth.GET("/me", middleware.RequireJWT(deps.AuthService), handlers.Auth.Me)
	}

	// ─── 2. Exam Group (JWT) ───────────────────────────────────────────
	exams := router.Group("/api/v1/exams")
	exams.Use(middleware.RequireJWT(deps.AuthService))
	{
		exams.GET("", handlers.Exam.ListExams)
		exams.POST("", limit, handlers.Exam.StartExam)
		exams.GET("/:exam_id", handlers.Exam.GetExam)
		exams.POST("/:exam_id/answer", limit, handlers.Exam.SaveAnswer)
		exams.POST("/:exam_id/finish", handlers.Exam.FinishExam)
	}

	// ─── 3. WebSocket Group (WS Auth) ──────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(deps.AuthService))
	{
		ws.GET("/exams/:exam_id/stream", handlers.WS.ExamWebSocketStream)
	}

	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	return router
}
