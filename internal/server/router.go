package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fleetwarden/internal/activity"
	"fleetwarden/internal/auth"
	"fleetwarden/internal/dispatch"
	"fleetwarden/internal/handler"
	"fleetwarden/internal/hub"
	"fleetwarden/internal/middleware"
	"fleetwarden/internal/ratelimit"
	"fleetwarden/internal/registry"
	"fleetwarden/internal/stats"
	"fleetwarden/internal/warmup"
)

type Deps struct {
	Registry    *registry.Registry
	Warmup      *warmup.Scheduler
	Detector    *ratelimit.Detector
	Dispatcher  *dispatch.Dispatcher
	Activity    activity.Store
	Stats       *stats.Service
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
	Logger      zerolog.Logger
	Version     string
	// BroadcastLimiter bounds broadcast creation per client. Nil uses 30 per minute.
	BroadcastLimiter *middleware.RateLimiter
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	versionHandler := &handler.VersionHandler{Version: deps.Version}
	r.GET("/version", versionHandler.Check)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))

	accountHandler := &handler.AccountHandler{
		Registry: deps.Registry,
		Warmup:   deps.Warmup,
		Detector: deps.Detector,
		Activity: deps.Activity,
	}
	protected.POST("/accounts", accountHandler.Create)
	protected.GET("/accounts", accountHandler.List)
	protected.GET("/accounts/:id", accountHandler.Get)
	protected.PATCH("/accounts/:id", accountHandler.Update)
	protected.DELETE("/accounts/:id", accountHandler.Delete)
	protected.POST("/accounts/:id/ban", accountHandler.Ban)
	protected.GET("/accounts/:id/activity", accountHandler.ListActivity)

	warmupHandler := &handler.WarmupHandler{Scheduler: deps.Warmup}
	protected.GET("/warmup/queues", warmupHandler.Queues)
	protected.POST("/warmup/move", warmupHandler.Move)
	protected.GET("/warmup/manual-config", warmupHandler.GetManualConfig)
	protected.PUT("/warmup/manual-config", warmupHandler.PutManualConfig)
	protected.GET("/warmup/suggestions", warmupHandler.Suggestions)

	limiter := deps.BroadcastLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(30, time.Minute)
	}
	broadcastHandler := &handler.BroadcastHandler{Dispatcher: deps.Dispatcher}
	protected.POST("/broadcasts", middleware.RateLimitMiddleware(limiter), broadcastHandler.Create)
	protected.GET("/broadcasts", broadcastHandler.List)
	protected.GET("/broadcasts/:id", broadcastHandler.Get)
	protected.POST("/broadcasts/:id/cancel", broadcastHandler.Cancel)

	statsHandler := &handler.StatsHandler{Stats: deps.Stats}
	protected.GET("/stats", statsHandler.Summary)

	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub, Dispatcher: deps.Dispatcher, TokenConfig: deps.TokenConfig}
	r.GET("/ws", wsHandler.Serve)

	return r
}
