package api

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/config"
	"github.com/qs3c/novel_go_server/internal/api/handler"
	"github.com/qs3c/novel_go_server/internal/api/middleware"
)

type Router struct {
	routingHandler   *handler.AIRoutingHandler
	generatorHandler *handler.GeneratorHandler
	asyncHandler     *handler.AsyncAnalysisHandler
	volumeHandler    *handler.VolumeHandler
	websocketHandler *handler.WebSocketHandler
	redis            *redis.Client
	cfg              *config.Config
	log              *zap.Logger
}

func NewRouter(
	routingHandler *handler.AIRoutingHandler,
	generatorHandler *handler.GeneratorHandler,
	asyncHandler *handler.AsyncAnalysisHandler,
	volumeHandler *handler.VolumeHandler,
	websocketHandler *handler.WebSocketHandler,
	redisClient *redis.Client,
	cfg *config.Config,
	log *zap.Logger,
) *Router {
	return &Router{
		routingHandler:   routingHandler,
		generatorHandler: generatorHandler,
		asyncHandler:     asyncHandler,
		volumeHandler:    volumeHandler,
		websocketHandler: websocketHandler,
		redis:            redisClient,
		cfg:              cfg,
		log:              log,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	api.Use(middleware.RateLimit(r.redis, r.cfg.RateLimit.RequestsPerMinute, r.log))
	{
		// WebSocket 使用 query 中的 token 认证
		api.GET("/ws", r.websocketHandler.Handle)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))

		routing := authenticated.Group("/ai-routing")
		{
			routing.GET("/providers", r.routingHandler.ListProviders)
			routing.POST("/providers", r.routingHandler.CreateProvider)
			routing.PUT("/providers/:id", r.routingHandler.UpdateProvider)
			routing.DELETE("/providers/:id", r.routingHandler.DeleteProvider)
			routing.GET("/routes", r.routingHandler.ListRoutes)
			routing.GET("/routes/:function_type", r.routingHandler.GetRoute)
			routing.PATCH("/routes/:function_type", r.routingHandler.UpdateRoute)
			routing.GET("/routes/:function_type/history", r.routingHandler.RouteHistory)
			routing.GET("/logs", r.routingHandler.ListLogs)
			routing.GET("/stats", r.routingHandler.Stats)
			routing.GET("/health", r.routingHandler.Health)
		}

		generator := authenticated.Group("/auto-generator")
		{
			generator.POST("/jobs", r.generatorHandler.Create)
			generator.GET("/jobs/:id", r.generatorHandler.Get)
			generator.POST("/jobs/:id/start", r.generatorHandler.Start)
			generator.POST("/jobs/:id/pause", r.generatorHandler.Pause)
			generator.POST("/jobs/:id/stop", r.generatorHandler.Stop)
			generator.GET("/jobs/:id/logs", r.generatorHandler.Logs)
			generator.GET("/projects/:project_id/jobs", r.generatorHandler.ListByProject)
		}

		async := authenticated.Group("/async-analysis")
		{
			async.GET("/status", r.asyncHandler.Status)
			async.GET("/tasks", r.asyncHandler.ListTasks)
			async.GET("/tasks/:id", r.asyncHandler.GetTask)
			async.POST("/tasks/:id/cancel", r.asyncHandler.Cancel)
			async.POST("/tasks/:id/retry", r.asyncHandler.Retry)
			async.GET("/chapters/:chapter_id/latest", r.asyncHandler.LatestForChapter)
			async.GET("/notifications", r.asyncHandler.ListNotifications)
			async.POST("/notifications/read-all", r.asyncHandler.MarkAllRead)
			async.POST("/notifications/:id/read", r.asyncHandler.MarkRead)
		}

		projects := authenticated.Group("/projects/:project_id")
		{
			projects.GET("/story-metrics", r.volumeHandler.StoryMetrics)
			projects.GET("/volumes", r.volumeHandler.ListVolumes)
			projects.POST("/auto-split", r.volumeHandler.AutoSplit)
			projects.GET("/split-config", r.volumeHandler.GetSplitConfig)
			projects.PUT("/split-config", r.volumeHandler.UpdateSplitConfig)
		}
	}

	return engine
}
