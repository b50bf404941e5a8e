package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/config"
	"github.com/qs3c/novel_go_server/internal/api"
	"github.com/qs3c/novel_go_server/internal/api/handler"
	"github.com/qs3c/novel_go_server/internal/database"
	"github.com/qs3c/novel_go_server/internal/orchestrator"
	"github.com/qs3c/novel_go_server/internal/pkg/cron"
	"github.com/qs3c/novel_go_server/internal/pkg/llm"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/pkg/pubsub"
	"github.com/qs3c/novel_go_server/internal/pkg/queue"
	"github.com/qs3c/novel_go_server/internal/pkg/ws"
	"github.com/qs3c/novel_go_server/internal/repository"
	"github.com/qs3c/novel_go_server/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog := logger.MustNew("server", cfg.Log)
	defer zlog.Sync() //nolint:errcheck

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		zlog.Fatal("failed to connect database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		zlog.Fatal("failed to migrate database", zap.Error(err))
	}
	if err := orchestrator.Seed(db); err != nil {
		zlog.Fatal("failed to seed ai routes", zap.Error(err))
	}
	zlog.Info("database ready", zap.String("driver", cfg.Database.Driver))

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		zlog.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	analysisQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	publisher := pubsub.NewPublisher(rdb)
	orch := orchestrator.New(db, rdb, llm.NewRegistry(), zlog.Named("orchestrator"))

	// 初始化 Service
	supervisor := service.NewSupervisor(zlog.Named("supervisor"))
	routingService := service.NewRoutingService(
		repository.NewProviderRepository(db),
		repository.NewRouteRepository(db),
		repository.NewCallLogRepository(db),
		orch,
	)
	generatorService := service.NewGeneratorService(db, orch, analysisQueue, publisher, supervisor, cfg.Generator, zlog.Named("generator"))
	asyncService := service.NewAsyncAnalysisService(
		repository.NewPendingAnalysisRepository(db),
		repository.NewNotificationRepository(db),
		analysisQueue,
		zlog.Named("async_analysis"),
	)
	metricsService := service.NewStoryMetricsService(repository.NewMetricsRepository(db), repository.NewProjectRepository(db))
	splitService := service.NewVolumeSplitService(db, orch, zlog.Named("volume_split"))

	// 重启前仍在运行的任务重新拉起
	if n, err := generatorService.Resume(); err != nil {
		zlog.Error("failed to resume generator jobs", zap.Error(err))
	} else if n > 0 {
		zlog.Info("generator jobs resumed", zap.Int("count", n))
	}

	// WebSocket 推送：redis 通知转发给在线用户
	hub := ws.NewHub(zlog.Named("ws"))
	forwardCtx, stopForward := context.WithCancel(context.Background())
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		if err := hub.Forward(forwardCtx, pubsub.NewSubscriber(rdb)); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("notification forwarder stopped", zap.Error(err))
		}
	}()

	cronService := cron.NewService(repository.NewCallLogRepository(db), cfg.Cleanup, zlog.Named("cron"))
	cronService.Start()

	router := api.NewRouter(
		handler.NewAIRoutingHandler(routingService, zlog),
		handler.NewGeneratorHandler(generatorService, zlog),
		handler.NewAsyncAnalysisHandler(asyncService, zlog),
		handler.NewVolumeHandler(metricsService, splitService, zlog),
		handler.NewWebSocketHandler(hub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins, zlog),
		rdb,
		cfg,
		zlog.Named("http"),
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}
	go func() {
		zlog.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	zlog.Info("received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("http shutdown failed", zap.Error(err))
	}
	if err := supervisor.Shutdown(ctx); err != nil {
		zlog.Error("generator jobs did not stop in time", zap.Int("running", supervisor.Count()), zap.Error(err))
	}
	cronService.Stop()
	stopForward()
	<-forwardDone
	zlog.Info("server shutdown complete")
}
