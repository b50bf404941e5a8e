package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/config"
	"github.com/qs3c/novel_go_server/internal/database"
	"github.com/qs3c/novel_go_server/internal/orchestrator"
	"github.com/qs3c/novel_go_server/internal/pkg/llm"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/pkg/pubsub"
	"github.com/qs3c/novel_go_server/internal/pkg/queue"
	"github.com/qs3c/novel_go_server/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog := logger.MustNew("worker", cfg.Log)
	defer zlog.Sync() //nolint:errcheck

	db, err := database.Open(&cfg.Database)
	if err != nil {
		zlog.Fatal("failed to connect database", zap.Error(err))
	}

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		zlog.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	orch := orchestrator.New(db, rdb, llm.NewRegistry(), zlog.Named("orchestrator"))
	processor := worker.NewProcessor(
		db,
		orch,
		queue.NewQueue(rdb, cfg.Queue.AnalysisQueue),
		pubsub.NewPublisher(rdb),
		cfg.Processor,
		zlog.Named("processor"),
	)

	// 创建 context 用于优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 处理中的任务被中断后保持 processing，租约过期后由下一次轮询重新领取
	processor.Start(ctx)
	zlog.Info("worker shutdown complete")
}
