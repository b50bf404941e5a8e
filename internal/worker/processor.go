package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/config"
	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/orchestrator"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/pkg/pubsub"
	"github.com/qs3c/novel_go_server/internal/pkg/queue"
	"github.com/qs3c/novel_go_server/internal/repository"
	"github.com/qs3c/novel_go_server/internal/service"
)

var errNoSelectedVersion = errors.New("章节没有选中的版本")

// Processor 增强分析后台处理器
type Processor struct {
	db        *gorm.DB
	exec      service.Executor
	queue     *queue.Queue
	publisher *pubsub.Publisher
	cfg       config.ProcessorConfig
	log       *zap.Logger

	now func() time.Time
}

// NewProcessor q 为 nil 时只按轮询间隔工作
func NewProcessor(
	db *gorm.DB,
	exec service.Executor,
	q *queue.Queue,
	publisher *pubsub.Publisher,
	cfg config.ProcessorConfig,
	log *zap.Logger,
) *Processor {
	return &Processor{
		db:        db,
		exec:      exec,
		queue:     q,
		publisher: publisher,
		cfg:       cfg,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
}

func (p *Processor) pollInterval() time.Duration {
	return time.Duration(p.cfg.PollIntervalSeconds) * time.Second
}

func (p *Processor) leaseTimeout() time.Duration {
	return time.Duration(p.cfg.ProcessingTimeoutSeconds) * time.Second
}

// Start 阻塞直到 ctx 取消
func (p *Processor) Start(ctx context.Context) {
	p.log.Info("analysis processor started",
		zap.Int("max_concurrent", p.cfg.MaxConcurrent),
		zap.Duration("poll_interval", p.pollInterval()))

	for {
		if n, err := p.RunOnce(ctx); err != nil {
			p.log.Error("analysis cycle failed", zap.Error(err))
		} else if n > 0 {
			p.log.Info("analysis cycle finished", zap.Int("processed", n))
		}

		if err := p.wait(ctx); err != nil {
			p.log.Info("analysis processor stopped")
			return
		}
	}
}

// wait 等到下一个轮询周期，生成任务推送唤醒消息时提前返回
func (p *Processor) wait(ctx context.Context) error {
	if p.queue == nil {
		timer := time.NewTimer(p.pollInterval())
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	msg, err := p.queue.Pop(ctx, p.pollInterval())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		p.log.Warn("failed to pop wake-up message", zap.Error(err))
		return nil
	}
	if msg != nil {
		p.log.Debug("woken by queue", zap.Int64("pending_analysis_id", msg.PendingAnalysisID))
	}
	return nil
}

// RunOnce 处理一批到期任务，返回本批领取成功的数量
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	items, err := repository.NewPendingAnalysisRepository(p.db).FetchDue(p.now(), p.leaseTimeout(), p.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch due analyses: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	results := make([]bool, len(items))
	g := new(errgroup.Group)
	g.SetLimit(max(p.cfg.MaxConcurrent, 1))
	for i, item := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = p.process(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n, nil
}

// process 每个任务使用独立会话，返回是否领取成功
func (p *Processor) process(ctx context.Context, item *model.PendingAnalysis) bool {
	db := p.db.Session(&gorm.Session{NewDB: true})
	repo := repository.NewPendingAnalysisRepository(db)
	notifier := service.NewNotifier(repository.NewNotificationRepository(db), p.publisher, p.log)
	log := p.log.With(zap.Int64("pending_analysis_id", item.ID), zap.Int("chapter", item.ChapterNumber))

	startedAt := p.now()
	ok, err := repo.MarkProcessing(item.ID, startedAt, p.leaseTimeout())
	if err != nil {
		log.Error("failed to claim analysis", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	item.Status = model.AnalysisStatusProcessing
	item.StartedAt = &startedAt

	if err := notifier.Notify(ctx, item, model.NotificationStarted,
		fmt.Sprintf("第 %d 章增强分析已开始", item.ChapterNumber),
		"正在进行角色追踪、世界观扩展等分析...", nil); err != nil {
		log.Warn("failed to write started notification", zap.Error(err))
	}

	result, err := p.analyze(ctx, db, item)
	if err != nil {
		if ctx.Err() != nil {
			// 保持 processing，租约过期后重新领取
			log.Warn("analysis interrupted by shutdown", zap.Error(err))
			return true
		}
		p.fail(ctx, db, notifier, item, err)
		return true
	}

	completedAt := p.now()
	duration := int(completedAt.Sub(startedAt).Seconds())
	item.Status = model.AnalysisStatusCompleted
	item.Result = result.payload()
	item.TokenUsage = result.tokens()
	item.CompletedAt = &completedAt
	item.DurationSeconds = &duration
	item.ErrorMessage = ""
	item.ErrorType = ""
	finished, err := repo.Finish(item)
	if err != nil {
		log.Error("failed to save analysis result", zap.Error(err))
		return true
	}
	if !finished {
		log.Info("analysis result discarded, task no longer processing")
		return true
	}
	log.Info("analysis completed", zap.Int("duration_seconds", duration), zap.Int("tokens", item.TokenUsage))

	if err := notifier.Notify(ctx, item, model.NotificationCompleted,
		fmt.Sprintf("第 %d 章增强分析已完成", item.ChapterNumber),
		"角色状态、世界观等信息已更新", item.Result); err != nil {
		log.Warn("failed to write completed notification", zap.Error(err))
	}

	p.afterAnalysis(ctx, db, item, result, log)
	return true
}

type analysisResult struct {
	chapter  *model.Chapter
	basic    *service.BasicResult
	enhanced *service.EnhancedResult
	changes  *service.StateChanges
}

func (r *analysisResult) payload() model.JSONMap {
	out := model.JSONMap{"basic": r.basic.ToMap()}
	if r.enhanced != nil {
		out["enhanced"] = r.enhanced.ToMap()
	}
	if r.changes != nil {
		out["state_changes"] = r.changes
	}
	return out
}

func (r *analysisResult) tokens() int {
	n := r.basic.Tokens
	if r.enhanced != nil {
		n += r.enhanced.Tokens
	}
	return n
}

func (p *Processor) analyze(ctx context.Context, db *gorm.DB, item *model.PendingAnalysis) (*analysisResult, error) {
	chapterRepo := repository.NewChapterRepository(db)
	ch, err := chapterRepo.GetByID(item.ChapterID)
	if err != nil {
		return nil, fmt.Errorf("load chapter: %w", err)
	}
	content, err := chapterRepo.SelectedContent(ch)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNoSelectedVersion
		}
		return nil, err
	}
	project, err := repository.NewProjectRepository(db).GetByID(item.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	chars, err := repository.NewCharacterRepository(db).ListByProject(item.ProjectID)
	if err != nil {
		return nil, err
	}

	pipeline := service.NewAnalysisPipeline(p.exec, p.log)
	basic, enhanced, err := pipeline.AnalyzeChapter(ctx, &service.AnalysisInput{
		ProjectID:     item.ProjectID,
		UserID:        item.UserID,
		ChapterNumber: item.ChapterNumber,
		Content:       content,
		Characters:    chars,
		WorldSetting:  project.WorldSetting,
		Enhanced:      true,
	})
	if err != nil {
		return nil, err
	}

	changes, err := service.NewStateUpdater(db, p.log).Apply(item.ProjectID, item.ChapterNumber, enhanced, item.GenerationConfig)
	if err != nil {
		return nil, fmt.Errorf("apply enhancement: %w", err)
	}
	return &analysisResult{chapter: ch, basic: basic, enhanced: enhanced, changes: changes}, nil
}

// afterAnalysis 指标与分卷失败不影响任务结果
func (p *Processor) afterAnalysis(ctx context.Context, db *gorm.DB, item *model.PendingAnalysis, result *analysisResult, log *zap.Logger) {
	metrics := service.NewStoryMetricsService(repository.NewMetricsRepository(db), repository.NewProjectRepository(db))
	if _, err := metrics.RecordMetrics(result.chapter, result.basic, result.enhanced, item.GenerationConfig); err != nil {
		log.Warn("failed to record story metrics", zap.Error(err))
		return
	}

	splitCfg := service.SplitConfigFrom(item.GenerationConfig)
	if !splitCfg.Enabled {
		return
	}
	volume, err := service.NewVolumeSplitService(db, p.exec, p.log).Evaluate(ctx, item.ProjectID, item.JobID, splitCfg)
	if err != nil {
		log.Warn("volume split evaluation failed", zap.Error(err))
		return
	}
	if volume != nil {
		log.Info("volume split", zap.Int64("volume_id", volume.ID), zap.String("title", volume.Title))
	}
}

// fail 未超过重试上限时回到 pending
func (p *Processor) fail(ctx context.Context, db *gorm.DB, notifier *service.Notifier, item *model.PendingAnalysis, cause error) {
	log := p.log.With(zap.Int64("pending_analysis_id", item.ID))

	completedAt := p.now()
	item.Status = model.AnalysisStatusFailed
	item.ErrorMessage = cause.Error()
	item.ErrorType = string(orchestrator.TypeOf(cause))
	item.RetryCount++
	item.CompletedAt = &completedAt
	if item.CanRetry() {
		item.Status = model.AnalysisStatusPending
	}

	finished, err := repository.NewPendingAnalysisRepository(db).Finish(item)
	if err != nil {
		log.Error("failed to save analysis failure", zap.Error(err))
		return
	}
	if !finished {
		log.Info("analysis failure discarded, task no longer processing", zap.Error(cause))
		return
	}

	if err := notifier.Notify(ctx, item, model.NotificationFailed,
		fmt.Sprintf("第 %d 章增强分析失败", item.ChapterNumber),
		fmt.Sprintf("错误: %s", cause.Error()), nil); err != nil {
		log.Warn("failed to write failed notification", zap.Error(err))
	}

	log.Warn("analysis failed",
		zap.Int("retry_count", item.RetryCount),
		zap.Int("max_retries", item.MaxRetries),
		zap.String("status", item.Status),
		zap.Error(cause))
}
