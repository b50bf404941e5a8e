package cron

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/config"
	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/repository"
)

const (
	allLogsHour    = 2 // 每日 02:00 清理全部过期日志
	failedLogsHour = 3 // 每日 03:00 清理失败日志
)

type Service struct {
	callLogRepo *repository.CallLogRepository
	cfg         config.CleanupConfig
	log         *zap.Logger
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	now func() time.Time
}

func NewService(callLogRepo *repository.CallLogRepository, cfg config.CleanupConfig, log *zap.Logger) *Service {
	if cfg.LogRetentionDays <= 0 {
		cfg.LogRetentionDays = 30
	}
	if cfg.FailedLogRetentionDays <= 0 {
		cfg.FailedLogRetentionDays = 7
	}
	return &Service{
		callLogRepo: callLogRepo,
		cfg:         cfg,
		log:         logger.OrNop(log),
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	s.wg.Add(2)
	go s.runDaily(allLogsHour, s.cleanupAllLogs)
	go s.runDaily(failedLogsHour, s.cleanupFailedLogs)
	s.log.Info("cron service started",
		zap.Int("log_retention_days", s.cfg.LogRetentionDays),
		zap.Int("failed_log_retention_days", s.cfg.FailedLogRetentionDays))
}

// Stop 停止定时任务并等待正在执行的清理结束
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.log.Info("cron service stopped")
}

// nextRun 下一个 hour 点整，本地时区
func nextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Service) runDaily(hour int, job func() (int64, error)) {
	defer s.wg.Done()

	for {
		now := s.now()
		timer := time.NewTimer(nextRun(now, hour).Sub(now))
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := job(); err != nil {
				s.log.Error("scheduled cleanup failed", zap.Int("hour", hour), zap.Error(err))
			}
		}
	}
}

func (s *Service) cleanupAllLogs() (int64, error) {
	before := s.now().AddDate(0, 0, -s.cfg.LogRetentionDays)
	n, err := s.callLogRepo.DeleteOlderThan(before, "")
	if err != nil {
		return 0, err
	}
	s.log.Info("old call logs deleted", zap.Int64("deleted", n), zap.Time("before", before))
	return n, nil
}

func (s *Service) cleanupFailedLogs() (int64, error) {
	before := s.now().AddDate(0, 0, -s.cfg.FailedLogRetentionDays)
	n, err := s.callLogRepo.DeleteOlderThan(before, model.CallStatusFailed)
	if err != nil {
		return 0, err
	}
	s.log.Info("failed call logs deleted", zap.Int64("deleted", n), zap.Time("before", before))
	return n, nil
}

// RunNow 立即执行两项清理（用于测试或手动触发），返回删除总数
func (s *Service) RunNow() (int64, error) {
	s.log.Info("manual cleanup triggered")
	all, err := s.cleanupAllLogs()
	if err != nil {
		return 0, err
	}
	failed, err := s.cleanupFailedLogs()
	if err != nil {
		return all, err
	}
	return all + failed, nil
}
