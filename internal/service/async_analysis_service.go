package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/model/dto"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/pkg/pubsub"
	"github.com/qs3c/novel_go_server/internal/pkg/queue"
	"github.com/qs3c/novel_go_server/internal/repository"
)

var (
	ErrAnalysisTaskNotFound   = errors.New("任务不存在")
	ErrAnalysisNotCancellable = errors.New("当前状态的任务无法取消")
	ErrAnalysisNotRetryable   = errors.New("只能重试失败的任务")
	ErrAnalysisRetryExhausted = errors.New("已达到最大重试次数")
	ErrNotificationNotFound   = errors.New("通知不存在")
)

const defaultRecentTasks = 10

// AsyncAnalysisService 延迟分析任务与通知的查询、取消、重试
type AsyncAnalysisService struct {
	pendingRepo      *repository.PendingAnalysisRepository
	notificationRepo *repository.NotificationRepository
	queue            *queue.Queue
	log              *zap.Logger
}

func NewAsyncAnalysisService(
	pendingRepo *repository.PendingAnalysisRepository,
	notificationRepo *repository.NotificationRepository,
	q *queue.Queue,
	log *zap.Logger,
) *AsyncAnalysisService {
	return &AsyncAnalysisService{
		pendingRepo:      pendingRepo,
		notificationRepo: notificationRepo,
		queue:            q,
		log:              logger.OrNop(log),
	}
}

// Status 项目分析概览
func (s *AsyncAnalysisService) Status(userID int64, projectID string, limit int) (*dto.AnalysisStatusResponse, error) {
	counts, err := s.pendingRepo.CountByStatus(userID, projectID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecentTasks
	}
	recent, err := s.pendingRepo.ListByUser(userID, projectID, "", limit)
	if err != nil {
		return nil, err
	}
	unread, err := s.notificationRepo.CountUnread(userID)
	if err != nil {
		return nil, err
	}

	resp := &dto.AnalysisStatusResponse{
		Pending:     counts[model.AnalysisStatusPending],
		Processing:  counts[model.AnalysisStatusProcessing],
		Completed:   counts[model.AnalysisStatusCompleted],
		Failed:      counts[model.AnalysisStatusFailed],
		Cancelled:   counts[model.AnalysisStatusCancelled],
		UnreadCount: unread,
		RecentTasks: make([]*dto.PendingAnalysisItem, 0, len(recent)),
	}
	for _, c := range counts {
		resp.Total += c
	}
	for _, p := range recent {
		resp.RecentTasks = append(resp.RecentTasks, toPendingItem(p, false))
	}
	return resp, nil
}

func (s *AsyncAnalysisService) ListTasks(userID int64, projectID, status string, limit int) ([]*dto.PendingAnalysisItem, error) {
	items, err := s.pendingRepo.ListByUser(userID, projectID, status, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.PendingAnalysisItem, 0, len(items))
	for _, p := range items {
		out = append(out, toPendingItem(p, false))
	}
	return out, nil
}

// GetTask 任务详情，包含分析结果
func (s *AsyncAnalysisService) GetTask(userID, id int64) (*dto.PendingAnalysisItem, error) {
	p, err := s.ownedTask(userID, id)
	if err != nil {
		return nil, err
	}
	return toPendingItem(p, true), nil
}

// LatestForChapter 章节最近一次任务，没有任务时返回 nil
func (s *AsyncAnalysisService) LatestForChapter(userID, chapterID int64) (*dto.PendingAnalysisItem, error) {
	p, err := s.pendingRepo.LatestForChapter(chapterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if p.UserID != userID {
		return nil, nil
	}
	return toPendingItem(p, true), nil
}

// Cancel 只允许取消 pending 或 processing 的任务
func (s *AsyncAnalysisService) Cancel(userID, id int64) error {
	if _, err := s.ownedTask(userID, id); err != nil {
		return err
	}
	changed, err := s.pendingRepo.Cancel(id)
	if err != nil {
		return err
	}
	if !changed {
		return ErrAnalysisNotCancellable
	}
	return nil
}

// Retry 失败任务重新入队
func (s *AsyncAnalysisService) Retry(ctx context.Context, userID, id int64) error {
	p, err := s.ownedTask(userID, id)
	if err != nil {
		return err
	}
	if p.Status != model.AnalysisStatusFailed {
		return ErrAnalysisNotRetryable
	}
	if !p.CanRetry() {
		return fmt.Errorf("%w (%d)", ErrAnalysisRetryExhausted, p.MaxRetries)
	}

	p.Status = model.AnalysisStatusPending
	p.ErrorMessage = ""
	p.ErrorType = ""
	p.StartedAt = nil
	p.CompletedAt = nil
	if err := s.pendingRepo.Update(p); err != nil {
		return err
	}
	s.wake(ctx, p)
	return nil
}

func (s *AsyncAnalysisService) wake(ctx context.Context, p *model.PendingAnalysis) {
	if s.queue == nil {
		return
	}
	err := s.queue.Push(ctx, &queue.AnalysisMessage{
		PendingAnalysisID: p.ID,
		ProjectID:         p.ProjectID,
		ChapterID:         p.ChapterID,
		ChapterNumber:     p.ChapterNumber,
		Priority:          p.Priority,
	})
	if err != nil {
		s.log.Warn("failed to push wake-up message", zap.Int64("pending_analysis_id", p.ID), zap.Error(err))
	}
}

func (s *AsyncAnalysisService) ownedTask(userID, id int64) (*model.PendingAnalysis, error) {
	p, err := s.pendingRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisTaskNotFound
		}
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrAnalysisTaskNotFound
	}
	return p, nil
}

func (s *AsyncAnalysisService) ListNotifications(userID int64, unreadOnly bool, limit int) ([]*dto.NotificationItem, error) {
	items, err := s.notificationRepo.ListByUser(userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.NotificationItem, 0, len(items))
	for _, n := range items {
		out = append(out, toNotificationItem(n))
	}
	return out, nil
}

// MarkNotificationRead 重复标记不报错
func (s *AsyncAnalysisService) MarkNotificationRead(userID, id int64) error {
	err := s.notificationRepo.MarkRead(id, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotificationNotFound
	}
	return err
}

func (s *AsyncAnalysisService) MarkAllNotificationsRead(userID int64) (*dto.MarkAllReadResponse, error) {
	n, err := s.notificationRepo.MarkAllRead(userID)
	if err != nil {
		return nil, err
	}
	return &dto.MarkAllReadResponse{Updated: n}, nil
}

func toPendingItem(p *model.PendingAnalysis, withResult bool) *dto.PendingAnalysisItem {
	item := &dto.PendingAnalysisItem{
		ID:              p.ID,
		ChapterID:       p.ChapterID,
		ChapterNumber:   p.ChapterNumber,
		ProjectID:       p.ProjectID,
		Status:          p.Status,
		Priority:        p.Priority,
		RetryCount:      p.RetryCount,
		MaxRetries:      p.MaxRetries,
		ErrorMessage:    p.ErrorMessage,
		ErrorType:       p.ErrorType,
		TokenUsage:      p.TokenUsage,
		DurationSeconds: p.DurationSeconds,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
	}
	if p.StartedAt != nil {
		item.StartedAt = p.StartedAt.Format(time.RFC3339)
	}
	if p.CompletedAt != nil {
		item.CompletedAt = p.CompletedAt.Format(time.RFC3339)
	}
	if withResult && p.Result != nil {
		item.Result = p.Result
	}
	return item
}

func toNotificationItem(n *model.AnalysisNotification) *dto.NotificationItem {
	item := &dto.NotificationItem{
		ID:                n.ID,
		PendingAnalysisID: n.PendingAnalysisID,
		ChapterID:         n.ChapterID,
		ChapterNumber:     n.ChapterNumber,
		Type:              n.Type,
		Title:             n.Title,
		Message:           n.Message,
		Data:              n.Data,
		IsRead:            n.IsRead,
		CreatedAt:         n.CreatedAt.Format(time.RFC3339),
	}
	if n.ReadAt != nil {
		item.ReadAt = n.ReadAt.Format(time.RFC3339)
	}
	return item
}

// Notifier 写通知表并通过 redis 推送给 websocket 端
type Notifier struct {
	repo      *repository.NotificationRepository
	publisher *pubsub.Publisher
	log       *zap.Logger
}

func NewNotifier(repo *repository.NotificationRepository, publisher *pubsub.Publisher, log *zap.Logger) *Notifier {
	return &Notifier{repo: repo, publisher: publisher, log: logger.OrNop(log)}
}

// Notify 推送失败只记日志
func (n *Notifier) Notify(ctx context.Context, p *model.PendingAnalysis, typ, title, message string, data model.JSONMap) error {
	note := &model.AnalysisNotification{
		PendingAnalysisID: p.ID,
		UserID:            p.UserID,
		ChapterID:         p.ChapterID,
		ChapterNumber:     p.ChapterNumber,
		Type:              typ,
		Title:             title,
		Message:           message,
		Data:              data,
	}
	if err := n.repo.Create(note); err != nil {
		return err
	}

	err := n.publisher.PublishNotification(ctx, &pubsub.NotificationMessage{
		UserID:            note.UserID,
		NotificationID:    note.ID,
		PendingAnalysisID: note.PendingAnalysisID,
		ChapterID:         note.ChapterID,
		ChapterNumber:     note.ChapterNumber,
		NotificationType:  typ,
		Title:             title,
		Message:           message,
		Data:              data,
	})
	if err != nil {
		n.log.Warn("failed to publish notification", zap.Int64("notification_id", note.ID), zap.Error(err))
	}
	return nil
}
