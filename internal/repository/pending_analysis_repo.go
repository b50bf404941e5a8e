package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
)

type PendingAnalysisRepository struct {
	db *gorm.DB
}

func NewPendingAnalysisRepository(db *gorm.DB) *PendingAnalysisRepository {
	return &PendingAnalysisRepository{db: db}
}

func (r *PendingAnalysisRepository) Create(p *model.PendingAnalysis) error {
	return r.db.Create(p).Error
}

func (r *PendingAnalysisRepository) GetByID(id int64) (*model.PendingAnalysis, error) {
	var p model.PendingAnalysis
	err := r.db.Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PendingAnalysisRepository) Update(p *model.PendingAnalysis) error {
	return r.db.Save(p).Error
}

// FetchDue 取出待处理任务：pending，或 processing 但租约已过期。
// 优先级高的先取，同优先级按创建时间。
func (r *PendingAnalysisRepository) FetchDue(now time.Time, leaseTimeout time.Duration, limit int) ([]*model.PendingAnalysis, error) {
	var items []*model.PendingAnalysis
	expired := now.Add(-leaseTimeout)
	err := r.db.Where("status = ? OR (status = ? AND started_at < ?)",
		model.AnalysisStatusPending, model.AnalysisStatusProcessing, expired).
		Order("priority DESC, created_at ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// MarkProcessing 领取任务。pending 或租约过期的任务才能被领取，
// 返回 false 表示已被其他 worker 抢先。
func (r *PendingAnalysisRepository) MarkProcessing(id int64, now time.Time, leaseTimeout time.Duration) (bool, error) {
	expired := now.Add(-leaseTimeout)
	result := r.db.Model(&model.PendingAnalysis{}).
		Where("id = ? AND (status = ? OR (status = ? AND started_at < ?))",
			id, model.AnalysisStatusPending, model.AnalysisStatusProcessing, expired).
		Updates(map[string]interface{}{
			"status":     model.AnalysisStatusProcessing,
			"started_at": now,
		})
	return result.RowsAffected > 0, result.Error
}

// Finish 写回处理结果，只在任务仍为 processing 时生效。
// 返回 false 表示处理期间任务已被取消或被其他 worker 重新领取。
func (r *PendingAnalysisRepository) Finish(p *model.PendingAnalysis) (bool, error) {
	result := r.db.Model(&model.PendingAnalysis{}).
		Where("id = ? AND status = ?", p.ID, model.AnalysisStatusProcessing).
		Updates(map[string]interface{}{
			"status":           p.Status,
			"result":           p.Result,
			"error_message":    p.ErrorMessage,
			"error_type":       p.ErrorType,
			"retry_count":      p.RetryCount,
			"token_usage":      p.TokenUsage,
			"duration_seconds": p.DurationSeconds,
			"completed_at":     p.CompletedAt,
		})
	return result.RowsAffected > 0, result.Error
}

// Cancel 取消 pending 或 processing 的任务，返回是否有变更
func (r *PendingAnalysisRepository) Cancel(id int64) (bool, error) {
	result := r.db.Model(&model.PendingAnalysis{}).
		Where("id = ? AND status IN ?", id,
			[]string{model.AnalysisStatusPending, model.AnalysisStatusProcessing}).
		Update("status", model.AnalysisStatusCancelled)
	return result.RowsAffected > 0, result.Error
}

// CountByStatus 按状态统计，projectID 为空表示该用户全部项目
func (r *PendingAnalysisRepository) CountByStatus(userID int64, projectID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	query := r.db.Model(&model.PendingAnalysis{}).Where("user_id = ?", userID)
	if projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	err := query.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// ListByUser 用户的任务，status 为空表示全部
func (r *PendingAnalysisRepository) ListByUser(userID int64, projectID, status string, limit int) ([]*model.PendingAnalysis, error) {
	var items []*model.PendingAnalysis
	query := r.db.Where("user_id = ?", userID)
	if projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("id DESC").Find(&items).Error
	return items, err
}

// LatestForChapter 章节最近一次分析任务
func (r *PendingAnalysisRepository) LatestForChapter(chapterID int64) (*model.PendingAnalysis, error) {
	var p model.PendingAnalysis
	err := r.db.Where("chapter_id = ?", chapterID).Order("id DESC").First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PendingAnalysisRepository) ExistsForChapter(chapterID int64) (bool, error) {
	var count int64
	err := r.db.Model(&model.PendingAnalysis{}).Where("chapter_id = ?", chapterID).Count(&count).Error
	return count > 0, err
}
