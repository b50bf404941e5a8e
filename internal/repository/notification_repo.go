package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(n *model.AnalysisNotification) error {
	return r.db.Create(n).Error
}

func (r *NotificationRepository) ListByUser(userID int64, unreadOnly bool, limit int) ([]*model.AnalysisNotification, error) {
	var items []*model.AnalysisNotification
	query := r.db.Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("id DESC").Find(&items).Error
	return items, err
}

// MarkRead 标记已读，已读的通知不会改动 read_at。
// 通知不存在或不属于该用户时返回 gorm.ErrRecordNotFound。
func (r *NotificationRepository) MarkRead(id, userID int64) error {
	var n model.AnalysisNotification
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		return err
	}
	if n.IsRead {
		return nil
	}
	return r.db.Model(&model.AnalysisNotification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_read": true, "read_at": time.Now()}).Error
}

func (r *NotificationRepository) MarkAllRead(userID int64) (int64, error) {
	result := r.db.Model(&model.AnalysisNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": time.Now()})
	return result.RowsAffected, result.Error
}

func (r *NotificationRepository) CountUnread(userID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.AnalysisNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}
