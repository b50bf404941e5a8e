package model

import (
	"time"
)

const (
	AnalysisStatusPending    = "pending"
	AnalysisStatusProcessing = "processing"
	AnalysisStatusCompleted  = "completed"
	AnalysisStatusFailed     = "failed"
	AnalysisStatusCancelled  = "cancelled"

	NotificationStarted   = "started"
	NotificationProgress  = "progress"
	NotificationCompleted = "completed"
	NotificationFailed    = "failed"
)

// PendingAnalysis 待处理的增强分析任务
type PendingAnalysis struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	ChapterID        int64      `gorm:"not null;index" json:"chapter_id"`
	ChapterNumber    int        `gorm:"not null" json:"chapter_number"`
	ProjectID        string     `gorm:"size:36;not null;index" json:"project_id"`
	UserID           int64      `gorm:"not null;index" json:"user_id"`
	JobID            *int64     `gorm:"index" json:"job_id,omitempty"`
	Status           string     `gorm:"size:20;default:pending;index:idx_pending_status_priority" json:"status"`
	Priority         int        `gorm:"index:idx_pending_status_priority" json:"priority"`
	RetryCount       int        `gorm:"default:0" json:"retry_count"`
	MaxRetries       int        `json:"max_retries"`
	GenerationConfig JSONMap    `gorm:"type:json" json:"generation_config,omitempty"`
	Result           JSONMap    `gorm:"type:json" json:"result,omitempty"`
	ErrorMessage     string     `gorm:"type:text" json:"error_message,omitempty"`
	ErrorType        string     `gorm:"size:50" json:"error_type,omitempty"`
	TokenUsage       int        `gorm:"default:0" json:"token_usage"`
	DurationSeconds  *int       `json:"duration_seconds,omitempty"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func (PendingAnalysis) TableName() string {
	return "pending_analyses"
}

// CanRetry 是否还能重试
func (p *PendingAnalysis) CanRetry() bool {
	return p.RetryCount < p.MaxRetries
}

// ElapsedSeconds 从开始处理到现在（或完成）的秒数
func (p *PendingAnalysis) ElapsedSeconds(now time.Time) int {
	if p.StartedAt == nil {
		return 0
	}
	end := now
	if p.CompletedAt != nil {
		end = *p.CompletedAt
	}
	return int(end.Sub(*p.StartedAt).Seconds())
}

// AnalysisNotification 分析任务通知
type AnalysisNotification struct {
	ID                int64      `gorm:"primaryKey" json:"id"`
	PendingAnalysisID int64      `gorm:"not null;index" json:"pending_analysis_id"`
	UserID            int64      `gorm:"not null;index:idx_notification_user_read" json:"user_id"`
	ChapterID         int64      `gorm:"not null" json:"chapter_id"`
	ChapterNumber     int        `json:"chapter_number"`
	Type              string     `gorm:"column:notification_type;size:20;not null" json:"notification_type"`
	Title             string     `gorm:"size:200;not null" json:"title"`
	Message           string     `gorm:"type:text" json:"message,omitempty"`
	Data              JSONMap    `gorm:"type:json" json:"data,omitempty"`
	IsRead            bool       `gorm:"default:false;index:idx_notification_user_read" json:"is_read"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
}

func (AnalysisNotification) TableName() string {
	return "analysis_notifications"
}
