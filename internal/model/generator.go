package model

import (
	"time"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusPaused    = "paused"
	JobStatusStopped   = "stopped"
	JobStatusCompleted = "completed"
	JobStatusError     = "error"

	LogTypeInfo    = "info"
	LogTypeSuccess = "success"
	LogTypeWarning = "warning"
	LogTypeError   = "error"
)

// AutoGeneratorJob 自动生成任务
type AutoGeneratorJob struct {
	ID                int64      `gorm:"primaryKey" json:"id"`
	ProjectID         string     `gorm:"size:36;not null;index" json:"project_id"`
	UserID            int64      `gorm:"not null;index" json:"user_id"`
	Status            string     `gorm:"size:20;default:pending;index" json:"status"`
	TargetChapters    *int       `json:"target_chapters,omitempty"` // nil 表示不限
	ChaptersPerBatch  int        `gorm:"default:1" json:"chapters_per_batch"`
	IntervalSeconds   int        `json:"interval_seconds"`
	AutoSelectVersion bool       `json:"auto_select_version"`
	GenerationConfig  JSONMap    `gorm:"type:json" json:"generation_config,omitempty"`
	ChaptersGenerated int        `gorm:"default:0" json:"chapters_generated"`
	TotalTokensUsed   int        `gorm:"default:0" json:"total_tokens_used"`
	ErrorCount        int        `gorm:"default:0" json:"error_count"`
	LastError         string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	LastGenerationAt  *time.Time `json:"last_generation_at,omitempty"`
}

func (AutoGeneratorJob) TableName() string {
	return "auto_generator_jobs"
}

// IsTerminal 终态不可再启动
func (j *AutoGeneratorJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusStopped, JobStatusCompleted, JobStatusError:
		return true
	}
	return false
}

// TargetReached 是否已达到目标章节数
func (j *AutoGeneratorJob) TargetReached() bool {
	return j.TargetChapters != nil && j.ChaptersGenerated >= *j.TargetChapters
}

// AutoGeneratorLog 自动生成日志
type AutoGeneratorLog struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	JobID         int64     `gorm:"not null;index" json:"job_id"`
	ChapterNumber *int      `json:"chapter_number,omitempty"`
	LogType       string    `gorm:"size:20" json:"log_type"`
	Message       string    `gorm:"type:text" json:"message"`
	Details       JSONMap   `gorm:"type:json" json:"details,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (AutoGeneratorLog) TableName() string {
	return "auto_generator_logs"
}
