package model

import (
	"time"
)

// ChapterStoryMetrics 章节剧情指标，用于自动分卷判定
type ChapterStoryMetrics struct {
	ID                        int64     `gorm:"primaryKey" json:"id"`
	ProjectID                 string    `gorm:"size:36;not null;uniqueIndex:idx_metrics_project_chapter" json:"project_id"`
	ChapterID                 int64     `gorm:"not null;index" json:"chapter_id"`
	ChapterNumber             int       `gorm:"not null;uniqueIndex:idx_metrics_project_chapter" json:"chapter_number"`
	WordCount                 int       `gorm:"default:0;not null" json:"word_count"`
	KeyEventCount             int       `gorm:"default:0;not null" json:"key_event_count"`
	MajorEventFlag            bool      `gorm:"default:false;not null" json:"major_event_flag"`
	ForeshadowCount           int       `gorm:"default:0;not null" json:"foreshadow_count"`
	ForeshadowMaxConf         float64   `gorm:"default:0;not null" json:"foreshadow_max_conf"`
	CharacterBreakthroughFlag bool      `gorm:"default:false;not null" json:"character_breakthrough_flag"`
	WorldShockFlag            bool      `gorm:"default:false;not null" json:"world_shock_flag"`
	ClimaxScore               int       `gorm:"default:0;not null" json:"climax_score"`
	StageScore                int       `gorm:"default:0;not null" json:"stage_score"`
	Metrics                   JSONMap   `gorm:"type:json" json:"metrics,omitempty"` // 原始分析结果快照
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

func (ChapterStoryMetrics) TableName() string {
	return "chapter_story_metrics"
}

// IsClimax 高潮章节（climax_score >= 70）
func (m *ChapterStoryMetrics) IsClimax() bool {
	return m.ClimaxScore >= 70
}
