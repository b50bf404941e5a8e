package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/novel_go_server/internal/model"
)

type MetricsRepository struct {
	db *gorm.DB
}

func NewMetricsRepository(db *gorm.DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// Upsert 以 (project_id, chapter_number) 为键插入或覆盖
func (r *MetricsRepository) Upsert(m *model.ChapterStoryMetrics) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "chapter_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"chapter_id",
			"word_count",
			"key_event_count",
			"major_event_flag",
			"foreshadow_count",
			"foreshadow_max_conf",
			"character_breakthrough_flag",
			"world_shock_flag",
			"climax_score",
			"stage_score",
			"metrics",
			"updated_at",
		}),
	}).Create(m).Error
}

func (r *MetricsRepository) GetByChapter(projectID string, chapterNumber int) (*model.ChapterStoryMetrics, error) {
	var m model.ChapterStoryMetrics
	err := r.db.Where("project_id = ? AND chapter_number = ?", projectID, chapterNumber).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MetricsRepository) ListByProject(projectID string) ([]*model.ChapterStoryMetrics, error) {
	var items []*model.ChapterStoryMetrics
	err := r.db.Where("project_id = ?", projectID).Order("chapter_number ASC").Find(&items).Error
	return items, err
}

// Window 章节号大于 boundary 的最近 size 条指标，按章节号升序返回
func (r *MetricsRepository) Window(projectID string, boundary, size int) ([]*model.ChapterStoryMetrics, error) {
	var items []*model.ChapterStoryMetrics
	err := r.db.Where("project_id = ? AND chapter_number > ?", projectID, boundary).
		Order("chapter_number DESC").
		Limit(size).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}
