package repository

import (
	"database/sql"

	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
)

type ChapterRepository struct {
	db *gorm.DB
}

func NewChapterRepository(db *gorm.DB) *ChapterRepository {
	return &ChapterRepository{db: db}
}

func (r *ChapterRepository) GetByID(id int64) (*model.Chapter, error) {
	var ch model.Chapter
	err := r.db.Where("id = ?", id).First(&ch).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *ChapterRepository) GetByNumber(projectID string, number int) (*model.Chapter, error) {
	var ch model.Chapter
	err := r.db.Where("project_id = ? AND chapter_number = ?", projectID, number).First(&ch).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// MaxNumber 当前最大章节号，无章节时返回 0
func (r *ChapterRepository) MaxNumber(projectID string) (int, error) {
	var max sql.NullInt64
	err := r.db.Model(&model.Chapter{}).
		Where("project_id = ?", projectID).
		Select("MAX(chapter_number)").
		Row().Scan(&max)
	if err != nil || !max.Valid {
		return 0, err
	}
	return int(max.Int64), nil
}

// MaxNumberInVolume 卷内最大章节号，卷内无章节时返回 0
func (r *ChapterRepository) MaxNumberInVolume(volumeID int64) (int, error) {
	var max sql.NullInt64
	err := r.db.Model(&model.Chapter{}).
		Where("volume_id = ?", volumeID).
		Select("MAX(chapter_number)").
		Row().Scan(&max)
	if err != nil || !max.Valid {
		return 0, err
	}
	return int(max.Int64), nil
}

// CountAfter 章节号大于 boundary 的章节数
func (r *ChapterRepository) CountAfter(projectID string, boundary int) (int64, error) {
	var count int64
	err := r.db.Model(&model.Chapter{}).
		Where("project_id = ? AND chapter_number > ?", projectID, boundary).
		Count(&count).Error
	return count, err
}

// CreateWithVersions 保存章节和候选版本，selectIndex >= 0 时选中对应版本
func (r *ChapterRepository) CreateWithVersions(ch *model.Chapter, versions []*model.ChapterVersion, selectIndex int) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ch).Error; err != nil {
			return err
		}
		for _, v := range versions {
			v.ChapterID = ch.ID
			if err := tx.Create(v).Error; err != nil {
				return err
			}
		}
		if selectIndex >= 0 && selectIndex < len(versions) {
			id := versions[selectIndex].ID
			ch.SelectedVersionID = &id
			return tx.Model(ch).Update("selected_version_id", id).Error
		}
		return nil
	})
}

// SelectedContent 章节选中版本的正文
func (r *ChapterRepository) SelectedContent(ch *model.Chapter) (string, error) {
	if ch.SelectedVersionID == nil {
		return "", gorm.ErrRecordNotFound
	}
	var v model.ChapterVersion
	err := r.db.Where("id = ?", *ch.SelectedVersionID).First(&v).Error
	if err != nil {
		return "", err
	}
	return v.Content, nil
}

// UpdateSummary 写入基础分析结果
func (r *ChapterRepository) UpdateSummary(id int64, summary string, keyEvents []string) error {
	return r.db.Model(&model.Chapter{}).Where("id = ?", id).Updates(map[string]interface{}{
		"summary":    summary,
		"key_events": model.StringArray(keyEvents),
	}).Error
}

// ListSummaries 章节号小于 before 的摘要，按章节号升序
func (r *ChapterRepository) ListSummaries(projectID string, before int) ([]*model.Chapter, error) {
	var chapters []*model.Chapter
	err := r.db.Select("id, chapter_number, summary").
		Where("project_id = ? AND chapter_number < ?", projectID, before).
		Order("chapter_number ASC").
		Find(&chapters).Error
	return chapters, err
}

// AssignVolume 把 [start, end] 范围的章节归入卷
func (r *ChapterRepository) AssignVolume(projectID string, start, end int, volumeID int64) (int64, error) {
	result := r.db.Model(&model.Chapter{}).
		Where("project_id = ? AND chapter_number BETWEEN ? AND ?", projectID, start, end).
		Update("volume_id", volumeID)
	return result.RowsAffected, result.Error
}

type OutlineRepository struct {
	db *gorm.DB
}

func NewOutlineRepository(db *gorm.DB) *OutlineRepository {
	return &OutlineRepository{db: db}
}

func (r *OutlineRepository) GetByNumber(projectID string, number int) (*model.ChapterOutline, error) {
	var o model.ChapterOutline
	err := r.db.Where("project_id = ? AND chapter_number = ?", projectID, number).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListBefore 章节号小于 before 的大纲，按章节号升序
func (r *OutlineRepository) ListBefore(projectID string, before int) ([]*model.ChapterOutline, error) {
	var outlines []*model.ChapterOutline
	err := r.db.Where("project_id = ? AND chapter_number < ?", projectID, before).
		Order("chapter_number ASC").
		Find(&outlines).Error
	return outlines, err
}

// CreateBatch 批量写入大纲，已存在的章节号跳过
func (r *OutlineRepository) CreateBatch(outlines []*model.ChapterOutline) (int, error) {
	created := 0
	err := r.db.Transaction(func(tx *gorm.DB) error {
		for _, o := range outlines {
			var count int64
			if err := tx.Model(&model.ChapterOutline{}).
				Where("project_id = ? AND chapter_number = ?", o.ProjectID, o.ChapterNumber).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			if err := tx.Create(o).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}

// AssignVolume 把 [start, end] 范围的大纲归入卷
func (r *OutlineRepository) AssignVolume(projectID string, start, end int, volumeID int64) (int64, error) {
	result := r.db.Model(&model.ChapterOutline{}).
		Where("project_id = ? AND chapter_number BETWEEN ? AND ?", projectID, start, end).
		Update("volume_id", volumeID)
	return result.RowsAffected, result.Error
}

type VolumeRepository struct {
	db *gorm.DB
}

func NewVolumeRepository(db *gorm.DB) *VolumeRepository {
	return &VolumeRepository{db: db}
}

func (r *VolumeRepository) Create(v *model.Volume) error {
	return r.db.Create(v).Error
}

// Last 卷号最大的卷，没有卷时返回 gorm.ErrRecordNotFound
func (r *VolumeRepository) Last(projectID string) (*model.Volume, error) {
	var v model.Volume
	err := r.db.Where("project_id = ?", projectID).Order("volume_number DESC").First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VolumeRepository) ListByProject(projectID string) ([]*model.Volume, error) {
	var vols []*model.Volume
	err := r.db.Where("project_id = ?", projectID).Order("volume_number ASC").Find(&vols).Error
	return vols, err
}
