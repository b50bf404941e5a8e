package repository

import (
	"database/sql"

	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
)

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(p *model.Project) error {
	return r.db.Create(p).Error
}

func (r *ProjectRepository) GetByID(id string) (*model.Project, error) {
	var p model.Project
	err := r.db.Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateWorldSetting 覆盖世界观
func (r *ProjectRepository) UpdateWorldSetting(id string, ws model.JSONMap) error {
	return r.db.Model(&model.Project{}).Where("id = ?", id).Update("world_setting", ws).Error
}

// UpdateGenerationConfig 覆盖生成配置
func (r *ProjectRepository) UpdateGenerationConfig(id string, cfg model.JSONMap) error {
	return r.db.Model(&model.Project{}).Where("id = ?", id).Update("generation_config", cfg).Error
}

type CharacterRepository struct {
	db *gorm.DB
}

func NewCharacterRepository(db *gorm.DB) *CharacterRepository {
	return &CharacterRepository{db: db}
}

func (r *CharacterRepository) ListByProject(projectID string) ([]*model.Character, error) {
	var chars []*model.Character
	err := r.db.Where("project_id = ?", projectID).Order("position ASC, id ASC").Find(&chars).Error
	return chars, err
}

func (r *CharacterRepository) Create(c *model.Character) error {
	return r.db.Create(c).Error
}

func (r *CharacterRepository) Update(c *model.Character) error {
	return r.db.Save(c).Error
}

// MaxPosition 当前最大排序位置，无角色时返回 -1
func (r *CharacterRepository) MaxPosition(projectID string) (int, error) {
	var max sql.NullInt64
	err := r.db.Model(&model.Character{}).
		Where("project_id = ?", projectID).
		Select("MAX(position)").
		Row().Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}
