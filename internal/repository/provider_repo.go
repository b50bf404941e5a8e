package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
)

type ProviderRepository struct {
	db *gorm.DB
}

func NewProviderRepository(db *gorm.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

func (r *ProviderRepository) Create(p *model.AIProvider) error {
	return r.db.Create(p).Error
}

func (r *ProviderRepository) GetByID(id int64) (*model.AIProvider, error) {
	var p model.AIProvider
	err := r.db.Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProviderRepository) GetByName(name string) (*model.AIProvider, error) {
	var p model.AIProvider
	err := r.db.Where("name = ?", name).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List 按优先级排序，activeOnly 时过滤停用的供应商
func (r *ProviderRepository) List(activeOnly bool) ([]*model.AIProvider, error) {
	var providers []*model.AIProvider
	query := r.db.Model(&model.AIProvider{})
	if activeOnly {
		query = query.Where("status = ?", model.ProviderStatusActive)
	}
	err := query.Order("priority ASC, id ASC").Find(&providers).Error
	return providers, err
}

// GetByIDs 批量获取，结果以 ID 为键
func (r *ProviderRepository) GetByIDs(ids []int64) (map[int64]*model.AIProvider, error) {
	result := make(map[int64]*model.AIProvider, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var providers []*model.AIProvider
	if err := r.db.Where("id IN ?", ids).Find(&providers).Error; err != nil {
		return nil, err
	}
	for _, p := range providers {
		result[p.ID] = p
	}
	return result, nil
}

func (r *ProviderRepository) Update(p *model.AIProvider) error {
	return r.db.Save(p).Error
}

// SoftDelete 停用供应商，不物理删除
func (r *ProviderRepository) SoftDelete(id int64) error {
	result := r.db.Model(&model.AIProvider{}).Where("id = ?", id).Update("status", model.ProviderStatusInactive)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
