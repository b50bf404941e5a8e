package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
)

// ErrVersionConflict 路由已被他人修改
var ErrVersionConflict = errors.New("配置已被修改，请刷新后重试")

type RouteRepository struct {
	db *gorm.DB
}

func NewRouteRepository(db *gorm.DB) *RouteRepository {
	return &RouteRepository{db: db}
}

func (r *RouteRepository) Create(route *model.AIFunctionRoute) error {
	if route.Version == 0 {
		route.Version = 1
	}
	return r.db.Create(route).Error
}

func (r *RouteRepository) GetByFunction(functionType string) (*model.AIFunctionRoute, error) {
	var route model.AIFunctionRoute
	err := r.db.Where("function_type = ?", functionType).First(&route).Error
	if err != nil {
		return nil, err
	}
	return &route, nil
}

func (r *RouteRepository) List() ([]*model.AIFunctionRoute, error) {
	var routes []*model.AIFunctionRoute
	err := r.db.Preload("PrimaryProvider").Order("function_type ASC").Find(&routes).Error
	return routes, err
}

// UpdateWithVersion 乐观锁更新：version 不匹配时不写入并返回 ErrVersionConflict。
// 成功时 route.Version 被推进，并在同一事务内写入变更历史。
func (r *RouteRepository) UpdateWithVersion(route *model.AIFunctionRoute, expectedVersion int, history *model.AIConfigHistory) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.AIFunctionRoute{}).
			Where("id = ? AND version = ?", route.ID, expectedVersion).
			Updates(map[string]interface{}{
				"display_name":        route.DisplayName,
				"description":         route.Description,
				"primary_provider_id": route.PrimaryProviderID,
				"primary_model":       route.PrimaryModel,
				"fallback_configs":    route.FallbackConfigs,
				"temperature":         route.Temperature,
				"timeout_seconds":     route.TimeoutSeconds,
				"max_retries":         route.MaxRetries,
				"async_mode":          route.AsyncMode,
				"required":            route.Required,
				"daily_quota":         route.DailyQuota,
				"cost_limit_daily":    route.CostLimitDaily,
				"enabled":             route.Enabled,
				"version":             gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}

		route.Version = expectedVersion + 1
		if history != nil {
			history.RouteID = route.ID
			history.FunctionType = route.FunctionType
			history.Version = route.Version
			if err := tx.Create(history).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RouteRepository) ListHistory(routeID int64, limit int) ([]*model.AIConfigHistory, error) {
	var items []*model.AIConfigHistory
	query := r.db.Where("route_id = ?", routeID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&items).Error
	return items, err
}
