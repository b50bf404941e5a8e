package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
)

// CallLogFilter 调用日志查询条件，零值字段不参与过滤
type CallLogFilter struct {
	FunctionType string
	Status       string
	Start        *time.Time
	End          *time.Time
}

// CallStats 聚合统计
type CallStats struct {
	TotalCalls    int64                   `json:"total_calls"`
	SuccessCalls  int64                   `json:"success_calls"`
	SuccessRate   float64                 `json:"success_rate"`
	AvgDurationMs float64                 `json:"avg_duration_ms"`
	TotalCostUSD  float64                 `json:"total_cost_usd"`
	TotalTokens   int64                   `json:"total_tokens"`
	ByFunction    map[string]*BucketStats `json:"by_function"`
	ByProvider    map[string]*BucketStats `json:"by_provider"`
}

// BucketStats 分组统计
type BucketStats struct {
	Count         int64   `json:"count"`
	Success       int64   `json:"success"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	CostUSD       float64 `json:"cost_usd"`
}

type CallLogRepository struct {
	db *gorm.DB
}

func NewCallLogRepository(db *gorm.DB) *CallLogRepository {
	return &CallLogRepository{db: db}
}

func (r *CallLogRepository) Create(log *model.AICallLog) error {
	return r.db.Create(log).Error
}

func (r *CallLogRepository) apply(query *gorm.DB, f CallLogFilter) *gorm.DB {
	if f.FunctionType != "" {
		query = query.Where("function_type = ?", f.FunctionType)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Start != nil {
		query = query.Where("created_at >= ?", *f.Start)
	}
	if f.End != nil {
		query = query.Where("created_at < ?", *f.End)
	}
	return query
}

// List 分页查询，按时间倒序
func (r *CallLogRepository) List(f CallLogFilter, page, pageSize int) ([]*model.AICallLog, int64, error) {
	var logs []*model.AICallLog
	var total int64

	query := r.apply(r.db.Model(&model.AICallLog{}), f)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&logs).Error
	return logs, total, err
}

type statsRow struct {
	Bucket      string
	Count       int64
	Success     int64
	DurationSum float64
	Cost        float64
	Tokens      int64
}

const statsSelect = "COUNT(*) AS count, " +
	"COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0) AS success, " +
	"COALESCE(SUM(duration_ms), 0) AS duration_sum, " +
	"COALESCE(SUM(cost_usd), 0) AS cost, " +
	"COALESCE(SUM(total_tokens), 0) AS tokens"

// Stats 汇总统计，包含按功能与按供应商的分组
func (r *CallLogRepository) Stats(f CallLogFilter) (*CallStats, error) {
	stats := &CallStats{
		ByFunction: make(map[string]*BucketStats),
		ByProvider: make(map[string]*BucketStats),
	}

	var total statsRow
	if err := r.apply(r.db.Model(&model.AICallLog{}), f).Select(statsSelect).Scan(&total).Error; err != nil {
		return nil, err
	}
	stats.TotalCalls = total.Count
	stats.SuccessCalls = total.Success
	stats.TotalCostUSD = total.Cost
	stats.TotalTokens = total.Tokens
	if total.Count > 0 {
		stats.SuccessRate = float64(total.Success) / float64(total.Count)
		stats.AvgDurationMs = total.DurationSum / float64(total.Count)
	}

	if err := r.grouped(f, "function_type", stats.ByFunction); err != nil {
		return nil, err
	}
	if err := r.grouped(f, "provider_name", stats.ByProvider); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *CallLogRepository) grouped(f CallLogFilter, column string, out map[string]*BucketStats) error {
	var rows []statsRow
	err := r.apply(r.db.Model(&model.AICallLog{}), f).
		Select(column + " AS bucket, " + statsSelect).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		b := &BucketStats{Count: row.Count, Success: row.Success, CostUSD: row.Cost}
		if row.Count > 0 {
			b.AvgDurationMs = row.DurationSum / float64(row.Count)
		}
		out[row.Bucket] = b
	}
	return nil
}

// CountOlderThan 统计 before 之前的日志数量，status 为空表示全部
func (r *CallLogRepository) CountOlderThan(before time.Time, status string) (int64, error) {
	var count int64
	query := r.db.Model(&model.AICallLog{}).Where("created_at < ?", before)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Count(&count).Error
	return count, err
}

// DeleteOlderThan 删除 before 之前的日志
func (r *CallLogRepository) DeleteOlderThan(before time.Time, status string) (int64, error) {
	query := r.db.Where("created_at < ?", before)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	result := query.Delete(&model.AICallLog{})
	return result.RowsAffected, result.Error
}

// CountByStatus 按状态统计全部日志
func (r *CallLogRepository) CountByStatus() (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.Model(&model.AICallLog{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// Oldest 最早一条日志的时间
func (r *CallLogRepository) Oldest() (*time.Time, error) {
	var log model.AICallLog
	err := r.db.Order("created_at ASC").First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log.CreatedAt, nil
}
