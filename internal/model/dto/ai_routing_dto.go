package dto

import "github.com/qs3c/novel_go_server/internal/model"

// CreateProviderRequest 新增供应商
type CreateProviderRequest struct {
	Name               string                 `json:"name" binding:"required,max=50"`
	DisplayName        string                 `json:"display_name" binding:"omitempty,max=100"`
	BaseURL            string                 `json:"base_url" binding:"required,url,max=500"`
	APIKeyEnv          string                 `json:"api_key_env" binding:"omitempty,max=100"`
	Priority           *int                   `json:"priority,omitempty" binding:"omitempty,min=0"`
	MaxConcurrent      int                    `json:"max_concurrent,omitempty" binding:"omitempty,min=1,max=1000"`
	RateLimitPerMinute int                    `json:"rate_limit_per_minute,omitempty" binding:"omitempty,min=1"`
	TimeoutSeconds     int                    `json:"timeout_seconds,omitempty" binding:"omitempty,min=1,max=3600"`
	CostPer1KTokens    float64                `json:"cost_per_1k_tokens,omitempty" binding:"omitempty,min=0"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateProviderRequest 修改供应商，nil 字段不变
type UpdateProviderRequest struct {
	DisplayName        *string                `json:"display_name,omitempty" binding:"omitempty,max=100"`
	BaseURL            *string                `json:"base_url,omitempty" binding:"omitempty,url,max=500"`
	APIKeyEnv          *string                `json:"api_key_env,omitempty" binding:"omitempty,max=100"`
	Status             *string                `json:"status,omitempty" binding:"omitempty,oneof=active inactive"`
	Priority           *int                   `json:"priority,omitempty" binding:"omitempty,min=0"`
	MaxConcurrent      *int                   `json:"max_concurrent,omitempty" binding:"omitempty,min=1,max=1000"`
	RateLimitPerMinute *int                   `json:"rate_limit_per_minute,omitempty" binding:"omitempty,min=1"`
	TimeoutSeconds     *int                   `json:"timeout_seconds,omitempty" binding:"omitempty,min=1,max=3600"`
	CostPer1KTokens    *float64               `json:"cost_per_1k_tokens,omitempty" binding:"omitempty,min=0"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateRouteRequest 修改功能路由，version 必须等于当前版本
type UpdateRouteRequest struct {
	Version           int                     `json:"version" binding:"required,min=1"`
	DisplayName       *string                 `json:"display_name,omitempty" binding:"omitempty,max=100"`
	Description       *string                 `json:"description,omitempty"`
	PrimaryProviderID *int64                  `json:"primary_provider_id,omitempty"`
	PrimaryModel      *string                 `json:"primary_model,omitempty" binding:"omitempty,max=100"`
	FallbackConfigs   *[]model.FallbackConfig `json:"fallback_configs,omitempty"`
	Temperature       *float64                `json:"temperature,omitempty" binding:"omitempty,min=0,max=2"`
	TimeoutSeconds    *int                    `json:"timeout_seconds,omitempty" binding:"omitempty,min=1,max=3600"`
	MaxRetries        *int                    `json:"max_retries,omitempty" binding:"omitempty,min=0,max=10"`
	AsyncMode         *bool                   `json:"async_mode,omitempty"`
	Required          *bool                   `json:"required,omitempty"`
	DailyQuota        *int                    `json:"daily_quota,omitempty" binding:"omitempty,min=0"`
	CostLimitDaily    *float64                `json:"cost_limit_daily,omitempty" binding:"omitempty,min=0"`
	Enabled           *bool                   `json:"enabled,omitempty"`
}

// CallLogQuery 调用日志查询参数
type CallLogQuery struct {
	FunctionType string `form:"function_type"`
	Status       string `form:"status" binding:"omitempty,oneof=success failed"`
	Start        string `form:"start"` // RFC3339 或 2006-01-02
	End          string `form:"end"`
	Page         int    `form:"page,default=1" binding:"min=1"`
	PageSize     int    `form:"page_size,default=20" binding:"min=1,max=200"`
}

// CallLogListResponse 调用日志分页
type CallLogListResponse struct {
	Logs     []*model.AICallLog `json:"logs"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

// ProviderHealth 供应商可用性
type ProviderHealth struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	Status               string `json:"status"`
	CredentialConfigured bool   `json:"credential_configured"`
}

// RouteHealth 路由可用性
type RouteHealth struct {
	FunctionType      string `json:"function_type"`
	Enabled           bool   `json:"enabled"`
	Required          bool   `json:"required"`
	ActiveCandidates  int    `json:"active_candidates"`
	InFlight          int64  `json:"in_flight"`
	PrimaryModel      string `json:"primary_model"`
	PrimaryProviderID int64  `json:"primary_provider_id"`
}

// RoutingHealthResponse 路由健康检查
type RoutingHealthResponse struct {
	Status    string            `json:"status"` // healthy, degraded
	Providers []*ProviderHealth `json:"providers"`
	Routes    []*RouteHealth    `json:"routes"`
}
