package model

import (
	"time"
)

const (
	ProviderStatusActive   = "active"
	ProviderStatusInactive = "inactive"

	CallStatusSuccess = "success"
	CallStatusFailed  = "failed"
)

// AIProvider AI 供应商
type AIProvider struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	Name               string    `gorm:"size:50;uniqueIndex;not null" json:"name"`
	DisplayName        string    `gorm:"size:100" json:"display_name"`
	BaseURL            string    `gorm:"size:500;not null" json:"base_url"`
	APIKeyEnv          string    `gorm:"size:100" json:"api_key_env"`
	Status             string    `gorm:"size:20;default:active;index" json:"status"`
	Priority           int       `gorm:"default:100" json:"priority"` // 越小越优先
	MaxConcurrent      int       `gorm:"default:10" json:"max_concurrent"`
	RateLimitPerMinute int       `gorm:"default:60" json:"rate_limit_per_minute"`
	TimeoutSeconds     int       `gorm:"default:300" json:"timeout_seconds"`
	CostPer1KTokens    float64   `gorm:"default:0" json:"cost_per_1k_tokens"`
	Metadata           JSONMap   `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (AIProvider) TableName() string {
	return "ai_providers"
}

func (p *AIProvider) IsActive() bool {
	return p.Status == ProviderStatusActive
}

// AIFunctionRoute 功能路由：一个逻辑功能 -> 主供应商 + 有序备用列表
type AIFunctionRoute struct {
	ID                int64           `gorm:"primaryKey" json:"id"`
	FunctionType      string          `gorm:"size:50;uniqueIndex;not null" json:"function_type"`
	DisplayName       string          `gorm:"size:100" json:"display_name"`
	Description       string          `gorm:"type:text" json:"description"`
	PrimaryProviderID int64           `gorm:"not null;index" json:"primary_provider_id"`
	PrimaryModel      string          `gorm:"size:100;not null" json:"primary_model"`
	FallbackConfigs   FallbackConfigs `gorm:"type:json" json:"fallback_configs"`
	Temperature       float64         `json:"temperature"`
	TimeoutSeconds    int             `json:"timeout_seconds"`
	MaxRetries        int             `json:"max_retries"`
	AsyncMode         bool            `json:"async_mode"`
	Required          bool            `json:"required"`
	DailyQuota        int             `gorm:"default:0" json:"daily_quota"` // 0 表示不限
	CostLimitDaily    float64         `gorm:"default:0" json:"cost_limit_daily"`
	Version           int             `gorm:"not null;default:1" json:"version"`
	Enabled           bool            `json:"enabled"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	PrimaryProvider *AIProvider `gorm:"foreignKey:PrimaryProviderID" json:"primary_provider,omitempty"`
}

func (AIFunctionRoute) TableName() string {
	return "ai_function_routes"
}

// AIConfigHistory 路由配置变更历史
type AIConfigHistory struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	RouteID      int64     `gorm:"not null;index" json:"route_id"`
	FunctionType string    `gorm:"size:50;index" json:"function_type"`
	OldValue     JSONMap   `gorm:"type:json" json:"old_value"`
	NewValue     JSONMap   `gorm:"type:json" json:"new_value"`
	ChangedBy    int64     `json:"changed_by"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func (AIConfigHistory) TableName() string {
	return "ai_config_history"
}

// AICallLog 单次调用尝试记录，只追加不修改
type AICallLog struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	FunctionType   string    `gorm:"size:50;index" json:"function_type"`
	ProviderID     int64     `gorm:"index" json:"provider_id"`
	ProviderName   string    `gorm:"size:50" json:"provider_name"`
	Model          string    `gorm:"size:100" json:"model"`
	UserID         int64     `gorm:"index" json:"user_id,omitempty"`
	ProjectID      string    `gorm:"size:36;index" json:"project_id,omitempty"`
	Temperature    float64   `json:"temperature"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	Status         string    `gorm:"size:20;index" json:"status"`
	IsFallback     bool      `gorm:"default:false" json:"is_fallback"`
	FallbackCount  int       `gorm:"default:0" json:"fallback_count"`
	DurationMs     int64     `json:"duration_ms"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	TotalTokens    int       `json:"total_tokens"`
	CostUSD        float64   `json:"cost_usd"`
	ErrorType      string    `gorm:"size:50" json:"error_type,omitempty"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message,omitempty"`
	FinishReason   string    `gorm:"size:50" json:"finish_reason,omitempty"`
	Metadata       JSONMap   `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (AICallLog) TableName() string {
	return "ai_function_call_logs"
}
