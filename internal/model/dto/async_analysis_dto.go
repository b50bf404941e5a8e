package dto

// PendingAnalysisItem 分析任务
type PendingAnalysisItem struct {
	ID              int64                  `json:"id"`
	ChapterID       int64                  `json:"chapter_id"`
	ChapterNumber   int                    `json:"chapter_number"`
	ProjectID       string                 `json:"project_id"`
	Status          string                 `json:"status"`
	Priority        int                    `json:"priority"`
	RetryCount      int                    `json:"retry_count"`
	MaxRetries      int                    `json:"max_retries"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ErrorType       string                 `json:"error_type,omitempty"`
	TokenUsage      int                    `json:"token_usage"`
	DurationSeconds *int                   `json:"duration_seconds,omitempty"`
	Result          map[string]interface{} `json:"result,omitempty"`
	CreatedAt       string                 `json:"created_at"`
	StartedAt       string                 `json:"started_at,omitempty"`
	CompletedAt     string                 `json:"completed_at,omitempty"`
}

// AnalysisStatusResponse 项目分析状态概览
type AnalysisStatusResponse struct {
	Total       int64                  `json:"total"`
	Pending     int64                  `json:"pending"`
	Processing  int64                  `json:"processing"`
	Completed   int64                  `json:"completed"`
	Failed      int64                  `json:"failed"`
	Cancelled   int64                  `json:"cancelled"`
	UnreadCount int64                  `json:"unread_count"`
	RecentTasks []*PendingAnalysisItem `json:"recent_tasks"`
}

// NotificationItem 分析通知
type NotificationItem struct {
	ID                int64                  `json:"id"`
	PendingAnalysisID int64                  `json:"pending_analysis_id"`
	ChapterID         int64                  `json:"chapter_id"`
	ChapterNumber     int                    `json:"chapter_number"`
	Type              string                 `json:"notification_type"`
	Title             string                 `json:"title"`
	Message           string                 `json:"message,omitempty"`
	Data              map[string]interface{} `json:"data,omitempty"`
	IsRead            bool                   `json:"is_read"`
	CreatedAt         string                 `json:"created_at"`
	ReadAt            string                 `json:"read_at,omitempty"`
}

// MarkAllReadResponse 批量标记已读
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}
