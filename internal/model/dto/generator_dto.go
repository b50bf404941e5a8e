package dto

// CreateJobRequest 创建自动生成任务
type CreateJobRequest struct {
	ProjectID         string                 `json:"project_id" binding:"required,max=36"`
	TargetChapters    *int                   `json:"target_chapters,omitempty" binding:"omitempty,min=1"`
	ChaptersPerBatch  int                    `json:"chapters_per_batch,omitempty" binding:"omitempty,min=1,max=10"`
	IntervalSeconds   *int                   `json:"interval_seconds,omitempty" binding:"omitempty,min=0,max=86400"`
	AutoSelectVersion *bool                  `json:"auto_select_version,omitempty"`
	GenerationConfig  map[string]interface{} `json:"generation_config,omitempty"`
}

// JobLogQuery 任务日志查询
type JobLogQuery struct {
	Limit int `form:"limit,default=100" binding:"min=1,max=500"`
}
