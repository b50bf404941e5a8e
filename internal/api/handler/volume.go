package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/internal/api/middleware"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/pkg/response"
	"github.com/qs3c/novel_go_server/internal/service"
)

type VolumeHandler struct {
	metricsService *service.StoryMetricsService
	splitService   *service.VolumeSplitService
	log            *zap.Logger
}

func NewVolumeHandler(metricsService *service.StoryMetricsService, splitService *service.VolumeSplitService, log *zap.Logger) *VolumeHandler {
	return &VolumeHandler{
		metricsService: metricsService,
		splitService:   splitService,
		log:            logger.OrNop(log),
	}
}

// StoryMetrics 项目章节指标
// GET /api/v1/projects/:project_id/story-metrics
func (h *VolumeHandler) StoryMetrics(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	metrics, err := h.metricsService.ListByProject(userID, c.Param("project_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, metrics)
}

// AutoSplit 手动触发分卷评估，不满足条件时 data.volume 为 null
// POST /api/v1/projects/:project_id/auto-split
func (h *VolumeHandler) AutoSplit(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	volume, err := h.splitService.TriggerSplit(c.Request.Context(), userID, c.Param("project_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, gin.H{"split": volume != nil, "volume": volume})
}

// GetSplitConfig GET /api/v1/projects/:project_id/split-config
func (h *VolumeHandler) GetSplitConfig(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	cfg, err := h.splitService.GetConfig(userID, c.Param("project_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, cfg)
}

// UpdateSplitConfig 未提交的字段沿用当前配置
// PUT /api/v1/projects/:project_id/split-config
func (h *VolumeHandler) UpdateSplitConfig(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	projectID := c.Param("project_id")

	cfg, err := h.splitService.GetConfig(userID, projectID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if err := c.ShouldBindJSON(cfg); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	updated, err := h.splitService.UpdateConfig(userID, projectID, *cfg)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessWithMessage(c, "更新成功", updated)
}

// ListVolumes GET /api/v1/projects/:project_id/volumes
func (h *VolumeHandler) ListVolumes(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	volumes, err := h.splitService.ListVolumes(userID, c.Param("project_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, volumes)
}
