package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/internal/api/middleware"
	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/model/dto"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/pkg/response"
	"github.com/qs3c/novel_go_server/internal/service"
)

type GeneratorHandler struct {
	generatorService *service.GeneratorService
	log              *zap.Logger
}

func NewGeneratorHandler(generatorService *service.GeneratorService, log *zap.Logger) *GeneratorHandler {
	return &GeneratorHandler{
		generatorService: generatorService,
		log:              logger.OrNop(log),
	}
}

// Create 创建自动生成任务
// POST /api/v1/auto-generator/jobs
func (h *GeneratorHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	job, err := h.generatorService.Create(userID, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessWithMessage(c, "创建成功", job)
}

// Start POST /api/v1/auto-generator/jobs/:id/start
func (h *GeneratorHandler) Start(c *gin.Context) {
	h.transition(c, "任务已启动", h.generatorService.Start)
}

// Pause POST /api/v1/auto-generator/jobs/:id/pause
func (h *GeneratorHandler) Pause(c *gin.Context) {
	h.transition(c, "任务已暂停", h.generatorService.Pause)
}

// Stop POST /api/v1/auto-generator/jobs/:id/stop
func (h *GeneratorHandler) Stop(c *gin.Context) {
	h.transition(c, "任务已停止", h.generatorService.Stop)
}

func (h *GeneratorHandler) transition(c *gin.Context, msg string, fn func(userID, jobID int64) (*model.AutoGeneratorJob, error)) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	jobID, ok := parseIDParam(c, "id", "无效的任务ID")
	if !ok {
		return
	}

	job, err := fn(userID, jobID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessWithMessage(c, msg, job)
}

// Get GET /api/v1/auto-generator/jobs/:id
func (h *GeneratorHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	jobID, ok := parseIDParam(c, "id", "无效的任务ID")
	if !ok {
		return
	}

	job, err := h.generatorService.Get(userID, jobID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, job)
}

// Logs 任务日志，最新在前
// GET /api/v1/auto-generator/jobs/:id/logs
func (h *GeneratorHandler) Logs(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	jobID, ok := parseIDParam(c, "id", "无效的任务ID")
	if !ok {
		return
	}

	var q dto.JobLogQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	logs, err := h.generatorService.Logs(userID, jobID, q.Limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, logs)
}

// ListByProject GET /api/v1/auto-generator/projects/:project_id/jobs
func (h *GeneratorHandler) ListByProject(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	jobs, err := h.generatorService.ListByProject(userID, c.Param("project_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, jobs)
}
