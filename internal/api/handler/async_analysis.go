package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/internal/api/middleware"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/pkg/response"
	"github.com/qs3c/novel_go_server/internal/service"
)

type AsyncAnalysisHandler struct {
	asyncService *service.AsyncAnalysisService
	log          *zap.Logger
}

func NewAsyncAnalysisHandler(asyncService *service.AsyncAnalysisService, log *zap.Logger) *AsyncAnalysisHandler {
	return &AsyncAnalysisHandler{
		asyncService: asyncService,
		log:          logger.OrNop(log),
	}
}

// Status 分析任务概览
// GET /api/v1/async-analysis/status?project_id=
func (h *AsyncAnalysisHandler) Status(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	status, err := h.asyncService.Status(userID, c.Query("project_id"), queryLimit(c, 10, 50))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, status)
}

// ListTasks GET /api/v1/async-analysis/tasks?status=&project_id=&limit=
func (h *AsyncAnalysisHandler) ListTasks(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	tasks, err := h.asyncService.ListTasks(userID, c.Query("project_id"), c.Query("status"), queryLimit(c, 50, 200))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, tasks)
}

// GetTask GET /api/v1/async-analysis/tasks/:id
func (h *AsyncAnalysisHandler) GetTask(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	id, ok := parseIDParam(c, "id", "无效的任务ID")
	if !ok {
		return
	}

	task, err := h.asyncService.GetTask(userID, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, task)
}

// LatestForChapter 章节最近一次分析
// GET /api/v1/async-analysis/chapters/:chapter_id/latest
func (h *AsyncAnalysisHandler) LatestForChapter(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	chapterID, ok := parseIDParam(c, "chapter_id", "无效的章节ID")
	if !ok {
		return
	}

	task, err := h.asyncService.LatestForChapter(userID, chapterID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, task)
}

// Cancel POST /api/v1/async-analysis/tasks/:id/cancel
func (h *AsyncAnalysisHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	id, ok := parseIDParam(c, "id", "无效的任务ID")
	if !ok {
		return
	}

	if err := h.asyncService.Cancel(userID, id); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessWithMessage(c, "任务已取消", nil)
}

// Retry POST /api/v1/async-analysis/tasks/:id/retry
func (h *AsyncAnalysisHandler) Retry(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	id, ok := parseIDParam(c, "id", "无效的任务ID")
	if !ok {
		return
	}

	if err := h.asyncService.Retry(c.Request.Context(), userID, id); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessWithMessage(c, "任务已重新加入队列", nil)
}

// ListNotifications GET /api/v1/async-analysis/notifications?unread_only=&limit=
func (h *AsyncAnalysisHandler) ListNotifications(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	unreadOnly := c.Query("unread_only") == "true"
	items, err := h.asyncService.ListNotifications(userID, unreadOnly, queryLimit(c, 20, 100))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, items)
}

// MarkRead POST /api/v1/async-analysis/notifications/:id/read
func (h *AsyncAnalysisHandler) MarkRead(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	id, ok := parseIDParam(c, "id", "无效的通知ID")
	if !ok {
		return
	}

	if err := h.asyncService.MarkNotificationRead(userID, id); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, nil)
}

// MarkAllRead POST /api/v1/async-analysis/notifications/read-all
func (h *AsyncAnalysisHandler) MarkAllRead(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	resp, err := h.asyncService.MarkAllNotificationsRead(userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, resp)
}
