package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/internal/api/middleware"
	"github.com/qs3c/novel_go_server/internal/model/dto"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/pkg/response"
	"github.com/qs3c/novel_go_server/internal/service"
)

type AIRoutingHandler struct {
	routingService *service.RoutingService
	log            *zap.Logger
}

func NewAIRoutingHandler(routingService *service.RoutingService, log *zap.Logger) *AIRoutingHandler {
	return &AIRoutingHandler{
		routingService: routingService,
		log:            logger.OrNop(log),
	}
}

// ListProviders 供应商列表
// GET /api/v1/ai-routing/providers
func (h *AIRoutingHandler) ListProviders(c *gin.Context) {
	providers, err := h.routingService.ListProviders()
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, providers)
}

// CreateProvider 新增供应商
// POST /api/v1/ai-routing/providers
func (h *AIRoutingHandler) CreateProvider(c *gin.Context) {
	var req dto.CreateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	provider, err := h.routingService.CreateProvider(&req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessWithMessage(c, "创建成功", provider)
}

// UpdateProvider 修改供应商
// PUT /api/v1/ai-routing/providers/:id
func (h *AIRoutingHandler) UpdateProvider(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "无效的供应商ID")
	if !ok {
		return
	}

	var req dto.UpdateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	provider, err := h.routingService.UpdateProvider(id, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessWithMessage(c, "更新成功", provider)
}

// DeleteProvider 停用供应商
// DELETE /api/v1/ai-routing/providers/:id
func (h *AIRoutingHandler) DeleteProvider(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "无效的供应商ID")
	if !ok {
		return
	}

	if err := h.routingService.DeleteProvider(id); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessWithMessage(c, "已停用", nil)
}

// ListRoutes GET /api/v1/ai-routing/routes
func (h *AIRoutingHandler) ListRoutes(c *gin.Context) {
	routes, err := h.routingService.ListRoutes()
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, routes)
}

// GetRoute GET /api/v1/ai-routing/routes/:function_type
func (h *AIRoutingHandler) GetRoute(c *gin.Context) {
	route, err := h.routingService.GetRoute(c.Param("function_type"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, route)
}

// UpdateRoute 修改功能路由，请求中的 version 与当前不一致时返回冲突
// PATCH /api/v1/ai-routing/routes/:function_type
func (h *AIRoutingHandler) UpdateRoute(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.UpdateRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	route, err := h.routingService.UpdateRoute(userID, c.Param("function_type"), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessWithMessage(c, "更新成功", route)
}

// RouteHistory GET /api/v1/ai-routing/routes/:function_type/history
func (h *AIRoutingHandler) RouteHistory(c *gin.Context) {
	history, err := h.routingService.RouteHistory(c.Param("function_type"), queryLimit(c, 50, 200))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, history)
}

// ListLogs 调用日志
// GET /api/v1/ai-routing/logs
func (h *AIRoutingHandler) ListLogs(c *gin.Context) {
	var q dto.CallLogQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.routingService.ListLogs(&q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.SuccessPage(c, resp.Total, resp.Page, resp.PageSize, resp.Logs)
}

// Stats GET /api/v1/ai-routing/stats
func (h *AIRoutingHandler) Stats(c *gin.Context) {
	stats, err := h.routingService.Stats(c.Query("function_type"), c.Query("start"), c.Query("end"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, stats)
}

// Health GET /api/v1/ai-routing/health
func (h *AIRoutingHandler) Health(c *gin.Context) {
	health, err := h.routingService.Health()
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, health)
}
