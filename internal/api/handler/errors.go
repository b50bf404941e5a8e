package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/internal/pkg/response"
	"github.com/qs3c/novel_go_server/internal/repository"
	"github.com/qs3c/novel_go_server/internal/service"
)

// respondError 业务错误映射为统一错误码，未知错误只记录日志不外泄
func respondError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrAnalysisTaskNotFound),
		errors.Is(err, service.ErrNotificationNotFound),
		errors.Is(err, service.ErrProviderNotFound),
		errors.Is(err, service.ErrRouteNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrProjectPermission),
		errors.Is(err, service.ErrJobPermission):
		response.PermissionError(c, err.Error())
	case errors.Is(err, service.ErrJobAlreadyActive),
		errors.Is(err, service.ErrJobAlreadyRunning),
		errors.Is(err, service.ErrProviderExists):
		response.DuplicateError(c, err.Error())
	case errors.Is(err, service.ErrRouteVersionConflict),
		errors.Is(err, repository.ErrVersionConflict):
		response.VersionConflictError(c, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrAnalysisNotCancellable),
		errors.Is(err, service.ErrAnalysisNotRetryable),
		errors.Is(err, service.ErrAnalysisRetryExhausted):
		response.InvalidStateError(c, err.Error())
	case errors.Is(err, service.ErrInvalidRouteConfig),
		errors.Is(err, service.ErrInvalidSplitConfig),
		errors.Is(err, service.ErrInvalidTimeRange):
		response.ParamError(c, err.Error())
	default:
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		response.ServerError(c, "")
	}
}

func parseIDParam(c *gin.Context, name, msg string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, msg)
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def, maxLimit int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit < 1 || limit > maxLimit {
		return def
	}
	return limit
}
