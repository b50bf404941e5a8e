package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 业务错误码。HTTP 状态码始终为 200，调用方按 code 判断结果。
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeRateLimited      = 1004
	CodeDuplicateAction  = 1005
	CodeVersionConflict  = 1006 // 路由配置乐观锁
	CodeInvalidState     = 1007 // 任务或分析状态不允许该操作
	CodeServerError      = 5000
)

var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodePermissionDenied: "无权操作该资源",
	CodeResourceNotFound: "资源不存在",
	CodeRateLimited:      "请求过于频繁，请稍后再试",
	CodeDuplicateAction:  "已存在进行中的操作",
	CodeVersionConflict:  "配置已被其他人修改，请刷新后重试",
	CodeInvalidState:     "当前状态不允许该操作",
	CodeServerError:      "服务器内部错误",
}

// Message 错误码的默认提示
func Message(code int) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return "未知错误"
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据，items 为空时输出 []
type PageData[T any] struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Items    []T   `json:"items"`
}

func Success(c *gin.Context, data interface{}) {
	SuccessWithMessage(c, codeMessages[CodeSuccess], data)
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

func SuccessPage[T any](c *gin.Context, total int64, page, pageSize int, items []T) {
	if items == nil {
		items = []T{}
	}
	Success(c, PageData[T]{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Items:    items,
	})
}

// Error message 为空时使用错误码的默认提示
func Error(c *gin.Context, code int, message string) {
	if message == "" {
		message = Message(code)
	}
	c.JSON(http.StatusOK, Response{Code: code, Message: message})
}

// Abort 中间件拒绝请求时使用，后续 handler 不再执行
func Abort(c *gin.Context, code int, message string) {
	Error(c, code, message)
	c.Abort()
}

func ParamError(c *gin.Context, message string)      { Error(c, CodeParamError, message) }
func AuthError(c *gin.Context, message string)       { Error(c, CodeAuthFailed, message) }
func PermissionError(c *gin.Context, message string) { Error(c, CodePermissionDenied, message) }
func NotFoundError(c *gin.Context, message string)   { Error(c, CodeResourceNotFound, message) }
func RateLimitError(c *gin.Context, message string)  { Error(c, CodeRateLimited, message) }
func DuplicateError(c *gin.Context, message string)  { Error(c, CodeDuplicateAction, message) }

func VersionConflictError(c *gin.Context, message string) { Error(c, CodeVersionConflict, message) }
func InvalidStateError(c *gin.Context, message string)    { Error(c, CodeInvalidState, message) }
func ServerError(c *gin.Context, message string)          { Error(c, CodeServerError, message) }
