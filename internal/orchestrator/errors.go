package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qs3c/novel_go_server/internal/pkg/llm"
)

// ErrorType 调用失败分类
type ErrorType string

const (
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeQuotaExceeded   ErrorType = "quota_exceeded"
	ErrorTypeInvalidResponse ErrorType = "invalid_response"
	ErrorTypeNetwork         ErrorType = "network_error"
	ErrorTypeAuth            ErrorType = "auth_error"
	ErrorTypeUnknown         ErrorType = "unknown_error"
	ErrorTypeConfiguration   ErrorType = "configuration_error"
)

var (
	// ErrConfiguration 功能未配置、已禁用或没有可用供应商，与 required 无关一律返回
	ErrConfiguration = errors.New("AI 功能未配置")
	// ErrQuotaExceeded 功能当日调用次数已用完
	ErrQuotaExceeded = errors.New("daily quota exceeded")

	errTruncated = errors.New("response truncated: finish_reason=length")
)

// CallError 单个候选的失败
type CallError struct {
	Function Function
	Type     ErrorType
	Provider string
	Model    string
	Err      error
}

func (e *CallError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %s: %v", e.Function, e.Type, e.Err)
	}
	return fmt.Sprintf("%s via %s/%s: %s: %v", e.Function, e.Provider, e.Model, e.Type, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// TypeOf 取出错误分类，非 CallError 按 Classify 处理
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrConfiguration) {
		return ErrorTypeConfiguration
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return Classify(err)
}

// Classify 先看类型化错误，再按错误文本匹配
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	var se *llm.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case 429:
			return ErrorTypeRateLimit
		case 401, 403:
			return ErrorTypeAuth
		case 402:
			return ErrorTypeQuotaExceeded
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, llm.ErrMissingAPIKey):
		return ErrorTypeAuth
	case errors.Is(err, ErrQuotaExceeded):
		return ErrorTypeQuotaExceeded
	case errors.Is(err, llm.ErrEmptyResponse), errors.Is(err, errTruncated):
		return ErrorTypeInvalidResponse
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "rate") || strings.Contains(msg, "limit"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "quota"):
		return ErrorTypeQuotaExceeded
	case strings.Contains(msg, "json") || strings.Contains(msg, "parse"):
		return ErrorTypeInvalidResponse
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return ErrorTypeNetwork
	case strings.Contains(msg, "auth") || strings.Contains(msg, "key"):
		return ErrorTypeAuth
	}
	return ErrorTypeUnknown
}
