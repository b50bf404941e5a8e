package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	FinishReasonStop   = "stop"
	FinishReasonLength = "length"
)

var (
	ErrMissingAPIKey = errors.New("provider api key not configured")
	ErrEmptyResponse = errors.New("empty response from provider")
)

// Client 对接 OpenAI 兼容的 chat completion 接口
type Client interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)
}

// Message 对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 单次请求
type ChatRequest struct {
	Model        string
	Messages     []Message
	Temperature  float64
	Timeout      time.Duration
	JSONResponse bool
}

// ChatResult 请求结果，只保留编排层需要的字段
type ChatResult struct {
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// StatusError 供应商返回的非 2xx 响应
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

// NewMessages 构造 system + user 两条消息
func NewMessages(systemPrompt, userPrompt string) []Message {
	msgs := make([]Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(msgs, Message{Role: RoleUser, Content: userPrompt})
}
