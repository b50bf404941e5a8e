package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/pkg/llm"
)

// ScriptedReply 一次预设回复
type ScriptedReply struct {
	Content      string
	FinishReason string
	Err          error
	Tokens       int
}

// Reply 正常文本回复
func Reply(content string) ScriptedReply {
	return ScriptedReply{Content: content, FinishReason: llm.FinishReasonStop, Tokens: 100}
}

// ReplyJSON 把 v 序列化为回复
func ReplyJSON(v interface{}) ScriptedReply {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Reply(string(b))
}

// Fail 返回错误
func Fail(err error) ScriptedReply {
	return ScriptedReply{Err: err}
}

// ScriptedLLM 按模型名回放预设回复的 llm.Client，脚本用完后重复最后一条
type ScriptedLLM struct {
	mu       sync.Mutex
	scripts  map[string][]ScriptedReply
	calls    map[string]int
	requests []llm.ChatRequest

	// Fallback 没有脚本的模型走这里
	Fallback func(req *llm.ChatRequest) (*llm.ChatResult, error)
}

func NewScriptedLLM() *ScriptedLLM {
	return &ScriptedLLM{
		scripts: make(map[string][]ScriptedReply),
		calls:   make(map[string]int),
	}
}

// On 为模型设置回复序列
func (s *ScriptedLLM) On(modelName string, replies ...ScriptedReply) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[modelName] = replies
	return s
}

func (s *ScriptedLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.requests = append(s.requests, *req)
	idx := s.calls[req.Model]
	s.calls[req.Model]++
	script := s.scripts[req.Model]
	fallback := s.Fallback
	s.mu.Unlock()

	if len(script) == 0 {
		if fallback != nil {
			return fallback(req)
		}
		return nil, fmt.Errorf("no script for model %s", req.Model)
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	r := script[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.ChatResult{
		Content:          r.Content,
		FinishReason:     r.FinishReason,
		PromptTokens:     r.Tokens / 2,
		CompletionTokens: r.Tokens - r.Tokens/2,
		TotalTokens:      r.Tokens,
		Model:            req.Model,
	}, nil
}

// Calls 某模型被调用的次数
func (s *ScriptedLLM) Calls(modelName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[modelName]
}

// Requests 所有收到的请求副本
func (s *ScriptedLLM) Requests() []llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.ChatRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Registry 所有供应商都返回本客户端，凭证总是存在
func (s *ScriptedLLM) Registry() *llm.Registry {
	return llm.NewRegistry(
		llm.WithClientFactory(func(p *model.AIProvider, apiKey string) llm.Client { return s }),
		llm.WithKeyLookup(func(string) (string, bool) { return "test-key", true }),
	)
}
