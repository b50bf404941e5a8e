package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/pkg/llm"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/repository"
)

const (
	maxErrorMessageRunes = 500
	maxBackoff           = 30 * time.Second
	defaultTimeout       = 300 * time.Second
	quotaKeyTTL          = 48 * time.Hour
)

// Result 一次 Execute 的结果
type Result struct {
	Content     string
	Provider    string
	Model       string
	TotalTokens int
	IsFallback  bool
	// UsedDefault 非必需功能全部失败后返回了默认内容
	UsedDefault bool
}

type callOptions struct {
	userID       int64
	projectID    string
	temperature  *float64
	timeout      time.Duration
	jsonResponse bool
	metadata     map[string]interface{}
}

// Option 单次调用的覆盖参数
type Option func(*callOptions)

func WithUser(userID int64) Option {
	return func(o *callOptions) { o.userID = userID }
}

func WithProject(projectID string) Option {
	return func(o *callOptions) { o.projectID = projectID }
}

func WithTemperature(t float64) Option {
	return func(o *callOptions) { o.temperature = &t }
}

func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) { o.timeout = d }
}

// WithJSONResponse 要求供应商返回 JSON 对象
func WithJSONResponse() Option {
	return func(o *callOptions) { o.jsonResponse = true }
}

// WithMetadata 附加到调用日志 metadata
func WithMetadata(md map[string]interface{}) Option {
	return func(o *callOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]interface{}, len(md))
		}
		for k, v := range md {
			o.metadata[k] = v
		}
	}
}

type candidate struct {
	provider *model.AIProvider
	model    string
	ordinal  int
}

// Orchestrator 按功能路由调用模型：主供应商重试，失败后依次尝试备用
type Orchestrator struct {
	db       *gorm.DB
	rdb      *redis.Client
	registry *llm.Registry
	logger   *zap.Logger
	backoff  func(retryIndex int) time.Duration

	mu       sync.Mutex
	inFlight map[Function]int64
}

// New 创建编排器，rdb 为 nil 时不做每日配额限制
func New(db *gorm.DB, rdb *redis.Client, registry *llm.Registry, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		db:       db,
		rdb:      rdb,
		registry: registry,
		logger:   logger.OrNop(log),
		backoff:  ExponentialBackoff,
		inFlight: make(map[Function]int64),
	}
}

// ExponentialBackoff min(2^i, 30) 秒
func ExponentialBackoff(retryIndex int) time.Duration {
	if retryIndex < 0 {
		retryIndex = 0
	}
	if retryIndex >= 5 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(retryIndex)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// SetBackoff 替换重试间隔
func (o *Orchestrator) SetBackoff(f func(retryIndex int) time.Duration) {
	o.backoff = f
}

// Registry 供应商客户端注册表
func (o *Orchestrator) Registry() *llm.Registry {
	return o.registry
}

// InFlight 功能当前进行中的调用数
func (o *Orchestrator) InFlight(fn Function) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight[fn]
}

// InFlightSnapshot 所有功能的进行中调用数
func (o *Orchestrator) InFlightSnapshot() map[Function]int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[Function]int64, len(o.inFlight))
	for k, v := range o.inFlight {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) track(fn Function, delta int64) {
	o.mu.Lock()
	o.inFlight[fn] += delta
	o.mu.Unlock()
}

// Execute 调用功能并返回文本
func (o *Orchestrator) Execute(ctx context.Context, fn Function, systemPrompt, userPrompt string, opts ...Option) (string, error) {
	res, err := o.Call(ctx, fn, systemPrompt, userPrompt, opts...)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// ExecuteBatch 顺序执行多个提示词。必需功能遇到错误立即返回，
// 非必需功能的失败项由默认内容代替
func (o *Orchestrator) ExecuteBatch(ctx context.Context, fn Function, systemPrompt string, prompts []string, opts ...Option) ([]string, error) {
	results := make([]string, 0, len(prompts))
	for _, p := range prompts {
		content, err := o.Execute(ctx, fn, systemPrompt, p, opts...)
		if err != nil {
			return results, err
		}
		results = append(results, content)
	}
	return results, nil
}

// Call 与 Execute 相同，额外返回供应商和 token 信息
func (o *Orchestrator) Call(ctx context.Context, fn Function, systemPrompt, userPrompt string, opts ...Option) (*Result, error) {
	o.track(fn, 1)
	defer o.track(fn, -1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	co := &callOptions{}
	for _, opt := range opts {
		opt(co)
	}

	route, err := repository.NewRouteRepository(o.db).GetByFunction(string(fn))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConfiguration, fn)
		}
		return nil, err
	}
	if !route.Enabled {
		return nil, fmt.Errorf("%w: %s 已禁用", ErrConfiguration, fn)
	}

	candidates, err := o.candidates(route)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s 没有可用供应商", ErrConfiguration, fn)
	}

	if err := o.checkQuota(ctx, route); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			o.logger.Warn("daily quota exceeded",
				zap.String("function", string(fn)),
				zap.Int("quota", route.DailyQuota))
			return o.exhausted(fn, route, &CallError{Function: fn, Type: ErrorTypeQuotaExceeded, Err: err})
		}
		o.logger.Warn("quota check failed, continuing", zap.String("function", string(fn)), zap.Error(err))
	}

	req := o.buildRequest(route, candidates[0], co, systemPrompt, userPrompt)
	traceID := uuid.NewString()

	var lastErr error
	for _, cand := range candidates {
		attempts := 1
		if cand.ordinal == 0 && route.MaxRetries > 1 {
			attempts = route.MaxRetries
		}

		var res *Result
		attemptIndex := 0
		err := retry.Do(
			func() error {
				r, err := o.attempt(ctx, fn, route, cand, co, req, traceID, attemptIndex)
				attemptIndex++
				if err != nil {
					return err
				}
				res = r
				return nil
			},
			retry.Context(ctx),
			retry.Attempts(uint(attempts)),
			retry.DelayType(func(_ uint, _ error, _ *retry.Config) time.Duration {
				return o.backoff(attemptIndex - 1)
			}),
			retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
			retry.LastErrorOnly(true),
		)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		o.logger.Warn("candidate failed",
			zap.String("function", string(fn)),
			zap.String("provider", cand.provider.Name),
			zap.String("model", cand.model),
			zap.Int("ordinal", cand.ordinal),
			zap.Error(err))
	}

	return o.exhausted(fn, route, lastErr)
}

func (o *Orchestrator) exhausted(fn Function, route *model.AIFunctionRoute, lastErr error) (*Result, error) {
	if route.Required {
		return nil, lastErr
	}
	o.logger.Warn("all candidates failed, returning default",
		zap.String("function", string(fn)),
		zap.Error(lastErr))
	return &Result{Content: DefaultPayload(fn), UsedDefault: true}, nil
}

// candidates 主供应商 + 备用列表，停用或不存在的供应商被跳过
func (o *Orchestrator) candidates(route *model.AIFunctionRoute) ([]candidate, error) {
	ids := []int64{route.PrimaryProviderID}
	for _, f := range route.FallbackConfigs {
		ids = append(ids, f.ProviderID)
	}
	providers, err := repository.NewProviderRepository(o.db).GetByIDs(ids)
	if err != nil {
		return nil, err
	}

	var out []candidate
	add := func(providerID int64, modelName string, ordinal int) {
		p, ok := providers[providerID]
		if !ok || !p.IsActive() {
			o.logger.Warn("skipping unavailable provider",
				zap.String("function", route.FunctionType),
				zap.Int64("provider_id", providerID))
			return
		}
		out = append(out, candidate{provider: p, model: modelName, ordinal: ordinal})
	}

	add(route.PrimaryProviderID, route.PrimaryModel, 0)
	for i, f := range route.FallbackConfigs {
		add(f.ProviderID, f.Model, i+1)
	}
	return out, nil
}

func (o *Orchestrator) buildRequest(route *model.AIFunctionRoute, first candidate, co *callOptions, systemPrompt, userPrompt string) llm.ChatRequest {
	temperature := route.Temperature
	if co.temperature != nil {
		temperature = *co.temperature
	}

	timeout := co.timeout
	if timeout <= 0 && route.TimeoutSeconds > 0 {
		timeout = time.Duration(route.TimeoutSeconds) * time.Second
	}
	if timeout <= 0 && first.provider.TimeoutSeconds > 0 {
		timeout = time.Duration(first.provider.TimeoutSeconds) * time.Second
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return llm.ChatRequest{
		Messages:     llm.NewMessages(systemPrompt, userPrompt),
		Temperature:  temperature,
		Timeout:      timeout,
		JSONResponse: co.jsonResponse,
	}
}

// attempt 一次请求，不论成败都写一条调用日志
func (o *Orchestrator) attempt(ctx context.Context, fn Function, route *model.AIFunctionRoute, cand candidate,
	co *callOptions, base llm.ChatRequest, traceID string, attemptIndex int) (*Result, error) {
	req := base
	req.Model = cand.model

	metadata := model.JSONMap{"trace_id": traceID, "attempt": attemptIndex}
	for k, v := range co.metadata {
		metadata[k] = v
	}

	entry := &model.AICallLog{
		FunctionType:   string(fn),
		ProviderID:     cand.provider.ID,
		ProviderName:   cand.provider.Name,
		Model:          cand.model,
		UserID:         co.userID,
		ProjectID:      co.projectID,
		Temperature:    req.Temperature,
		TimeoutSeconds: int(req.Timeout / time.Second),
		IsFallback:     cand.ordinal > 0,
		FallbackCount:  cand.ordinal,
		Metadata:       metadata,
	}

	start := time.Now()
	res, err := o.send(ctx, cand.provider, &req)
	entry.DurationMs = time.Since(start).Milliseconds()

	if res != nil {
		entry.InputTokens = res.PromptTokens
		entry.OutputTokens = res.CompletionTokens
		entry.TotalTokens = res.TotalTokens
		entry.FinishReason = res.FinishReason
		entry.CostUSD = float64(res.TotalTokens) / 1000 * cand.provider.CostPer1KTokens
	}

	if err != nil {
		errType := Classify(err)
		entry.Status = model.CallStatusFailed
		entry.ErrorType = string(errType)
		entry.ErrorMessage = truncateRunes(err.Error(), maxErrorMessageRunes)
		o.record(entry)
		return nil, &CallError{
			Function: fn,
			Type:     errType,
			Provider: cand.provider.Name,
			Model:    cand.model,
			Err:      err,
		}
	}

	entry.Status = model.CallStatusSuccess
	o.record(entry)

	o.logger.Debug("call succeeded",
		zap.String("function", string(fn)),
		zap.String("provider", cand.provider.Name),
		zap.String("model", cand.model),
		zap.Int64("duration_ms", entry.DurationMs),
		zap.Int("tokens", res.TotalTokens))

	return &Result{
		Content:     res.Content,
		Provider:    cand.provider.Name,
		Model:       cand.model,
		TotalTokens: res.TotalTokens,
		IsFallback:  cand.ordinal > 0,
	}, nil
}

func (o *Orchestrator) send(ctx context.Context, provider *model.AIProvider, req *llm.ChatRequest) (*llm.ChatResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	client, release, err := o.registry.Acquire(callCtx, provider)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := client.Chat(callCtx, req)
	if err != nil {
		return nil, err
	}
	if res.FinishReason == llm.FinishReasonLength {
		return res, errTruncated
	}
	if strings.TrimSpace(res.Content) == "" {
		return res, llm.ErrEmptyResponse
	}
	return res, nil
}

func (o *Orchestrator) record(entry *model.AICallLog) {
	if err := repository.NewCallLogRepository(o.db).Create(entry); err != nil {
		o.logger.Error("failed to write call log",
			zap.String("function", entry.FunctionType),
			zap.Error(err))
	}
}

func (o *Orchestrator) checkQuota(ctx context.Context, route *model.AIFunctionRoute) error {
	if route.DailyQuota <= 0 || o.rdb == nil {
		return nil
	}

	key := fmt.Sprintf("ai_quota:%s:%s", route.FunctionType, time.Now().Format("20060102"))
	count, err := o.rdb.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		o.rdb.Expire(ctx, key, quotaKeyTTL)
	}
	if count > int64(route.DailyQuota) {
		return ErrQuotaExceeded
	}
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
