package llm

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/qs3c/novel_go_server/internal/model"
)

// ClientFactory 根据供应商配置创建客户端
type ClientFactory func(p *model.AIProvider, apiKey string) Client

// KeyLookup 解析凭证，默认读环境变量
type KeyLookup func(name string) (string, bool)

type entry struct {
	client    Client
	limiter   *rate.Limiter
	sem       *semaphore.Weighted
	updatedAt time.Time
}

// Registry 按供应商缓存客户端，并施加每分钟请求数和并发上限。
// 供应商的 updated_at 变化时缓存失效，其他进程修改配置后无需重启。
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry
	factory ClientFactory
	lookup  KeyLookup
}

type RegistryOption func(*Registry)

func WithClientFactory(f ClientFactory) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

func WithKeyLookup(l KeyLookup) RegistryOption {
	return func(r *Registry) { r.lookup = l }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[int64]*entry),
		factory: func(p *model.AIProvider, apiKey string) Client {
			return NewOpenAIClient(p.BaseURL, apiKey, nil)
		},
		lookup: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire 取得可用客户端，调用方必须执行 release
func (r *Registry) Acquire(ctx context.Context, p *model.AIProvider) (Client, func(), error) {
	e, err := r.get(p)
	if err != nil {
		return nil, nil, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	return e.client, func() { e.sem.Release(1) }, nil
}

// Invalidate 本进程修改供应商后立即丢弃缓存
func (r *Registry) Invalidate(providerID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, providerID)
}

func (r *Registry) get(p *model.AIProvider) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[p.ID]; ok && e.updatedAt.Equal(p.UpdatedAt) {
		return e, nil
	}

	apiKey, ok := r.lookup(p.APIKeyEnv)
	if !ok || apiKey == "" {
		return nil, fmt.Errorf("%w: %s (%s)", ErrMissingAPIKey, p.Name, p.APIKeyEnv)
	}

	rpm := p.RateLimitPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	concurrent := p.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 10
	}

	e := &entry{
		client:    r.factory(p, apiKey),
		limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		sem:       semaphore.NewWeighted(int64(concurrent)),
		updatedAt: p.UpdatedAt,
	}
	r.entries[p.ID] = e
	return e, nil
}

// HasCredentials 供应商凭证是否已配置
func (r *Registry) HasCredentials(p *model.AIProvider) bool {
	key, ok := r.lookup(p.APIKeyEnv)
	return ok && key != ""
}
