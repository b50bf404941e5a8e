package service

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/model/dto"
	"github.com/qs3c/novel_go_server/internal/orchestrator"
	"github.com/qs3c/novel_go_server/internal/repository"
)

var (
	ErrProviderNotFound     = errors.New("供应商不存在")
	ErrProviderExists       = errors.New("供应商名称已存在")
	ErrRouteNotFound        = errors.New("功能路由不存在")
	ErrRouteVersionConflict = errors.New("路由配置已被修改，请刷新后重试")
	ErrInvalidRouteConfig   = errors.New("路由配置不合法")
	ErrInvalidTimeRange     = errors.New("时间参数格式错误")
)

const (
	HealthStatusHealthy  = "healthy"
	HealthStatusDegraded = "degraded"
)

// RoutingService 供应商与功能路由的管理，以及调用日志统计
type RoutingService struct {
	providerRepo *repository.ProviderRepository
	routeRepo    *repository.RouteRepository
	callLogRepo  *repository.CallLogRepository
	orch         *orchestrator.Orchestrator
}

func NewRoutingService(
	providerRepo *repository.ProviderRepository,
	routeRepo *repository.RouteRepository,
	callLogRepo *repository.CallLogRepository,
	orch *orchestrator.Orchestrator,
) *RoutingService {
	return &RoutingService{
		providerRepo: providerRepo,
		routeRepo:    routeRepo,
		callLogRepo:  callLogRepo,
		orch:         orch,
	}
}

func (s *RoutingService) ListProviders() ([]*model.AIProvider, error) {
	return s.providerRepo.List(false)
}

func (s *RoutingService) CreateProvider(req *dto.CreateProviderRequest) (*model.AIProvider, error) {
	if _, err := s.providerRepo.GetByName(req.Name); err == nil {
		return nil, ErrProviderExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	p := &model.AIProvider{
		Name:               req.Name,
		DisplayName:        req.DisplayName,
		BaseURL:            req.BaseURL,
		APIKeyEnv:          req.APIKeyEnv,
		Status:             model.ProviderStatusActive,
		Priority:           100,
		MaxConcurrent:      10,
		RateLimitPerMinute: 60,
		TimeoutSeconds:     300,
		CostPer1KTokens:    req.CostPer1KTokens,
		Metadata:           req.Metadata,
	}
	if p.DisplayName == "" {
		p.DisplayName = req.Name
	}
	if req.Priority != nil {
		p.Priority = *req.Priority
	}
	if req.MaxConcurrent > 0 {
		p.MaxConcurrent = req.MaxConcurrent
	}
	if req.RateLimitPerMinute > 0 {
		p.RateLimitPerMinute = req.RateLimitPerMinute
	}
	if req.TimeoutSeconds > 0 {
		p.TimeoutSeconds = req.TimeoutSeconds
	}

	if err := s.providerRepo.Create(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *RoutingService) UpdateProvider(id int64, req *dto.UpdateProviderRequest) (*model.AIProvider, error) {
	p, err := s.getProvider(id)
	if err != nil {
		return nil, err
	}

	if req.DisplayName != nil {
		p.DisplayName = *req.DisplayName
	}
	if req.BaseURL != nil {
		p.BaseURL = *req.BaseURL
	}
	if req.APIKeyEnv != nil {
		p.APIKeyEnv = *req.APIKeyEnv
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	if req.Priority != nil {
		p.Priority = *req.Priority
	}
	if req.MaxConcurrent != nil {
		p.MaxConcurrent = *req.MaxConcurrent
	}
	if req.RateLimitPerMinute != nil {
		p.RateLimitPerMinute = *req.RateLimitPerMinute
	}
	if req.TimeoutSeconds != nil {
		p.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.CostPer1KTokens != nil {
		p.CostPer1KTokens = *req.CostPer1KTokens
	}
	if req.Metadata != nil {
		p.Metadata = req.Metadata
	}

	if err := s.providerRepo.Update(p); err != nil {
		return nil, err
	}
	// 地址、凭证或限流参数可能变化
	s.orch.Registry().Invalidate(p.ID)
	return p, nil
}

// DeleteProvider 软删除
func (s *RoutingService) DeleteProvider(id int64) error {
	if err := s.providerRepo.SoftDelete(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProviderNotFound
		}
		return err
	}
	s.orch.Registry().Invalidate(id)
	return nil
}

func (s *RoutingService) getProvider(id int64) (*model.AIProvider, error) {
	p, err := s.providerRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *RoutingService) ListRoutes() ([]*model.AIFunctionRoute, error) {
	return s.routeRepo.List()
}

func (s *RoutingService) GetRoute(functionType string) (*model.AIFunctionRoute, error) {
	route, err := s.routeRepo.GetByFunction(functionType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRouteNotFound
		}
		return nil, err
	}
	return route, nil
}

// UpdateRoute 乐观锁更新并记录变更历史
func (s *RoutingService) UpdateRoute(userID int64, functionType string, req *dto.UpdateRouteRequest) (*model.AIFunctionRoute, error) {
	route, err := s.GetRoute(functionType)
	if err != nil {
		return nil, err
	}
	if route.Version != req.Version {
		return nil, ErrRouteVersionConflict
	}
	oldValue := routeSnapshot(route)

	if req.DisplayName != nil {
		route.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		route.Description = *req.Description
	}
	if req.PrimaryProviderID != nil {
		route.PrimaryProviderID = *req.PrimaryProviderID
	}
	if req.PrimaryModel != nil {
		route.PrimaryModel = *req.PrimaryModel
	}
	if req.FallbackConfigs != nil {
		route.FallbackConfigs = model.FallbackConfigs(*req.FallbackConfigs)
	}
	if req.Temperature != nil {
		route.Temperature = *req.Temperature
	}
	if req.TimeoutSeconds != nil {
		route.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.MaxRetries != nil {
		route.MaxRetries = *req.MaxRetries
	}
	if req.AsyncMode != nil {
		route.AsyncMode = *req.AsyncMode
	}
	if req.Required != nil {
		route.Required = *req.Required
	}
	if req.DailyQuota != nil {
		route.DailyQuota = *req.DailyQuota
	}
	if req.CostLimitDaily != nil {
		route.CostLimitDaily = *req.CostLimitDaily
	}
	if req.Enabled != nil {
		route.Enabled = *req.Enabled
	}

	if err := s.validateRoute(route); err != nil {
		return nil, err
	}

	history := &model.AIConfigHistory{
		OldValue:  oldValue,
		NewValue:  routeSnapshot(route),
		ChangedBy: userID,
	}
	if err := s.routeRepo.UpdateWithVersion(route, req.Version, history); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, ErrRouteVersionConflict
		}
		return nil, err
	}
	return route, nil
}

func (s *RoutingService) validateRoute(route *model.AIFunctionRoute) error {
	if route.PrimaryModel == "" {
		return ErrInvalidRouteConfig
	}
	ids := []int64{route.PrimaryProviderID}
	for _, fb := range route.FallbackConfigs {
		if fb.Model == "" {
			return ErrInvalidRouteConfig
		}
		ids = append(ids, fb.ProviderID)
	}
	providers, err := s.providerRepo.GetByIDs(ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := providers[id]; !ok {
			return ErrInvalidRouteConfig
		}
	}
	return nil
}

func routeSnapshot(route *model.AIFunctionRoute) model.JSONMap {
	snap := toJSONMap(route)
	delete(snap, "primary_provider")
	delete(snap, "created_at")
	delete(snap, "updated_at")
	return snap
}

func (s *RoutingService) RouteHistory(functionType string, limit int) ([]*model.AIConfigHistory, error) {
	route, err := s.GetRoute(functionType)
	if err != nil {
		return nil, err
	}
	return s.routeRepo.ListHistory(route.ID, limit)
}

func (s *RoutingService) ListLogs(q *dto.CallLogQuery) (*dto.CallLogListResponse, error) {
	filter, err := callLogFilter(q.FunctionType, q.Status, q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	logs, total, err := s.callLogRepo.List(filter, q.Page, q.PageSize)
	if err != nil {
		return nil, err
	}
	return &dto.CallLogListResponse{Logs: logs, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

func (s *RoutingService) Stats(functionType, start, end string) (*repository.CallStats, error) {
	filter, err := callLogFilter(functionType, "", start, end)
	if err != nil {
		return nil, err
	}
	return s.callLogRepo.Stats(filter)
}

func callLogFilter(functionType, status, start, end string) (repository.CallLogFilter, error) {
	f := repository.CallLogFilter{FunctionType: functionType, Status: status}
	var err error
	if f.Start, err = parseTimeParam(start); err != nil {
		return f, err
	}
	if f.End, err = parseTimeParam(end); err != nil {
		return f, err
	}
	return f, nil
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, ErrInvalidTimeRange
}

// Health 路由主供应商或全部候选不可用时为 degraded
func (s *RoutingService) Health() (*dto.RoutingHealthResponse, error) {
	providers, err := s.providerRepo.List(false)
	if err != nil {
		return nil, err
	}
	routes, err := s.routeRepo.List()
	if err != nil {
		return nil, err
	}

	registry := s.orch.Registry()
	usable := make(map[int64]bool, len(providers))
	resp := &dto.RoutingHealthResponse{Status: HealthStatusHealthy}
	for _, p := range providers {
		configured := registry.HasCredentials(p)
		usable[p.ID] = p.IsActive() && configured
		resp.Providers = append(resp.Providers, &dto.ProviderHealth{
			ID:                   p.ID,
			Name:                 p.Name,
			Status:               p.Status,
			CredentialConfigured: configured,
		})
	}

	inFlight := s.orch.InFlightSnapshot()
	for _, r := range routes {
		active := 0
		if usable[r.PrimaryProviderID] {
			active++
		}
		for _, fb := range r.FallbackConfigs {
			if usable[fb.ProviderID] {
				active++
			}
		}
		resp.Routes = append(resp.Routes, &dto.RouteHealth{
			FunctionType:      r.FunctionType,
			Enabled:           r.Enabled,
			Required:          r.Required,
			ActiveCandidates:  active,
			InFlight:          inFlight[orchestrator.Function(r.FunctionType)],
			PrimaryModel:      r.PrimaryModel,
			PrimaryProviderID: r.PrimaryProviderID,
		})
		if r.Enabled && active == 0 {
			resp.Status = HealthStatusDegraded
		}
	}
	return resp, nil
}
