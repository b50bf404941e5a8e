package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/config"
	"github.com/qs3c/novel_go_server/internal/api/middleware"
	"github.com/qs3c/novel_go_server/internal/orchestrator"
	"github.com/qs3c/novel_go_server/internal/pkg/response"
	"github.com/qs3c/novel_go_server/internal/repository"
	"github.com/qs3c/novel_go_server/internal/service"
	"github.com/qs3c/novel_go_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testUserID int64 = 1

// blockingExecutor 模拟一次一直进行中的 AI 调用
type blockingExecutor struct{}

func (blockingExecutor) Call(ctx context.Context, fn orchestrator.Function, systemPrompt, userPrompt string, opts ...orchestrator.Option) (*orchestrator.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type testServer struct {
	t      *testing.T
	db     *gorm.DB
	engine *gin.Engine
}

// newTestServer 通过 X-Test-User 头指定当前用户，缺省为 testUserID
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	log := zaptest.NewLogger(t)

	orch := orchestrator.New(db, nil, testutil.NewScriptedLLM().Registry(), log)
	supervisor := service.NewSupervisor(log)
	t.Cleanup(func() { _ = supervisor.Shutdown(context.Background()) })

	routing := NewAIRoutingHandler(service.NewRoutingService(
		repository.NewProviderRepository(db),
		repository.NewRouteRepository(db),
		repository.NewCallLogRepository(db),
		orch,
	), log)
	generator := NewGeneratorHandler(service.NewGeneratorService(
		db, blockingExecutor{}, nil, nil, supervisor, (&config.Config{}).Defaults().Generator, log,
	), log)
	async := NewAsyncAnalysisHandler(service.NewAsyncAnalysisService(
		repository.NewPendingAnalysisRepository(db),
		repository.NewNotificationRepository(db),
		nil, log,
	), log)
	volume := NewVolumeHandler(
		service.NewStoryMetricsService(repository.NewMetricsRepository(db), repository.NewProjectRepository(db)),
		service.NewVolumeSplitService(db, blockingExecutor{}, log),
		log,
	)

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		userID := testUserID
		if v := c.GetHeader("X-Test-User"); v != "" {
			userID, _ = strconv.ParseInt(v, 10, 64)
		}
		c.Set(middleware.UserIDKey, userID)
	})

	engine.GET("/providers", routing.ListProviders)
	engine.POST("/providers", routing.CreateProvider)
	engine.PUT("/providers/:id", routing.UpdateProvider)
	engine.DELETE("/providers/:id", routing.DeleteProvider)
	engine.GET("/routes", routing.ListRoutes)
	engine.GET("/routes/:function_type", routing.GetRoute)
	engine.PATCH("/routes/:function_type", routing.UpdateRoute)
	engine.GET("/routes/:function_type/history", routing.RouteHistory)
	engine.GET("/logs", routing.ListLogs)
	engine.GET("/stats", routing.Stats)
	engine.GET("/health", routing.Health)

	engine.POST("/jobs", generator.Create)
	engine.GET("/jobs/:id", generator.Get)
	engine.POST("/jobs/:id/start", generator.Start)
	engine.POST("/jobs/:id/pause", generator.Pause)
	engine.POST("/jobs/:id/stop", generator.Stop)
	engine.GET("/jobs/:id/logs", generator.Logs)
	engine.GET("/projects/:project_id/jobs", generator.ListByProject)

	engine.GET("/status", async.Status)
	engine.GET("/tasks", async.ListTasks)
	engine.GET("/tasks/:id", async.GetTask)
	engine.POST("/tasks/:id/cancel", async.Cancel)
	engine.POST("/tasks/:id/retry", async.Retry)
	engine.GET("/chapters/:chapter_id/latest", async.LatestForChapter)
	engine.GET("/notifications", async.ListNotifications)
	engine.POST("/notifications/read-all", async.MarkAllRead)
	engine.POST("/notifications/:id/read", async.MarkRead)

	engine.GET("/projects/:project_id/story-metrics", volume.StoryMetrics)
	engine.GET("/projects/:project_id/volumes", volume.ListVolumes)
	engine.POST("/projects/:project_id/auto-split", volume.AutoSplit)
	engine.GET("/projects/:project_id/split-config", volume.GetSplitConfig)
	engine.PUT("/projects/:project_id/split-config", volume.UpdateSplitConfig)

	return &testServer{t: t, db: db, engine: engine}
}

func (s *testServer) do(method, path string, body interface{}, userID ...int64) response.Response {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if len(userID) > 0 {
		req.Header.Set("X-Test-User", strconv.FormatInt(userID[0], 10))
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	require.Equal(s.t, http.StatusOK, w.Code)

	var resp response.Response
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func dataList(t *testing.T, resp response.Response) []interface{} {
	t.Helper()
	l, ok := resp.Data.([]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return l
}
