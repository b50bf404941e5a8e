package service

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/orchestrator"
	"github.com/qs3c/novel_go_server/internal/testutil"
)

var testFunctions = []orchestrator.Function{
	orchestrator.FunctionOutlineGeneration,
	orchestrator.FunctionChapterContentWriting,
	orchestrator.FunctionSummaryExtraction,
	orchestrator.FunctionBasicAnalysis,
	orchestrator.FunctionEnhancedAnalysis,
	orchestrator.FunctionVolumeNaming,
}

// setupOrchestrator 每个功能一条路由，模型名即功能名，脚本按功能名编写
func setupOrchestrator(t *testing.T, db *gorm.DB, fake *testutil.ScriptedLLM) *orchestrator.Orchestrator {
	t.Helper()

	p := testutil.TestProvider(t, db, "p1")
	for _, fn := range testFunctions {
		var opts []func(*model.AIFunctionRoute)
		if fn == orchestrator.FunctionEnhancedAnalysis || fn == orchestrator.FunctionVolumeNaming {
			opts = append(opts, testutil.NotRequired())
		}
		testutil.TestRoute(t, db, string(fn), p.ID, string(fn), opts...)
	}

	o := orchestrator.New(db, nil, fake.Registry(), zaptest.NewLogger(t))
	o.SetBackoff(func(int) time.Duration { return 0 })
	return o
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}
