package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/repository"
	"github.com/qs3c/novel_go_server/internal/testutil"
)

func TestSeed_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	require.NoError(t, Seed(db))

	routes := repository.NewRouteRepository(db)
	naming, err := routes.GetByFunction(string(FunctionVolumeNaming))
	require.NoError(t, err)
	naming.PrimaryModel = "custom"
	require.NoError(t, routes.UpdateWithVersion(naming, 1, nil))

	require.NoError(t, Seed(db))

	var providerCount, routeCount int64
	require.NoError(t, db.Model(&model.AIProvider{}).Count(&providerCount).Error)
	require.NoError(t, db.Model(&model.AIFunctionRoute{}).Count(&routeCount).Error)
	assert.Equal(t, int64(4), providerCount)
	assert.Equal(t, int64(len(Functions())), routeCount)

	naming, err = routes.GetByFunction(string(FunctionVolumeNaming))
	require.NoError(t, err)
	assert.Equal(t, "custom", naming.PrimaryModel)
}

func TestSeed_RouteDefaults(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	require.NoError(t, Seed(db))

	providers := repository.NewProviderRepository(db)
	siliconflow, err := providers.GetByName("siliconflow")
	require.NoError(t, err)
	gemini, err := providers.GetByName("gemini")
	require.NoError(t, err)
	assert.Equal(t, "GEMINI_API_KEY", gemini.APIKeyEnv)

	routes := repository.NewRouteRepository(db)

	writing, err := routes.GetByFunction(string(FunctionChapterContentWriting))
	require.NoError(t, err)
	assert.Equal(t, 0.9, writing.Temperature)
	assert.Equal(t, 600, writing.TimeoutSeconds)
	assert.Equal(t, 3, writing.MaxRetries)
	assert.True(t, writing.Required)
	assert.True(t, writing.Enabled)
	assert.Equal(t, siliconflow.ID, writing.PrimaryProviderID)
	assert.Equal(t, "deepseek-ai/DeepSeek-V3", writing.PrimaryModel)

	enhanced, err := routes.GetByFunction(string(FunctionEnhancedAnalysis))
	require.NoError(t, err)
	assert.False(t, enhanced.Required)
	assert.True(t, enhanced.AsyncMode)

	denoise, err := routes.GetByFunction(string(FunctionAIDenoising))
	require.NoError(t, err)
	assert.Equal(t, gemini.ID, denoise.PrimaryProviderID)
	assert.Equal(t, "gemini-2.0-flash-exp", denoise.PrimaryModel)
	require.Len(t, denoise.FallbackConfigs, 1)
	assert.Equal(t, siliconflow.ID, denoise.FallbackConfigs[0].ProviderID)
}

func TestDefaultPayload(t *testing.T) {
	assert.JSONEq(t, `{"title": "未命名卷"}`, DefaultPayload(FunctionVolumeNaming))
	assert.Equal(t, "{}", DefaultPayload(FunctionEnhancedAnalysis))
}
