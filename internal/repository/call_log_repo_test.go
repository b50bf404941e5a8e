package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/testutil"
)

func createCallLog(t *testing.T, repo *CallLogRepository, fn, provider, status string, duration int64, cost float64) *model.AICallLog {
	t.Helper()

	log := &model.AICallLog{
		FunctionType: fn,
		ProviderName: provider,
		Model:        "m",
		Status:       status,
		DurationMs:   duration,
		TotalTokens:  100,
		CostUSD:      cost,
	}
	require.NoError(t, repo.Create(log))
	return log
}

func TestCallLogRepository_Stats(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCallLogRepository(db)
	createCallLog(t, repo, "basic_analysis", "siliconflow", model.CallStatusSuccess, 100, 0.1)
	createCallLog(t, repo, "basic_analysis", "gemini", model.CallStatusFailed, 300, 0)
	createCallLog(t, repo, "volume_naming", "siliconflow", model.CallStatusSuccess, 200, 0.2)

	stats, err := repo.Stats(CallLogFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(2), stats.SuccessCalls)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.0001)
	assert.InDelta(t, 200.0, stats.AvgDurationMs, 0.0001)
	assert.InDelta(t, 0.3, stats.TotalCostUSD, 0.0001)

	require.Contains(t, stats.ByFunction, "basic_analysis")
	assert.Equal(t, int64(2), stats.ByFunction["basic_analysis"].Count)
	assert.Equal(t, int64(1), stats.ByFunction["basic_analysis"].Success)
	require.Contains(t, stats.ByProvider, "siliconflow")
	assert.Equal(t, int64(2), stats.ByProvider["siliconflow"].Count)
}

func TestCallLogRepository_Stats_Empty(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	stats, err := NewCallLogRepository(db).Stats(CallLogFilter{FunctionType: "nothing"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalCalls)
	assert.Equal(t, 0.0, stats.SuccessRate)
	assert.Empty(t, stats.ByFunction)
}

func TestCallLogRepository_ListFiltered(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCallLogRepository(db)
	for i := 0; i < 5; i++ {
		createCallLog(t, repo, "basic_analysis", "siliconflow", model.CallStatusSuccess, 10, 0)
	}
	createCallLog(t, repo, "basic_analysis", "siliconflow", model.CallStatusFailed, 10, 0)

	logs, total, err := repo.List(CallLogFilter{Status: model.CallStatusSuccess}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, logs, 2)
	assert.Greater(t, logs[0].ID, logs[1].ID)
}

func TestCallLogRepository_DeleteOlderThan(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCallLogRepository(db)
	old := createCallLog(t, repo, "basic_analysis", "siliconflow", model.CallStatusFailed, 10, 0)
	oldOK := createCallLog(t, repo, "basic_analysis", "siliconflow", model.CallStatusSuccess, 10, 0)
	createCallLog(t, repo, "basic_analysis", "siliconflow", model.CallStatusFailed, 10, 0)

	past := time.Now().AddDate(0, 0, -10)
	require.NoError(t, db.Model(&model.AICallLog{}).
		Where("id IN ?", []int64{old.ID, oldOK.ID}).
		Update("created_at", past).Error)

	cutoff := time.Now().AddDate(0, 0, -7)
	count, err := repo.CountOlderThan(cutoff, model.CallStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	deleted, err := repo.DeleteOlderThan(cutoff, model.CallStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	byStatus, err := repo.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(1), byStatus[model.CallStatusFailed])
	assert.Equal(t, int64(1), byStatus[model.CallStatusSuccess])
}
