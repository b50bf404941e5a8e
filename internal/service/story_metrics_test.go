package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/repository"
	"github.com/qs3c/novel_go_server/internal/testutil"
)

func events(n int) *BasicResult {
	b := &BasicResult{Summary: "摘要"}
	for i := 0; i < n; i++ {
		b.KeyEvents = append(b.KeyEvents, "事件")
	}
	return b
}

func TestScoreChapter(t *testing.T) {
	w := DefaultMetricsWeights()

	tests := []struct {
		name         string
		basic        *BasicResult
		enhanced     *EnhancedResult
		wantStage    int
		wantClimax   int
		wantMajor    bool
		wantBreak    bool
		wantWorld    bool
		wantMaxConf  float64
		wantForeshad int
	}{
		{
			name:       "basic only",
			basic:      events(2),
			wantStage:  16,
			wantClimax: 20,
		},
		{
			name:       "four key events is a major event",
			basic:      events(4),
			wantStage:  57,
			wantClimax: 40,
			wantMajor:  true,
		},
		{
			name:  "growth breakthrough",
			basic: events(1),
			enhanced: &EnhancedResult{
				CharacterChanges: []CharacterChange{{Name: "林渊", Changes: "修为提升", GrowthLevel: 5}},
			},
			wantStage:  53,
			wantClimax: 25,
			wantMajor:  true,
			wantBreak:  true,
		},
		{
			name:  "breakthrough keyword with negative growth",
			basic: events(0),
			enhanced: &EnhancedResult{
				CharacterChanges: []CharacterChange{{Name: "林渊", Changes: "踏入新的境界", GrowthLevel: -3}},
			},
			wantStage:  45,
			wantClimax: 0,
			wantMajor:  true,
			wantBreak:  true,
		},
		{
			name:  "world extension only",
			basic: events(0),
			enhanced: &EnhancedResult{
				WorldExtensions: WorldExtensions{Locations: []interface{}{"天枢城"}},
			},
			wantStage: 15,
			wantWorld: true,
		},
		{
			name:  "climax multiplier",
			basic: events(3),
			enhanced: &EnhancedResult{
				CharacterChanges: []CharacterChange{
					{Name: "林渊", Changes: "修为提升", GrowthLevel: 5},
					{Name: "苏晴", Changes: "心境变化", GrowthLevel: 4},
				},
				Foreshadowings: []Foreshadowing{{Content: "宗门大比", Type: "climax", Confidence: 0.5}},
			},
			wantStage:    94,
			wantClimax:   72,
			wantMajor:    true,
			wantBreak:    true,
			wantMaxConf:  0.5,
			wantForeshad: 1,
		},
		{
			name:  "saturated chapter is clamped",
			basic: events(6),
			enhanced: &EnhancedResult{
				CharacterChanges: []CharacterChange{
					{Name: "a", GrowthLevel: 9},
					{Name: "b", GrowthLevel: 9},
					{Name: "c", GrowthLevel: 9},
				},
				WorldExtensions: WorldExtensions{Factions: []interface{}{"魔宗"}},
				Foreshadowings: []Foreshadowing{
					{Type: "catastrophe", Confidence: 0.9},
					{Type: "turning_point", Confidence: 0.7},
					{Type: "hint", Confidence: 0.2},
					{Type: "climax", Confidence: 0.4},
				},
			},
			wantStage:    100,
			wantClimax:   100,
			wantMajor:    true,
			wantBreak:    true,
			wantWorld:    true,
			wantMaxConf:  0.9,
			wantForeshad: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ScoreChapter(tt.basic, tt.enhanced, 3000, w)
			assert.Equal(t, tt.wantStage, m.StageScore)
			assert.Equal(t, tt.wantClimax, m.ClimaxScore)
			assert.Equal(t, tt.wantMajor, m.MajorEvent)
			assert.Equal(t, tt.wantBreak, m.CharacterBreakthrough)
			assert.Equal(t, tt.wantWorld, m.WorldShock)
			assert.InDelta(t, tt.wantMaxConf, m.ForeshadowMaxConf, 0.0001)
			assert.Equal(t, tt.wantForeshad, m.ForeshadowCount)
			assert.Equal(t, 3000, m.WordCount)
		})
	}
}

func TestScoreChapter_MajorForeshadowType(t *testing.T) {
	m := ScoreChapter(events(0), &EnhancedResult{
		Foreshadowings: []Foreshadowing{{Type: "turning_point", Confidence: 0.3}},
	}, 0, DefaultMetricsWeights())
	assert.True(t, m.MajorEvent)
	assert.False(t, m.CharacterBreakthrough)
	// 5 + 3 + 25
	assert.Equal(t, 33, m.StageScore)
	assert.Equal(t, 10, m.ClimaxScore)
}

// 逐章累加事件、伏笔、成长与世界观扩展，分数始终在 [0,100] 内且不回落
func TestScoreChapter_BoundedAndMonotonic(t *testing.T) {
	weights := []MetricsWeights{
		DefaultMetricsWeights(),
		{KeyEvent: 30, Foreshadow: 20, ForeshadowConf: 40, CharacterBreakthrough: 50, WorldShock: 50, MajorEvent: 60, ClimaxMultiplier: 2},
	}
	foreshadowTypes := []string{"hint", "climax", "mystery", "catastrophe", "turning_point"}

	for wi, w := range weights {
		basic := &BasicResult{Summary: "摘要"}
		enhanced := EmptyEnhancement()
		prev := ScoreChapter(basic, enhanced, 0, w)

		for i := 1; i <= 40; i++ {
			switch i % 4 {
			case 0:
				basic.KeyEvents = append(basic.KeyEvents, "事件")
			case 1:
				enhanced.Foreshadowings = append(enhanced.Foreshadowings, Foreshadowing{
					Content:    "伏笔",
					Type:       foreshadowTypes[i%len(foreshadowTypes)],
					Confidence: float64(i%10) / 10,
				})
			case 2:
				enhanced.CharacterChanges = append(enhanced.CharacterChanges, CharacterChange{
					Name:        "林渊",
					Changes:     "修为提升",
					GrowthLevel: i%7 - 1,
				})
			case 3:
				enhanced.WorldExtensions.Locations = append(enhanced.WorldExtensions.Locations, "天枢城")
			}

			got := ScoreChapter(basic, enhanced, i*100, w)
			assert.GreaterOrEqual(t, got.ClimaxScore, 0, "weights %d chapter %d", wi, i)
			assert.LessOrEqual(t, got.ClimaxScore, 100, "weights %d chapter %d", wi, i)
			assert.GreaterOrEqual(t, got.StageScore, 0, "weights %d chapter %d", wi, i)
			assert.LessOrEqual(t, got.StageScore, 100, "weights %d chapter %d", wi, i)
			assert.GreaterOrEqual(t, got.ClimaxScore, prev.ClimaxScore, "weights %d chapter %d", wi, i)
			assert.GreaterOrEqual(t, got.StageScore, prev.StageScore, "weights %d chapter %d", wi, i)
			prev = got
		}
		assert.Equal(t, 100, prev.StageScore, "weights %d", wi)
	}
}

func TestWeightsFromConfig(t *testing.T) {
	w := WeightsFromConfig(model.JSONMap{
		"metrics_weights": map[string]interface{}{"key_event": float64(10), "climax_multiplier": 1.5},
	})
	assert.Equal(t, 10.0, w.KeyEvent)
	assert.Equal(t, 1.5, w.ClimaxMultiplier)
	assert.Equal(t, DefaultMetricsWeights().WorldShock, w.WorldShock)

	m := ScoreChapter(events(2), nil, 0, w)
	assert.Equal(t, 20, m.StageScore)

	assert.Equal(t, DefaultMetricsWeights(), WeightsFromConfig(nil))
}

func TestStoryMetricsService_RecordMetrics(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	metricsRepo := repository.NewMetricsRepository(db)
	svc := NewStoryMetricsService(metricsRepo, repository.NewProjectRepository(db))
	project := testutil.TestProject(t, db, 1)
	ch := testutil.TestChapter(t, db, project.ID, 1, "正文")

	first, err := svc.RecordMetrics(ch, events(2), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, first.StageScore)
	assert.Contains(t, first.Metrics, "summary")
	assert.NotContains(t, first.Metrics, "enhanced")

	_, err = svc.RecordMetrics(ch, events(4), EmptyEnhancement(), nil)
	require.NoError(t, err)

	items, err := metricsRepo.ListByProject(project.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 57, items[0].StageScore)
	assert.True(t, items[0].MajorEventFlag)
	assert.Equal(t, ch.ID, items[0].ChapterID)
	assert.Contains(t, items[0].Metrics, "enhanced")
}

func TestStoryMetricsService_ListByProject(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	svc := NewStoryMetricsService(repository.NewMetricsRepository(db), repository.NewProjectRepository(db))
	project := testutil.TestProject(t, db, 1)
	testutil.TestMetrics(t, db, project.ID, 2, 40)
	testutil.TestMetrics(t, db, project.ID, 1, 30)

	items, err := svc.ListByProject(1, project.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].ChapterNumber)

	_, err = svc.ListByProject(2, project.ID)
	assert.ErrorIs(t, err, ErrProjectPermission)

	_, err = svc.ListByProject(1, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}
