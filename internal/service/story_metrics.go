package service

import (
	"strings"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/repository"
)

const climaxThreshold = 70

// MetricsWeights 阶段评分权重
type MetricsWeights struct {
	KeyEvent              float64 `json:"key_event"`
	Foreshadow            float64 `json:"foreshadow"`
	ForeshadowConf        float64 `json:"foreshadow_conf"`
	CharacterBreakthrough float64 `json:"character_breakthrough"`
	WorldShock            float64 `json:"world_shock"`
	MajorEvent            float64 `json:"major_event"`
	ClimaxMultiplier      float64 `json:"climax_multiplier"`
}

func DefaultMetricsWeights() MetricsWeights {
	return MetricsWeights{
		KeyEvent:              8,
		Foreshadow:            5,
		ForeshadowConf:        10,
		CharacterBreakthrough: 20,
		WorldShock:            15,
		MajorEvent:            25,
		ClimaxMultiplier:      1.2,
	}
}

// WeightsFromConfig 读取 generation_config.metrics_weights，缺失项用默认值
func WeightsFromConfig(cfg model.JSONMap) MetricsWeights {
	w := DefaultMetricsWeights()
	m := cfg.Map("metrics_weights")
	w.KeyEvent = m.Float("key_event", w.KeyEvent)
	w.Foreshadow = m.Float("foreshadow", w.Foreshadow)
	w.ForeshadowConf = m.Float("foreshadow_conf", w.ForeshadowConf)
	w.CharacterBreakthrough = m.Float("character_breakthrough", w.CharacterBreakthrough)
	w.WorldShock = m.Float("world_shock", w.WorldShock)
	w.MajorEvent = m.Float("major_event", w.MajorEvent)
	w.ClimaxMultiplier = m.Float("climax_multiplier", w.ClimaxMultiplier)
	return w
}

// ChapterMetrics 一章的评分结果
type ChapterMetrics struct {
	WordCount             int
	KeyEventCount         int
	ForeshadowCount       int
	ForeshadowMaxConf     float64
	CharacterBreakthrough bool
	WorldShock            bool
	MajorEvent            bool
	ClimaxScore           int
	StageScore            int
}

var majorForeshadowTypes = map[string]bool{
	"climax":        true,
	"catastrophe":   true,
	"turning_point": true,
}

var foreshadowPoints = map[string]int{
	"climax":        15,
	"catastrophe":   12,
	"turning_point": 10,
}

// ScoreChapter 纯函数，不访问数据库
func ScoreChapter(basic *BasicResult, enhanced *EnhancedResult, wordCount int, w MetricsWeights) ChapterMetrics {
	if enhanced == nil {
		enhanced = EmptyEnhancement()
	}
	m := ChapterMetrics{WordCount: wordCount}
	if basic != nil {
		m.KeyEventCount = len(basic.KeyEvents)
	}
	m.ForeshadowCount = len(enhanced.Foreshadowings)
	for _, f := range enhanced.Foreshadowings {
		if f.Confidence > m.ForeshadowMaxConf {
			m.ForeshadowMaxConf = f.Confidence
		}
	}

	for _, c := range enhanced.CharacterChanges {
		if c.GrowthLevel >= 5 || strings.Contains(c.Changes, "突破") || strings.Contains(c.Changes, "境界") {
			m.CharacterBreakthrough = true
			break
		}
	}
	m.WorldShock = !enhanced.WorldExtensions.Empty()

	m.MajorEvent = m.CharacterBreakthrough || m.KeyEventCount >= 4
	if !m.MajorEvent {
		for _, f := range enhanced.Foreshadowings {
			if majorForeshadowTypes[f.Type] {
				m.MajorEvent = true
				break
			}
		}
	}

	m.ClimaxScore = climaxScore(m.KeyEventCount, enhanced)

	stage := float64(m.KeyEventCount)*w.KeyEvent +
		float64(m.ForeshadowCount)*w.Foreshadow +
		m.ForeshadowMaxConf*w.ForeshadowConf
	if m.CharacterBreakthrough {
		stage += w.CharacterBreakthrough
	}
	if m.WorldShock {
		stage += w.WorldShock
	}
	if m.MajorEvent {
		stage += w.MajorEvent
	}
	if m.ClimaxScore >= climaxThreshold {
		stage *= w.ClimaxMultiplier
	}
	m.StageScore = clamp(int(stage), 0, 100)
	return m
}

func climaxScore(events int, enhanced *EnhancedResult) int {
	score := min(events*10, 40)

	typePoints := 0
	for _, f := range enhanced.Foreshadowings {
		if p, ok := foreshadowPoints[f.Type]; ok {
			typePoints += p
		} else {
			typePoints += 3
		}
	}
	score += min(typePoints, 30)

	growth := 0
	for _, c := range enhanced.CharacterChanges {
		level := c.GrowthLevel
		if level < 0 {
			level = 0
		}
		growth += min(level*3, 15)
	}
	score += min(growth, 30)

	return clamp(score, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// StoryMetricsService 章节指标的计算与持久化
type StoryMetricsService struct {
	metricsRepo *repository.MetricsRepository
	projectRepo *repository.ProjectRepository
}

func NewStoryMetricsService(metricsRepo *repository.MetricsRepository, projectRepo *repository.ProjectRepository) *StoryMetricsService {
	return &StoryMetricsService{metricsRepo: metricsRepo, projectRepo: projectRepo}
}

// RecordMetrics 计算并按 (project_id, chapter_number) 覆盖写入
func (s *StoryMetricsService) RecordMetrics(ch *model.Chapter, basic *BasicResult, enhanced *EnhancedResult, cfg model.JSONMap) (*model.ChapterStoryMetrics, error) {
	scored := ScoreChapter(basic, enhanced, ch.WordCount, WeightsFromConfig(cfg))

	payload := model.JSONMap{}
	if basic != nil {
		payload["summary"] = basic.ToMap()
	}
	if enhanced != nil {
		payload["enhanced"] = enhanced.ToMap()
	}

	m := &model.ChapterStoryMetrics{
		ProjectID:                 ch.ProjectID,
		ChapterID:                 ch.ID,
		ChapterNumber:             ch.ChapterNumber,
		WordCount:                 scored.WordCount,
		KeyEventCount:             scored.KeyEventCount,
		MajorEventFlag:            scored.MajorEvent,
		ForeshadowCount:           scored.ForeshadowCount,
		ForeshadowMaxConf:         scored.ForeshadowMaxConf,
		CharacterBreakthroughFlag: scored.CharacterBreakthrough,
		WorldShockFlag:            scored.WorldShock,
		ClimaxScore:               scored.ClimaxScore,
		StageScore:                scored.StageScore,
		Metrics:                   payload,
	}
	if err := s.metricsRepo.Upsert(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListByProject 项目全部章节指标，按章节号升序
func (s *StoryMetricsService) ListByProject(userID int64, projectID string) ([]*model.ChapterStoryMetrics, error) {
	if _, err := ownedProject(s.projectRepo, userID, projectID); err != nil {
		return nil, err
	}
	return s.metricsRepo.ListByProject(projectID)
}
