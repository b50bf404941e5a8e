package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/orchestrator"
	"github.com/qs3c/novel_go_server/internal/pkg/llm"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/repository"
)

const (
	namingSystemPrompt = "你是一位专业的小说编辑，擅长为小说卷章生成富有诗意和吸引力的标题。"
	climaxStageScore   = 80
	forcedSplitReason  = "达到最大章节数"
)

var ErrInvalidSplitConfig = errors.New("分卷配置不合法")

// SplitConfig generation_config.volume_split
type SplitConfig struct {
	Enabled          bool    `json:"enabled"`
	MinChapters      int     `json:"min_chapters"`
	MaxChapters      int     `json:"max_chapters"`
	WindowSize       int     `json:"window_size"`
	ScoreThreshold   float64 `json:"score_threshold"`
	CooldownChapters int     `json:"cooldown_chapters"`
	UseAINaming      bool    `json:"use_ai_naming"`
}

func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		Enabled:          true,
		MinChapters:      15,
		MaxChapters:      30,
		WindowSize:       5,
		ScoreThreshold:   60,
		CooldownChapters: 3,
		UseAINaming:      true,
	}
}

// SplitConfigFrom 读取生成配置中的分卷配置，缺失项用默认值
func SplitConfigFrom(cfg model.JSONMap) SplitConfig {
	d := DefaultSplitConfig()
	m := cfg.Map("volume_split")
	return SplitConfig{
		Enabled:          m.Bool("enabled", d.Enabled),
		MinChapters:      m.Int("min_chapters", d.MinChapters),
		MaxChapters:      m.Int("max_chapters", d.MaxChapters),
		WindowSize:       m.Int("window_size", d.WindowSize),
		ScoreThreshold:   m.Float("score_threshold", d.ScoreThreshold),
		CooldownChapters: m.Int("cooldown_chapters", d.CooldownChapters),
		UseAINaming:      m.Bool("use_ai_naming", d.UseAINaming),
	}
}

func (c SplitConfig) Validate() error {
	if c.MinChapters < 1 || c.MaxChapters < c.MinChapters || c.WindowSize < 1 || c.CooldownChapters < 0 {
		return ErrInvalidSplitConfig
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 100 {
		return ErrInvalidSplitConfig
	}
	return nil
}

func (c SplitConfig) toMap() model.JSONMap {
	return model.JSONMap{
		"enabled":           c.Enabled,
		"min_chapters":      c.MinChapters,
		"max_chapters":      c.MaxChapters,
		"window_size":       c.WindowSize,
		"score_threshold":   c.ScoreThreshold,
		"cooldown_chapters": c.CooldownChapters,
		"use_ai_naming":     c.UseAINaming,
	}
}

// VolumeSplitService 根据最近章节指标判断是否开新卷
type VolumeSplitService struct {
	db   *gorm.DB
	exec Executor
	log  *zap.Logger
}

func NewVolumeSplitService(db *gorm.DB, exec Executor, log *zap.Logger) *VolumeSplitService {
	return &VolumeSplitService{db: db, exec: exec, log: logger.OrNop(log)}
}

// Evaluate 不满足分卷条件时返回 (nil, nil)
func (s *VolumeSplitService) Evaluate(ctx context.Context, projectID string, jobID *int64, cfg SplitConfig) (*model.Volume, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	volumeRepo := repository.NewVolumeRepository(s.db)
	chapterRepo := repository.NewChapterRepository(s.db)
	metricsRepo := repository.NewMetricsRepository(s.db)

	last, err := volumeRepo.Last(projectID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		last = nil
	}

	boundary := 0
	if last != nil {
		if boundary, err = chapterRepo.MaxNumberInVolume(last.ID); err != nil {
			return nil, err
		}
	}
	since, err := chapterRepo.CountAfter(projectID, boundary)
	if err != nil {
		return nil, err
	}
	if since < int64(cfg.MinChapters) {
		return nil, nil
	}

	window, err := metricsRepo.Window(projectID, boundary, cfg.WindowSize)
	if err != nil {
		return nil, err
	}

	var reason string
	if since >= int64(cfg.MaxChapters) {
		reason = forcedSplitReason
	} else {
		if last != nil && since < int64(cfg.CooldownChapters) {
			return nil, nil
		}
		if len(window) == 0 {
			return nil, nil
		}
		reason = splitReason(window, cfg.ScoreThreshold)
		if reason == "" {
			return nil, nil
		}
	}

	end, err := chapterRepo.MaxNumber(projectID)
	if err != nil {
		return nil, err
	}
	start := boundary + 1
	number := 1
	if last != nil {
		number = last.VolumeNumber + 1
	}

	title := s.volumeTitle(ctx, projectID, number, start, end, window, cfg)
	vol := &model.Volume{
		ProjectID:    projectID,
		VolumeNumber: number,
		Title:        title,
		Description:  "自动分卷：" + reason,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := repository.NewVolumeRepository(tx).Create(vol); err != nil {
			return err
		}
		if _, err := repository.NewChapterRepository(tx).AssignVolume(projectID, start, end, vol.ID); err != nil {
			return err
		}
		if _, err := repository.NewOutlineRepository(tx).AssignVolume(projectID, start, end, vol.ID); err != nil {
			return err
		}
		if jobID != nil {
			return repository.NewJobRepository(tx).CreateLog(&model.AutoGeneratorLog{
				JobID:   *jobID,
				LogType: model.LogTypeSuccess,
				Message: fmt.Sprintf("自动分卷：%s（第 %d-%d 章，原因：%s）", title, start, end, reason),
				Details: model.JSONMap{
					"volume_number": number,
					"start_chapter": start,
					"end_chapter":   end,
					"reason":        reason,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("volume split",
		zap.String("project_id", projectID),
		zap.Int("volume_number", number),
		zap.Int("start", start),
		zap.Int("end", end),
		zap.String("reason", reason))
	return vol, nil
}

// splitReason 窗口满足任一条件时返回原因，多个原因以顿号连接
func splitReason(window []*model.ChapterStoryMetrics, threshold float64) string {
	total := 0
	major := false
	peak := -1
	for _, m := range window {
		total += m.StageScore
		if m.MajorEventFlag {
			major = true
		}
		if m.StageScore >= climaxStageScore && m.StageScore > peak {
			peak = m.StageScore
		}
	}
	avg := float64(total) / float64(len(window))

	var reasons []string
	if avg >= threshold {
		reasons = append(reasons, fmt.Sprintf("平均评分%.1f", avg))
	}
	if major {
		reasons = append(reasons, "重大事件")
	}
	if peak >= 0 {
		reasons = append(reasons, fmt.Sprintf("高潮章节(评分%d)", peak))
	}
	return strings.Join(reasons, "、")
}

func (s *VolumeSplitService) volumeTitle(ctx context.Context, projectID string, number, start, end int, window []*model.ChapterStoryMetrics, cfg SplitConfig) string {
	fallback := fmt.Sprintf("卷%s·第%d-%d章", ToChineseNumber(number), start, end)
	if !cfg.UseAINaming || s.exec == nil {
		return fallback
	}

	res, err := s.exec.Call(ctx, orchestrator.FunctionVolumeNaming, namingSystemPrompt,
		namingPrompt(number, start, end, window),
		orchestrator.WithProject(projectID),
	)
	if err != nil {
		s.log.Warn("volume naming failed, using fallback title", zap.String("project_id", projectID), zap.Error(err))
		return fallback
	}
	title := ExtractVolumeTitle(res.Content, number)
	if title == "" {
		return fallback
	}
	return title
}

func namingPrompt(number, start, end int, window []*model.ChapterStoryMetrics) string {
	var highlights []string
	for _, m := range window {
		if m.MajorEventFlag {
			highlights = append(highlights, fmt.Sprintf("第%d章触发重大事件（评分%d）", m.ChapterNumber, m.StageScore))
		}
	}
	text := "无明显重大事件"
	if len(highlights) > 0 {
		text = strings.Join(highlights, "\n")
	}
	cn := ToChineseNumber(number)

	return fmt.Sprintf(`请为小说的第%d卷起一个卷名。

**卷信息**:
- 章节范围: 第%d-%d章
- 重大事件:
%s

**要求**:
1. 格式为 "卷%s·<副标题>"，副标题 2-6 个字
2. 体现本卷的核心剧情
3. 只返回卷名，不要解释

**示例**:
- 卷一·初入江湖
- 卷二·星陨之夜`, number, start, end, text, cn)
}

// ExtractVolumeTitle 规范化模型输出为 "卷<序号>·<副标题>"，无可用标题时返回空串
func ExtractVolumeTitle(resp string, number int) string {
	title := strings.TrimSpace(llm.CleanResponse(resp))
	if strings.HasPrefix(title, "{") {
		obj, ok := llm.TryParseObject(title)
		if !ok {
			return ""
		}
		title, _ = obj["title"].(string)
	}
	title = strings.TrimSpace(strings.Trim(title, "\"'“”‘’「」《》 "))
	if title == "" || title == orchestrator.UnnamedVolumeTitle {
		return ""
	}

	prefix := "卷" + ToChineseNumber(number) + "·"
	if strings.HasPrefix(title, prefix) {
		return title
	}
	if i := strings.LastIndex(title, "·"); i >= 0 {
		sub := strings.TrimSpace(title[i+len("·"):])
		if sub == "" {
			return ""
		}
		return prefix + sub
	}
	return prefix + title
}

var chineseDigits = []string{"零", "一", "二", "三", "四", "五", "六", "七", "八", "九"}

// ToChineseNumber 1-99 转中文数字，超出范围时返回阿拉伯数字
func ToChineseNumber(n int) string {
	switch {
	case n < 0 || n >= 100:
		return strconv.Itoa(n)
	case n < 10:
		return chineseDigits[n]
	case n < 20:
		if n == 10 {
			return "十"
		}
		return "十" + chineseDigits[n-10]
	}
	out := chineseDigits[n/10] + "十"
	if n%10 > 0 {
		out += chineseDigits[n%10]
	}
	return out
}

// TriggerSplit 手动触发一次分卷评估
func (s *VolumeSplitService) TriggerSplit(ctx context.Context, userID int64, projectID string) (*model.Volume, error) {
	p, err := ownedProject(repository.NewProjectRepository(s.db), userID, projectID)
	if err != nil {
		return nil, err
	}
	return s.Evaluate(ctx, projectID, nil, SplitConfigFrom(p.GenerationConfig))
}

func (s *VolumeSplitService) GetConfig(userID int64, projectID string) (*SplitConfig, error) {
	p, err := ownedProject(repository.NewProjectRepository(s.db), userID, projectID)
	if err != nil {
		return nil, err
	}
	cfg := SplitConfigFrom(p.GenerationConfig)
	return &cfg, nil
}

// UpdateConfig 覆盖 generation_config.volume_split，其余配置保留
func (s *VolumeSplitService) UpdateConfig(userID int64, projectID string, cfg SplitConfig) (*SplitConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	repo := repository.NewProjectRepository(s.db)
	p, err := ownedProject(repo, userID, projectID)
	if err != nil {
		return nil, err
	}
	gen := p.GenerationConfig
	if gen == nil {
		gen = model.JSONMap{}
	}
	gen["volume_split"] = cfg.toMap()
	if err := repo.UpdateGenerationConfig(projectID, gen); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *VolumeSplitService) ListVolumes(userID int64, projectID string) ([]*model.Volume, error) {
	if _, err := ownedProject(repository.NewProjectRepository(s.db), userID, projectID); err != nil {
		return nil, err
	}
	return repository.NewVolumeRepository(s.db).ListByProject(projectID)
}
