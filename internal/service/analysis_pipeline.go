package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/orchestrator"
	"github.com/qs3c/novel_go_server/internal/pkg/llm"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
)

const (
	maxAnalysisContentRunes = 8000
	truncatedSuffix         = "\n\n...(内容过长已截断)"
	maxKeyEvents            = 5

	basicSystemPrompt    = "你是专业的小说分析专家。"
	enhancedSystemPrompt = "你是专业的小说分析专家，擅长角色追踪和世界观分析。"
	summarySystemPrompt  = "你是专业的小说编辑，负责为章节撰写精炼的摘要。"
)

// Executor 编排器能力，service 只依赖这一个方法
type Executor interface {
	Call(ctx context.Context, fn orchestrator.Function, systemPrompt, userPrompt string, opts ...orchestrator.Option) (*orchestrator.Result, error)
}

// AnalysisInput 一次章节分析的输入
type AnalysisInput struct {
	ProjectID     string
	UserID        int64
	ChapterNumber int
	Content       string
	Characters    []*model.Character
	WorldSetting  model.JSONMap
	// Enhanced 为 false 时只做基础分析
	Enhanced bool
}

// BasicResult 摘要与关键事件
type BasicResult struct {
	Summary   string   `json:"summary"`
	KeyEvents []string `json:"key_events"`
	Degraded  bool     `json:"-"`
	Tokens    int      `json:"-"`
}

type CharacterChange struct {
	Name        string `json:"name"`
	Changes     string `json:"changes"`
	GrowthLevel int    `json:"growth_level"`
}

type NewCharacter struct {
	Name        string `json:"name"`
	Importance  string `json:"importance"`
	Description string `json:"description"`
	Personality string `json:"personality"`
	Goals       string `json:"goals"`
	Abilities   string `json:"abilities"`
}

// WorldExtensions 新增世界观元素，元素可能是字符串也可能是对象
type WorldExtensions struct {
	Locations []interface{} `json:"locations"`
	Factions  []interface{} `json:"factions"`
	Items     []interface{} `json:"items"`
	Rules     []interface{} `json:"rules"`
}

// Lists 按固定顺序返回 key 与元素
func (w WorldExtensions) Lists() map[string][]interface{} {
	return map[string][]interface{}{
		"locations": w.Locations,
		"factions":  w.Factions,
		"items":     w.Items,
		"rules":     w.Rules,
	}
}

func (w WorldExtensions) Empty() bool {
	return len(w.Locations) == 0 && len(w.Factions) == 0 && len(w.Items) == 0 && len(w.Rules) == 0
}

type Foreshadowing struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// EnhancedResult 增强分析结果
type EnhancedResult struct {
	CharacterChanges []CharacterChange `json:"character_changes"`
	NewCharacters    []NewCharacter    `json:"new_characters"`
	WorldExtensions  WorldExtensions   `json:"world_extensions"`
	Foreshadowings   []Foreshadowing   `json:"foreshadowings"`
	Tokens           int               `json:"-"`
}

// EmptyEnhancement 解析失败时使用的空结果
func EmptyEnhancement() *EnhancedResult {
	return &EnhancedResult{
		CharacterChanges: []CharacterChange{},
		NewCharacters:    []NewCharacter{},
		WorldExtensions: WorldExtensions{
			Locations: []interface{}{},
			Factions:  []interface{}{},
			Items:     []interface{}{},
			Rules:     []interface{}{},
		},
		Foreshadowings: []Foreshadowing{},
	}
}

// ToMap 转换为 JSON 列存储格式
func (b *BasicResult) ToMap() model.JSONMap {
	return toJSONMap(b)
}

func (e *EnhancedResult) ToMap() model.JSONMap {
	return toJSONMap(e)
}

func toJSONMap(v interface{}) model.JSONMap {
	raw, err := json.Marshal(v)
	if err != nil {
		return model.JSONMap{}
	}
	out := model.JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.JSONMap{}
	}
	return out
}

// AnalysisPipeline 章节分析：基础分析（摘要、关键事件）+ 可选增强分析
type AnalysisPipeline struct {
	exec Executor
	log  *zap.Logger
}

func NewAnalysisPipeline(exec Executor, log *zap.Logger) *AnalysisPipeline {
	return &AnalysisPipeline{exec: exec, log: logger.OrNop(log)}
}

// AnalyzeChapter 基础分析失败时返回错误由调用方决定是否重试；
// 增强分析失败只降级为空结果。
func (p *AnalysisPipeline) AnalyzeChapter(ctx context.Context, in *AnalysisInput) (*BasicResult, *EnhancedResult, error) {
	content := truncateContent(in.Content)

	basic, err := p.basic(ctx, in, content)
	if err != nil {
		return nil, nil, err
	}
	if !in.Enhanced {
		return basic, nil, nil
	}

	enhanced, err := p.enhanced(ctx, in, content)
	if err != nil {
		return nil, nil, err
	}
	return basic, enhanced, nil
}

// SummarizeChapter 基础生成模式下的摘要提取
func (p *AnalysisPipeline) SummarizeChapter(ctx context.Context, in *AnalysisInput) (*BasicResult, error) {
	content := truncateContent(in.Content)
	prompt := fmt.Sprintf(`请为第 %d 章提取摘要和关键事件。

**章节内容**：
%s

**输出格式（严格 JSON）**：
{"summary": "100-200 字摘要", "key_events": ["事件1", "事件2"]}`, in.ChapterNumber, content)

	res, err := p.exec.Call(ctx, orchestrator.FunctionSummaryExtraction, summarySystemPrompt, prompt,
		orchestrator.WithUser(in.UserID),
		orchestrator.WithProject(in.ProjectID),
		orchestrator.WithTemperature(0.2),
		orchestrator.WithTimeout(180*time.Second),
		orchestrator.WithJSONResponse(),
	)
	if err != nil {
		return nil, err
	}
	basic := decodeBasic(res.Content, in.ChapterNumber)
	basic.Tokens = res.TotalTokens
	return basic, nil
}

func (p *AnalysisPipeline) basic(ctx context.Context, in *AnalysisInput, content string) (*BasicResult, error) {
	prompt := fmt.Sprintf(`请分析以下章节内容，提取摘要和关键事件。

**章节内容**：
%s

**要求**：
1. 生成 100-200 字的章节摘要
2. 提取 0-5 个关键事件，每个事件一句话；没有可靠事件时返回空数组

**输出格式（严格 JSON，仅包含如下键）**：
{
  "summary": "章节摘要",
  "key_events": ["事件1", "事件2"]
}`, content)

	res, err := p.exec.Call(ctx, orchestrator.FunctionBasicAnalysis, basicSystemPrompt, prompt,
		orchestrator.WithUser(in.UserID),
		orchestrator.WithProject(in.ProjectID),
		orchestrator.WithTemperature(0.3),
		orchestrator.WithTimeout(180*time.Second),
		orchestrator.WithJSONResponse(),
	)
	if err != nil {
		return nil, err
	}

	basic := decodeBasic(res.Content, in.ChapterNumber)
	if basic.Degraded {
		p.log.Warn("basic analysis output malformed, using default",
			zap.String("project_id", in.ProjectID),
			zap.Int("chapter", in.ChapterNumber))
	}
	basic.Tokens = res.TotalTokens
	return basic, nil
}

func (p *AnalysisPipeline) enhanced(ctx context.Context, in *AnalysisInput, content string) (*EnhancedResult, error) {
	prompt := buildEnhancedPrompt(in, content)

	res, err := p.exec.Call(ctx, orchestrator.FunctionEnhancedAnalysis, enhancedSystemPrompt, prompt,
		orchestrator.WithUser(in.UserID),
		orchestrator.WithProject(in.ProjectID),
		orchestrator.WithTemperature(0.3),
		orchestrator.WithTimeout(600*time.Second),
		orchestrator.WithJSONResponse(),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn("enhanced analysis failed, using empty result",
			zap.String("project_id", in.ProjectID),
			zap.Int("chapter", in.ChapterNumber),
			zap.Error(err))
		return EmptyEnhancement(), nil
	}

	enhanced, ok := decodeEnhanced(res.Content)
	if !ok {
		p.log.Warn("enhanced analysis output malformed, using empty result",
			zap.String("project_id", in.ProjectID),
			zap.Int("chapter", in.ChapterNumber))
		enhanced = EmptyEnhancement()
	}
	enhanced.Tokens = res.TotalTokens
	return enhanced, nil
}

func truncateContent(content string) string {
	if utf8.RuneCountInString(content) <= maxAnalysisContentRunes {
		return content
	}
	return string([]rune(content)[:maxAnalysisContentRunes]) + truncatedSuffix
}

func buildEnhancedPrompt(in *AnalysisInput, content string) string {
	chars := make([]map[string]interface{}, 0, len(in.Characters))
	for _, c := range in.Characters {
		chars = append(chars, map[string]interface{}{
			"name":      c.Name,
			"identity":  c.Identity,
			"abilities": c.Abilities,
		})
	}
	charsJSON, _ := json.MarshalIndent(chars, "", "  ")
	world := in.WorldSetting
	if world == nil {
		world = model.JSONMap{}
	}
	worldJSON, _ := json.MarshalIndent(world, "", "  ")

	return fmt.Sprintf(`请分析第 %d 章，识别角色变化、新角色、世界观扩展和伏笔。

**章节内容**：
%s

**已知角色**：
%s

**已知世界观**：
%s

**要求**：
1. 识别角色状态变化（能力、性格、关系等），growth_level 取 1-10
2. 只列出 main/supporting 级别的新角色，已存在的名字不要重复
3. 识别新的地点、势力、物品、规则，没有新增时返回空数组
4. 识别伏笔，type 可取 mystery/prophecy/hint/climax/catastrophe/turning_point，confidence 取 0-1

**输出格式（严格 JSON，仅包含如下键）**：
{
  "character_changes": [{"name": "角色名", "changes": "变化描述", "growth_level": 5}],
  "new_characters": [{"name": "新角色名", "importance": "main/supporting", "description": "简要描述", "personality": "性格", "goals": "目标", "abilities": "能力"}],
  "world_extensions": {"locations": [], "factions": [], "items": [], "rules": []},
  "foreshadowings": [{"content": "伏笔内容", "type": "mystery", "confidence": 0.8}]
}

没有对应内容时输出空数组或空对象，整个回复必须是有效 JSON。`,
		in.ChapterNumber, content, string(charsJSON), string(worldJSON))
}

func degradedBasic(chapterNumber int) *BasicResult {
	return &BasicResult{
		Summary:   fmt.Sprintf("第 %d 章内容摘要生成失败", chapterNumber),
		KeyEvents: []string{},
		Degraded:  true,
	}
}

// decodeBasic summary 必须存在，key_events 必须是数组
func decodeBasic(text string, chapterNumber int) *BasicResult {
	obj, ok := llm.TryParseObject(text)
	if !ok {
		return degradedBasic(chapterNumber)
	}
	summary, hasSummary := obj["summary"]
	events, isList := obj["key_events"].([]interface{})
	if !hasSummary || summary == nil || !isList {
		return degradedBasic(chapterNumber)
	}

	out := &BasicResult{Summary: stringify(summary), KeyEvents: make([]string, 0, len(events))}
	for _, e := range events {
		if len(out.KeyEvents) == maxKeyEvents {
			break
		}
		if s := strings.TrimSpace(stringify(e)); s != "" {
			out.KeyEvents = append(out.KeyEvents, s)
		}
	}
	return out
}

// decodeEnhanced 字段类型不符时判定为失败；字段缺失视为空
func decodeEnhanced(text string) (*EnhancedResult, bool) {
	obj, ok := llm.TryParseObject(text)
	if !ok {
		return nil, false
	}
	out := EmptyEnhancement()

	if v, present := obj["character_changes"]; present && v != nil {
		list, ok := v.([]interface{})
		if !ok {
			return nil, false
		}
		for _, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			out.CharacterChanges = append(out.CharacterChanges, CharacterChange{
				Name:        stringify(m["name"]),
				Changes:     stringify(m["changes"]),
				GrowthLevel: int(number(m["growth_level"])),
			})
		}
	}

	if v, present := obj["new_characters"]; present && v != nil {
		list, ok := v.([]interface{})
		if !ok {
			return nil, false
		}
		for _, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			out.NewCharacters = append(out.NewCharacters, NewCharacter{
				Name:        stringify(m["name"]),
				Importance:  stringify(m["importance"]),
				Description: stringify(m["description"]),
				Personality: stringify(m["personality"]),
				Goals:       stringify(m["goals"]),
				Abilities:   stringify(m["abilities"]),
			})
		}
	}

	if v, present := obj["world_extensions"]; present && v != nil {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, false
		}
		out.WorldExtensions.Locations = listOf(m["locations"])
		out.WorldExtensions.Factions = listOf(m["factions"])
		out.WorldExtensions.Items = listOf(m["items"])
		out.WorldExtensions.Rules = listOf(m["rules"])
	}

	if v, present := obj["foreshadowings"]; present && v != nil {
		list, ok := v.([]interface{})
		if !ok {
			return nil, false
		}
		for _, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			out.Foreshadowings = append(out.Foreshadowings, Foreshadowing{
				Content:    stringify(m["content"]),
				Type:       stringify(m["type"]),
				Confidence: number(m["confidence"]),
			})
		}
	}
	return out, true
}

func listOf(v interface{}) []interface{} {
	list, ok := v.([]interface{})
	if !ok {
		return []interface{}{}
	}
	return list
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// number 数字或数字字符串，其余返回 0
func number(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return f
		}
	}
	return 0
}
