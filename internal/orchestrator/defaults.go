package orchestrator

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
)

// Function 逻辑功能标识，对应 ai_function_routes.function_type
type Function string

const (
	FunctionConceptDialogue       Function = "concept_dialogue"
	FunctionBlueprintGeneration   Function = "blueprint_generation"
	FunctionOutlineGeneration     Function = "outline_generation"
	FunctionChapterContentWriting Function = "chapter_content_writing"
	FunctionSummaryExtraction     Function = "summary_extraction"
	FunctionBasicAnalysis         Function = "basic_analysis"
	FunctionEnhancedAnalysis      Function = "enhanced_analysis"
	FunctionCharacterTracking     Function = "character_tracking"
	FunctionWorldviewExpansion    Function = "worldview_expansion"
	FunctionVolumeNaming          Function = "volume_naming"
	FunctionAIDenoising           Function = "ai_denoising"
)

const (
	defaultProvider = "siliconflow"
	defaultModel    = "deepseek-ai/DeepSeek-V3"

	// UnnamedVolumeTitle volume_naming 全部失败时的默认标题
	UnnamedVolumeTitle = "未命名卷"
)

// DefaultPayload 非必需功能全部失败时返回的内容
func DefaultPayload(fn Function) string {
	if fn == FunctionVolumeNaming {
		return `{"title": "` + UnnamedVolumeTitle + `"}`
	}
	return "{}"
}

type providerDefault struct {
	name        string
	displayName string
	baseURL     string
	apiKeyEnv   string
}

var defaultProviders = []providerDefault{
	{"siliconflow", "SiliconFlow", "https://api.siliconflow.cn/v1", "SILICONFLOW_API_KEY"},
	{"gemini", "Google Gemini", "https://generativelanguage.googleapis.com/v1beta/openai", "GEMINI_API_KEY"},
	{"openai", "OpenAI", "https://api.openai.com/v1", "OPENAI_API_KEY"},
	{"deepseek", "DeepSeek", "https://api.deepseek.com/v1", "DEEPSEEK_API_KEY"},
}

type routeDefault struct {
	fn          Function
	displayName string
	temperature float64
	timeout     int
	maxRetries  int
	required    bool
	asyncMode   bool
	provider    string
	model       string
	fallbacks   []providerModel
}

type providerModel struct {
	provider string
	model    string
}

var defaultRoutes = []routeDefault{
	{fn: FunctionConceptDialogue, displayName: "概念对话", temperature: 0.8, timeout: 240, maxRetries: 2, required: true},
	{fn: FunctionBlueprintGeneration, displayName: "蓝图生成", temperature: 0.8, timeout: 300, maxRetries: 2, required: true},
	{fn: FunctionOutlineGeneration, displayName: "大纲生成", temperature: 0.8, timeout: 360, maxRetries: 2, required: true},
	{fn: FunctionChapterContentWriting, displayName: "章节写作", temperature: 0.9, timeout: 600, maxRetries: 3, required: true},
	{fn: FunctionSummaryExtraction, displayName: "摘要提取", temperature: 0.15, timeout: 180, maxRetries: 2, required: true},
	{fn: FunctionBasicAnalysis, displayName: "基础分析", temperature: 0.3, timeout: 180, maxRetries: 2, required: true},
	{fn: FunctionEnhancedAnalysis, displayName: "增强分析", temperature: 0.5, timeout: 600, maxRetries: 1, asyncMode: true},
	{fn: FunctionCharacterTracking, displayName: "角色追踪", temperature: 0.3, timeout: 300, maxRetries: 1},
	{fn: FunctionWorldviewExpansion, displayName: "世界观扩展", temperature: 0.7, timeout: 300, maxRetries: 1},
	{fn: FunctionVolumeNaming, displayName: "卷名生成", temperature: 0.7, timeout: 30, maxRetries: 1},
	{
		fn: FunctionAIDenoising, displayName: "AI 去味", temperature: 0.8, timeout: 60, maxRetries: 2,
		provider: "gemini", model: "gemini-2.0-flash-exp",
		fallbacks: []providerModel{{defaultProvider, defaultModel}},
	},
}

// Functions 所有内置功能
func Functions() []Function {
	out := make([]Function, 0, len(defaultRoutes))
	for _, d := range defaultRoutes {
		out = append(out, d.fn)
	}
	return out
}

// Seed 写入内置供应商和功能路由，已存在的记录保持不变
func Seed(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		ids := make(map[string]int64, len(defaultProviders))
		for _, d := range defaultProviders {
			var p model.AIProvider
			err := tx.Where("name = ?", d.name).First(&p).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				p = model.AIProvider{
					Name:               d.name,
					DisplayName:        d.displayName,
					BaseURL:            d.baseURL,
					APIKeyEnv:          d.apiKeyEnv,
					Status:             model.ProviderStatusActive,
					Priority:           100,
					MaxConcurrent:      10,
					RateLimitPerMinute: 60,
					TimeoutSeconds:     300,
				}
				err = tx.Create(&p).Error
			}
			if err != nil {
				return err
			}
			ids[d.name] = p.ID
		}

		for _, d := range defaultRoutes {
			var count int64
			if err := tx.Model(&model.AIFunctionRoute{}).
				Where("function_type = ?", string(d.fn)).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			provider, modelName := d.provider, d.model
			if provider == "" {
				provider, modelName = defaultProvider, defaultModel
			}
			fallbacks := model.FallbackConfigs{}
			for _, f := range d.fallbacks {
				fallbacks = append(fallbacks, model.FallbackConfig{ProviderID: ids[f.provider], Model: f.model})
			}

			route := &model.AIFunctionRoute{
				FunctionType:      string(d.fn),
				DisplayName:       d.displayName,
				PrimaryProviderID: ids[provider],
				PrimaryModel:      modelName,
				FallbackConfigs:   fallbacks,
				Temperature:       d.temperature,
				TimeoutSeconds:    d.timeout,
				MaxRetries:        d.maxRetries,
				AsyncMode:         d.asyncMode,
				Required:          d.required,
				Version:           1,
				Enabled:           true,
			}
			if err := tx.Create(route).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
