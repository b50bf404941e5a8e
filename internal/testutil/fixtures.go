package testutil

import (
	"fmt"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
)

// TestProvider 创建测试供应商
func TestProvider(t *testing.T, db *gorm.DB, name string, opts ...func(*model.AIProvider)) *model.AIProvider {
	t.Helper()

	p := &model.AIProvider{
		Name:               name,
		DisplayName:        name,
		BaseURL:            "https://" + name + ".example.com/v1",
		APIKeyEnv:          fmt.Sprintf("%s_API_KEY", name),
		Status:             model.ProviderStatusActive,
		Priority:           100,
		MaxConcurrent:      10,
		RateLimitPerMinute: 600,
		TimeoutSeconds:     30,
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := db.Create(p).Error; err != nil {
		t.Fatalf("Failed to create test provider: %v", err)
	}
	return p
}

// WithCost 设置每千 token 成本
func WithCost(per1K float64) func(*model.AIProvider) {
	return func(p *model.AIProvider) {
		p.CostPer1KTokens = per1K
	}
}

// WithProviderStatus 设置供应商状态
func WithProviderStatus(status string) func(*model.AIProvider) {
	return func(p *model.AIProvider) {
		p.Status = status
	}
}

// TestRoute 创建功能路由，默认 required、最多 1 次尝试
func TestRoute(t *testing.T, db *gorm.DB, fn string, providerID int64, modelName string, opts ...func(*model.AIFunctionRoute)) *model.AIFunctionRoute {
	t.Helper()

	r := &model.AIFunctionRoute{
		FunctionType:      fn,
		DisplayName:       fn,
		PrimaryProviderID: providerID,
		PrimaryModel:      modelName,
		FallbackConfigs:   model.FallbackConfigs{},
		Temperature:       0.7,
		TimeoutSeconds:    30,
		MaxRetries:        1,
		Required:          true,
		Version:           1,
		Enabled:           true,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := db.Create(r).Error; err != nil {
		t.Fatalf("Failed to create test route: %v", err)
	}
	return r
}

// WithFallbacks 设置备用列表
func WithFallbacks(fallbacks ...model.FallbackConfig) func(*model.AIFunctionRoute) {
	return func(r *model.AIFunctionRoute) {
		r.FallbackConfigs = fallbacks
	}
}

// WithRetries 设置主供应商尝试次数
func WithRetries(n int) func(*model.AIFunctionRoute) {
	return func(r *model.AIFunctionRoute) {
		r.MaxRetries = n
	}
}

// NotRequired 失败时返回默认值
func NotRequired() func(*model.AIFunctionRoute) {
	return func(r *model.AIFunctionRoute) {
		r.Required = false
	}
}

// Disabled 禁用路由
func Disabled() func(*model.AIFunctionRoute) {
	return func(r *model.AIFunctionRoute) {
		r.Enabled = false
	}
}

// WithDailyQuota 设置每日调用上限
func WithDailyQuota(n int) func(*model.AIFunctionRoute) {
	return func(r *model.AIFunctionRoute) {
		r.DailyQuota = n
	}
}

// TestProject 创建测试项目
func TestProject(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.Project)) *model.Project {
	t.Helper()

	p := &model.Project{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  fmt.Sprintf("Test Novel %d", time.Now().UnixNano()%10000),
		Blueprint: model.JSONMap{
			"title":                "测试小说",
			"genre":                "玄幻",
			"one_sentence_summary": "少年踏上修行之路",
		},
		WorldSetting: model.JSONMap{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := db.Create(p).Error; err != nil {
		t.Fatalf("Failed to create test project: %v", err)
	}
	return p
}

// WithGenerationConfig 设置项目生成配置
func WithGenerationConfig(cfg model.JSONMap) func(*model.Project) {
	return func(p *model.Project) {
		p.GenerationConfig = cfg
	}
}

// WithWorldSetting 设置世界观
func WithWorldSetting(ws model.JSONMap) func(*model.Project) {
	return func(p *model.Project) {
		p.WorldSetting = ws
	}
}

// TestCharacter 创建蓝图角色
func TestCharacter(t *testing.T, db *gorm.DB, projectID, name string, position int) *model.Character {
	t.Helper()

	c := &model.Character{
		ProjectID: projectID,
		Name:      name,
		Identity:  "测试身份",
		Abilities: "基础剑法",
		Position:  position,
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("Failed to create test character: %v", err)
	}
	return c
}

// TestChapter 创建章节及一个已选中的版本
func TestChapter(t *testing.T, db *gorm.DB, projectID string, number int, content string, opts ...func(*model.Chapter)) *model.Chapter {
	t.Helper()

	ch := &model.Chapter{
		ProjectID:     projectID,
		ChapterNumber: number,
		Status:        "successful",
		WordCount:     utf8.RuneCountInString(content),
	}
	for _, opt := range opts {
		opt(ch)
	}
	if err := db.Create(ch).Error; err != nil {
		t.Fatalf("Failed to create test chapter: %v", err)
	}

	v := &model.ChapterVersion{ChapterID: ch.ID, VersionIndex: 0, Content: content}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("Failed to create test chapter version: %v", err)
	}
	ch.SelectedVersionID = &v.ID
	if err := db.Model(ch).Update("selected_version_id", v.ID).Error; err != nil {
		t.Fatalf("Failed to select test chapter version: %v", err)
	}
	return ch
}

// InVolume 章节归属卷
func InVolume(volumeID int64) func(*model.Chapter) {
	return func(c *model.Chapter) {
		c.VolumeID = &volumeID
	}
}

// TestVolume 创建卷
func TestVolume(t *testing.T, db *gorm.DB, projectID string, number int) *model.Volume {
	t.Helper()

	v := &model.Volume{
		ProjectID:    projectID,
		VolumeNumber: number,
		Title:        fmt.Sprintf("第%d卷", number),
	}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("Failed to create test volume: %v", err)
	}
	return v
}

// TestOutline 创建章节大纲
func TestOutline(t *testing.T, db *gorm.DB, projectID string, number int) *model.ChapterOutline {
	t.Helper()

	o := &model.ChapterOutline{
		ProjectID:     projectID,
		ChapterNumber: number,
		Title:         fmt.Sprintf("第%d章", number),
		Summary:       "大纲摘要",
	}
	if err := db.Create(o).Error; err != nil {
		t.Fatalf("Failed to create test outline: %v", err)
	}
	return o
}

// TestMetrics 创建章节指标
func TestMetrics(t *testing.T, db *gorm.DB, projectID string, chapterNumber, stageScore int, opts ...func(*model.ChapterStoryMetrics)) *model.ChapterStoryMetrics {
	t.Helper()

	m := &model.ChapterStoryMetrics{
		ProjectID:     projectID,
		ChapterID:     int64(chapterNumber),
		ChapterNumber: chapterNumber,
		StageScore:    stageScore,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("Failed to create test metrics: %v", err)
	}
	return m
}

// MajorEvent 标记重大事件
func MajorEvent() func(*model.ChapterStoryMetrics) {
	return func(m *model.ChapterStoryMetrics) {
		m.MajorEventFlag = true
	}
}

// TestPendingAnalysis 创建待处理分析任务
func TestPendingAnalysis(t *testing.T, db *gorm.DB, ch *model.Chapter, userID int64, opts ...func(*model.PendingAnalysis)) *model.PendingAnalysis {
	t.Helper()

	p := &model.PendingAnalysis{
		ChapterID:     ch.ID,
		ChapterNumber: ch.ChapterNumber,
		ProjectID:     ch.ProjectID,
		UserID:        userID,
		Status:        model.AnalysisStatusPending,
		Priority:      5,
		MaxRetries:    3,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("Failed to create test pending analysis: %v", err)
	}
	return p
}

// WithAnalysisStatus 设置任务状态与开始时间
func WithAnalysisStatus(status string, startedAt *time.Time) func(*model.PendingAnalysis) {
	return func(p *model.PendingAnalysis) {
		p.Status = status
		p.StartedAt = startedAt
	}
}

// WithRetryCount 设置已重试次数
func WithRetryCount(retry, max int) func(*model.PendingAnalysis) {
	return func(p *model.PendingAnalysis) {
		p.RetryCount = retry
		p.MaxRetries = max
	}
}

// WithPriority 设置优先级
func WithPriority(priority int) func(*model.PendingAnalysis) {
	return func(p *model.PendingAnalysis) {
		p.Priority = priority
	}
}

// TestGeneratorJob 创建自动生成任务
func TestGeneratorJob(t *testing.T, db *gorm.DB, projectID string, userID int64, status string, opts ...func(*model.AutoGeneratorJob)) *model.AutoGeneratorJob {
	t.Helper()

	j := &model.AutoGeneratorJob{
		ProjectID:         projectID,
		UserID:            userID,
		Status:            status,
		ChaptersPerBatch:  1,
		IntervalSeconds:   0,
		AutoSelectVersion: true,
	}
	for _, opt := range opts {
		opt(j)
	}
	if err := db.Create(j).Error; err != nil {
		t.Fatalf("Failed to create test generator job: %v", err)
	}
	return j
}

// WithTarget 设置目标章节数
func WithTarget(n int) func(*model.AutoGeneratorJob) {
	return func(j *model.AutoGeneratorJob) {
		j.TargetChapters = &n
	}
}

// WithJobConfig 设置任务生成配置
func WithJobConfig(cfg model.JSONMap) func(*model.AutoGeneratorJob) {
	return func(j *model.AutoGeneratorJob) {
		j.GenerationConfig = cfg
	}
}
