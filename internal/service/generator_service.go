package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/config"
	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/model/dto"
	"github.com/qs3c/novel_go_server/internal/orchestrator"
	"github.com/qs3c/novel_go_server/internal/pkg/llm"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/pkg/pubsub"
	"github.com/qs3c/novel_go_server/internal/pkg/queue"
	"github.com/qs3c/novel_go_server/internal/repository"
)

var (
	ErrJobNotFound       = errors.New("自动生成任务不存在")
	ErrJobPermission     = errors.New("无权操作此任务")
	ErrJobAlreadyActive  = errors.New("该项目已有进行中的自动生成任务")
	ErrJobAlreadyRunning = errors.New("任务已在运行")
	ErrInvalidTransition = errors.New("当前状态不允许该操作")

	errNoOutlines   = errors.New("AI 未返回任何章节大纲")
	errEmptyContent = errors.New("AI 未返回章节内容")
)

const (
	GenerationModeBasic    = "basic"
	GenerationModeEnhanced = "enhanced"

	defaultIntervalSeconds  = 60
	defaultMinChapterLength = 1000
	defaultVolumeTitle      = "默认"
	defaultVolumeDesc       = "第一卷"

	writerSystemPrompt  = "你是一位经验丰富的网络小说作家，严格遵循蓝图和大纲进行创作。"
	outlineSystemPrompt = "你是一位擅长结构设计的小说策划，负责为后续章节编写大纲。"
)

var versionStyles = []string{"标准", "情节紧凑", "细腻描写", "对话驱动", "悬念迭起"}

// GeneratorService 自动生成任务的状态机与后台生成循环
type GeneratorService struct {
	db         *gorm.DB
	exec       Executor
	pipeline   *AnalysisPipeline
	queue      *queue.Queue
	publisher  *pubsub.Publisher
	supervisor *Supervisor
	cfg        config.GeneratorConfig
	log        *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewGeneratorService(
	db *gorm.DB,
	exec Executor,
	q *queue.Queue,
	publisher *pubsub.Publisher,
	supervisor *Supervisor,
	cfg config.GeneratorConfig,
	log *zap.Logger,
) *GeneratorService {
	log = logger.OrNop(log)
	return &GeneratorService{
		db:         db,
		exec:       exec,
		pipeline:   NewAnalysisPipeline(exec, log),
		queue:      q,
		publisher:  publisher,
		supervisor: supervisor,
		cfg:        cfg,
		log:        log,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create 同一项目同时只能有一个未结束的任务
func (s *GeneratorService) Create(userID int64, req *dto.CreateJobRequest) (*model.AutoGeneratorJob, error) {
	if _, err := ownedProject(repository.NewProjectRepository(s.db), userID, req.ProjectID); err != nil {
		return nil, err
	}
	jobRepo := repository.NewJobRepository(s.db)
	if _, err := jobRepo.FindActiveByProject(req.ProjectID); err == nil {
		return nil, ErrJobAlreadyActive
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	job := &model.AutoGeneratorJob{
		ProjectID:         req.ProjectID,
		UserID:            userID,
		Status:            model.JobStatusPending,
		TargetChapters:    req.TargetChapters,
		ChaptersPerBatch:  1,
		IntervalSeconds:   defaultIntervalSeconds,
		AutoSelectVersion: true,
		GenerationConfig:  req.GenerationConfig,
	}
	if req.ChaptersPerBatch > 0 {
		job.ChaptersPerBatch = req.ChaptersPerBatch
	}
	if req.IntervalSeconds != nil {
		job.IntervalSeconds = *req.IntervalSeconds
	}
	if req.AutoSelectVersion != nil {
		job.AutoSelectVersion = *req.AutoSelectVersion
	}
	if err := jobRepo.Create(job); err != nil {
		return nil, err
	}
	s.logJob(job, nil, model.LogTypeInfo, "任务已创建", nil)
	return job, nil
}

// Start pending 或 paused 的任务进入 running 并确保有一个生成循环
func (s *GeneratorService) Start(userID, jobID int64) (*model.AutoGeneratorJob, error) {
	job, err := s.ownedJob(userID, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.JobStatusRunning:
		return nil, ErrJobAlreadyRunning
	case model.JobStatusPending, model.JobStatusPaused:
	default:
		return nil, ErrInvalidTransition
	}

	extra := map[string]interface{}{}
	if job.StartedAt == nil {
		extra["started_at"] = time.Now()
	}
	ok, err := repository.NewJobRepository(s.db).Transition(job.ID,
		[]string{model.JobStatusPending, model.JobStatusPaused}, model.JobStatusRunning, extra)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	job.Status = model.JobStatusRunning

	msg := "任务已启动"
	if job.StartedAt != nil {
		msg = "任务已恢复"
	}
	s.logJob(job, nil, model.LogTypeInfo, msg, nil)
	s.launch(job.ID)
	return s.reload(job.ID)
}

// Pause 只允许暂停运行中的任务，循环保持存活并轮询状态
func (s *GeneratorService) Pause(userID, jobID int64) (*model.AutoGeneratorJob, error) {
	job, err := s.ownedJob(userID, jobID)
	if err != nil {
		return nil, err
	}
	ok, err := repository.NewJobRepository(s.db).Transition(job.ID,
		[]string{model.JobStatusRunning}, model.JobStatusPaused, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	job.Status = model.JobStatusPaused
	s.logJob(job, nil, model.LogTypeInfo, "任务已暂停", nil)
	return s.reload(job.ID)
}

// Stop 进入 stopped 终态，并等待生成循环退出
func (s *GeneratorService) Stop(userID, jobID int64) (*model.AutoGeneratorJob, error) {
	job, err := s.ownedJob(userID, jobID)
	if err != nil {
		return nil, err
	}
	ok, err := repository.NewJobRepository(s.db).Transition(job.ID,
		[]string{model.JobStatusRunning, model.JobStatusPaused, model.JobStatusPending},
		model.JobStatusStopped, map[string]interface{}{"completed_at": time.Now()})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	s.supervisor.Cancel(job.ID)

	job.Status = model.JobStatusStopped
	s.logJob(job, nil, model.LogTypeInfo, "任务已停止", nil)
	return s.reload(job.ID)
}

func (s *GeneratorService) Get(userID, jobID int64) (*model.AutoGeneratorJob, error) {
	return s.ownedJob(userID, jobID)
}

func (s *GeneratorService) ListByProject(userID int64, projectID string) ([]*model.AutoGeneratorJob, error) {
	if _, err := ownedProject(repository.NewProjectRepository(s.db), userID, projectID); err != nil {
		return nil, err
	}
	return repository.NewJobRepository(s.db).ListByProject(projectID)
}

func (s *GeneratorService) Logs(userID, jobID int64, limit int) ([]*model.AutoGeneratorLog, error) {
	if _, err := s.ownedJob(userID, jobID); err != nil {
		return nil, err
	}
	return repository.NewJobRepository(s.db).ListLogs(jobID, limit)
}

// Resume 进程启动时为仍处于 running 的任务重新拉起循环
func (s *GeneratorService) Resume() (int, error) {
	jobs, err := repository.NewJobRepository(s.db).ListByStatus(model.JobStatusRunning)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		if s.launch(job.ID) {
			n++
		}
	}
	return n, nil
}

func (s *GeneratorService) launch(jobID int64) bool {
	return s.supervisor.Launch(jobID, func(ctx context.Context) {
		s.run(ctx, jobID)
	})
}

func (s *GeneratorService) ownedJob(userID, jobID int64) (*model.AutoGeneratorJob, error) {
	job, err := s.reload(jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobPermission
	}
	return job, nil
}

func (s *GeneratorService) reload(jobID int64) (*model.AutoGeneratorJob, error) {
	job, err := repository.NewJobRepository(s.db).GetByID(jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// run 生成循环。状态只通过条件更新修改，不会覆盖 Stop 写入的终态。
func (s *GeneratorService) run(ctx context.Context, jobID int64) {
	log := s.log.With(zap.Int64("job_id", jobID))
	jobRepo := repository.NewJobRepository(s.db)
	pausePoll := time.Duration(s.cfg.PausePollSeconds) * time.Second
	consecutive := 0

	log.Info("generator loop started")
	defer log.Info("generator loop exited")

	for {
		if ctx.Err() != nil {
			s.stopOnCancel(jobID)
			return
		}

		job, err := jobRepo.GetByID(jobID)
		if err != nil {
			log.Error("failed to load job", zap.Error(err))
			return
		}

		switch job.Status {
		case model.JobStatusPaused:
			if err := s.sleep(ctx, pausePoll); err != nil {
				s.stopOnCancel(jobID)
				return
			}
			continue
		case model.JobStatusRunning:
		default:
			return
		}

		if job.TargetReached() {
			s.finish(job, model.JobStatusCompleted, model.LogTypeSuccess,
				fmt.Sprintf("已完成目标章节数: %d", *job.TargetChapters))
			return
		}

		if err := s.generateBatch(ctx, job); err != nil {
			if ctx.Err() != nil {
				s.stopOnCancel(jobID)
				return
			}
			consecutive++
			log.Warn("chapter generation failed", zap.Int("consecutive", consecutive), zap.Error(err))
			if uerr := jobRepo.UpdateFields(jobID, map[string]interface{}{
				"error_count": gorm.Expr("error_count + ?", 1),
				"last_error":  err.Error(),
			}); uerr != nil {
				log.Error("failed to record job error", zap.Error(uerr))
			}
			s.logJob(job, nil, model.LogTypeError, fmt.Sprintf("生成失败: %s", err.Error()), nil)

			if consecutive >= s.cfg.MaxConsecutiveErrors {
				s.finish(job, model.JobStatusError, model.LogTypeError,
					fmt.Sprintf("任务因错误次数过多而停止: %s", err.Error()))
				return
			}
		} else {
			consecutive = 0
		}

		if err := s.sleep(ctx, time.Duration(job.IntervalSeconds)*time.Second); err != nil {
			s.stopOnCancel(jobID)
			return
		}
	}
}

// finish 仅当任务仍在运行时写入终态
func (s *GeneratorService) finish(job *model.AutoGeneratorJob, status, logType, msg string) {
	ok, err := repository.NewJobRepository(s.db).Transition(job.ID,
		[]string{model.JobStatusRunning}, status, map[string]interface{}{"completed_at": time.Now()})
	if err != nil {
		s.log.Error("failed to finish job", zap.Int64("job_id", job.ID), zap.String("status", status), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	job.Status = status
	s.logJob(job, nil, logType, msg, nil)
}

// stopOnCancel 循环被取消时任务不能停留在非终态
func (s *GeneratorService) stopOnCancel(jobID int64) {
	ok, err := repository.NewJobRepository(s.db).Transition(jobID,
		[]string{model.JobStatusRunning, model.JobStatusPaused},
		model.JobStatusStopped, map[string]interface{}{"completed_at": time.Now()})
	if err != nil {
		s.log.Error("failed to stop cancelled job", zap.Int64("job_id", jobID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if job, err := s.reload(jobID); err == nil {
		s.logJob(job, nil, model.LogTypeWarning, "服务关闭，任务已停止", nil)
	}
}

func (s *GeneratorService) generateBatch(ctx context.Context, job *model.AutoGeneratorJob) error {
	batch := job.ChaptersPerBatch
	if batch < 1 {
		batch = 1
	}
	for i := 0; i < batch; i++ {
		if job.TargetReached() {
			return nil
		}
		if err := s.generateNextChapter(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// generationConfig 项目配置为底，任务配置覆盖
func generationConfig(project *model.Project, job *model.AutoGeneratorJob) model.JSONMap {
	merged := model.JSONMap{}
	for k, v := range project.GenerationConfig {
		merged[k] = v
	}
	for k, v := range job.GenerationConfig {
		merged[k] = v
	}
	return merged
}

func (s *GeneratorService) generateNextChapter(ctx context.Context, job *model.AutoGeneratorJob) error {
	project, err := repository.NewProjectRepository(s.db).GetByID(job.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	genCfg := generationConfig(project, job)
	chapterRepo := repository.NewChapterRepository(s.db)

	last, err := chapterRepo.MaxNumber(job.ProjectID)
	if err != nil {
		return err
	}
	next := last + 1

	outline, err := s.ensureOutline(ctx, job, project, next)
	if err != nil {
		return err
	}
	s.logJob(job, &next, model.LogTypeInfo, fmt.Sprintf("开始生成第 %d 章: %s", next, outline.Title), nil)

	versions, tokens, err := s.writeVersions(ctx, job, project, outline, genCfg)
	if err != nil {
		return err
	}

	ch := &model.Chapter{
		ProjectID:     job.ProjectID,
		ChapterNumber: next,
		Status:        model.ChapterStatusGenerated,
		WordCount:     utf8.RuneCountInString(versions[0].Content),
	}
	selectIndex := -1
	if job.AutoSelectVersion {
		selectIndex = 0
		ch.Status = model.ChapterStatusSuccessful
	}
	if err := chapterRepo.CreateWithVersions(ch, versions, selectIndex); err != nil {
		return fmt.Errorf("save chapter: %w", err)
	}
	if job.AutoSelectVersion {
		s.logJob(job, &next, model.LogTypeSuccess, fmt.Sprintf("第 %d 章生成完成并已自动选择版本", next), nil)
	} else {
		s.logJob(job, &next, model.LogTypeSuccess, fmt.Sprintf("第 %d 章生成完成，共 %d 个版本待选择", next, len(versions)), nil)
	}

	tokens += s.postProcess(ctx, job, project, ch, versions[0].Content, genCfg)
	s.creativeAnalyses(job, next, genCfg)

	err = repository.NewJobRepository(s.db).UpdateFields(job.ID, map[string]interface{}{
		"chapters_generated": gorm.Expr("chapters_generated + ?", 1),
		"total_tokens_used":  gorm.Expr("total_tokens_used + ?", tokens),
		"last_generation_at": time.Now(),
	})
	if err != nil {
		return err
	}
	job.ChaptersGenerated++
	job.TotalTokensUsed += tokens
	return nil
}

// ensureOutline 缺少大纲时一次生成一批，并挂到最后一卷（没有卷时创建默认卷）
func (s *GeneratorService) ensureOutline(ctx context.Context, job *model.AutoGeneratorJob, project *model.Project, number int) (*model.ChapterOutline, error) {
	outlineRepo := repository.NewOutlineRepository(s.db)
	outline, err := outlineRepo.GetByNumber(job.ProjectID, number)
	if err == nil {
		return outline, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	batch := s.cfg.OutlineBatchSize
	s.logJob(job, &number, model.LogTypeInfo, fmt.Sprintf("第 %d 章大纲不存在，自动生成新的大纲（%d章）", number, batch), nil)

	prompt, err := s.outlinePrompt(project, number, batch)
	if err != nil {
		return nil, err
	}
	res, err := s.exec.Call(ctx, orchestrator.FunctionOutlineGeneration, outlineSystemPrompt, prompt,
		orchestrator.WithUser(job.UserID),
		orchestrator.WithProject(job.ProjectID),
		orchestrator.WithJSONResponse(),
	)
	if err != nil {
		return nil, err
	}

	volumeID, err := s.outlineVolume(job.ProjectID)
	if err != nil {
		return nil, err
	}
	outlines := parseOutlines(res.Content, job.ProjectID, volumeID)
	if len(outlines) == 0 {
		return nil, errNoOutlines
	}
	created, err := outlineRepo.CreateBatch(outlines)
	if err != nil {
		return nil, err
	}
	s.logJob(job, &number, model.LogTypeSuccess, fmt.Sprintf("已生成 %d 章大纲", created), nil)

	outline, err = outlineRepo.GetByNumber(job.ProjectID, number)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("第 %d 章大纲生成失败", number)
	}
	return outline, err
}

func (s *GeneratorService) outlinePrompt(project *model.Project, start, count int) (string, error) {
	chapterRepo := repository.NewChapterRepository(s.db)
	outlineRepo := repository.NewOutlineRepository(s.db)

	chapters, err := chapterRepo.ListSummaries(project.ID, start)
	if err != nil {
		return "", err
	}
	outlines, err := outlineRepo.ListBefore(project.ID, start)
	if err != nil {
		return "", err
	}
	titles := make(map[int]string, len(outlines))
	for _, o := range outlines {
		titles[o.ChapterNumber] = o.Title
	}

	completed := make([]map[string]interface{}, 0, len(chapters))
	for _, ch := range chapters {
		completed = append(completed, map[string]interface{}{
			"chapter_number": ch.ChapterNumber,
			"title":          titles[ch.ChapterNumber],
			"summary":        ch.Summary,
		})
	}

	payload := map[string]interface{}{
		"novel_blueprint":    project.Blueprint,
		"completed_chapters": completed,
		"wait_to_generate": map[string]interface{}{
			"start_chapter": start,
			"num_chapters":  count,
		},
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`请根据小说蓝图和已完成章节，为后续章节编写大纲。

%s

**输出格式（严格 JSON）**：
{"chapters": [{"chapter_number": 1, "title": "章节标题", "summary": "章节概要"}]}`, raw), nil
}

func (s *GeneratorService) outlineVolume(projectID string) (*int64, error) {
	volumeRepo := repository.NewVolumeRepository(s.db)
	last, err := volumeRepo.Last(projectID)
	if err == nil {
		return &last.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	v := &model.Volume{
		ProjectID:    projectID,
		VolumeNumber: 1,
		Title:        defaultVolumeTitle,
		Description:  defaultVolumeDesc,
	}
	if err := volumeRepo.Create(v); err != nil {
		return nil, err
	}
	return &v.ID, nil
}

func parseOutlines(text, projectID string, volumeID *int64) []*model.ChapterOutline {
	obj, ok := llm.TryParseObject(text)
	if !ok {
		return nil
	}
	var out []*model.ChapterOutline
	for _, item := range listOf(obj["chapters"]) {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		n := int(number(m["chapter_number"]))
		if n <= 0 {
			continue
		}
		out = append(out, &model.ChapterOutline{
			ProjectID:     projectID,
			VolumeID:      volumeID,
			ChapterNumber: n,
			Title:         truncateRunes(stringify(m["title"]), 200),
			Summary:       stringify(m["summary"]),
		})
	}
	return out
}

// writeVersions 依次生成 K 个候选版本，任一版本失败即本章失败
func (s *GeneratorService) writeVersions(ctx context.Context, job *model.AutoGeneratorJob, project *model.Project, outline *model.ChapterOutline, genCfg model.JSONMap) ([]*model.ChapterVersion, int, error) {
	k := genCfg.Int("num_versions", genCfg.Int("version_count", s.cfg.DefaultVersions))
	if k < 1 {
		k = 1
	}

	previous, err := repository.NewChapterRepository(s.db).ListSummaries(job.ProjectID, outline.ChapterNumber)
	if err != nil {
		return nil, 0, err
	}
	if len(previous) > 3 {
		previous = previous[len(previous)-3:]
	}

	versions := make([]*model.ChapterVersion, 0, k)
	tokens := 0
	for i := 0; i < k; i++ {
		style := versionStyles[i%len(versionStyles)]
		res, err := s.exec.Call(ctx, orchestrator.FunctionChapterContentWriting, writerSystemPrompt,
			chapterPrompt(project, outline, previous, style),
			orchestrator.WithUser(job.UserID),
			orchestrator.WithProject(job.ProjectID),
			orchestrator.WithTemperature(0.9),
			orchestrator.WithTimeout(600*time.Second),
			orchestrator.WithJSONResponse(),
			orchestrator.WithMetadata(map[string]interface{}{"chapter_number": outline.ChapterNumber, "version": i}),
		)
		if err != nil {
			return nil, 0, err
		}
		content, err := extractChapterContent(res.Content)
		if err != nil {
			return nil, 0, err
		}
		tokens += res.TotalTokens
		versions = append(versions, &model.ChapterVersion{
			VersionIndex: i,
			Content:      content,
			Metadata: model.JSONMap{
				"style":    style,
				"provider": res.Provider,
				"model":    res.Model,
				"tokens":   res.TotalTokens,
			},
		})
	}
	return versions, tokens, nil
}

func chapterPrompt(project *model.Project, outline *model.ChapterOutline, previous []*model.Chapter, style string) string {
	var b strings.Builder
	blueprint, _ := json.Marshal(project.Blueprint)
	fmt.Fprintf(&b, "**小说蓝图**：\n%s\n\n", blueprint)
	if len(previous) > 0 {
		b.WriteString("**前情提要**：\n")
		for _, ch := range previous {
			fmt.Fprintf(&b, "第 %d 章：%s\n", ch.ChapterNumber, ch.Summary)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**本章大纲**：第 %d 章《%s》\n%s\n\n", outline.ChapterNumber, outline.Title, outline.Summary)
	fmt.Fprintf(&b, "**写作风格**：%s\n\n", style)
	b.WriteString(`**输出格式（严格 JSON）**：
{"title": "章节标题", "content": "章节正文"}`)
	return b.String()
}

// extractChapterContent 依次尝试 content、chapter_content 字段，都没有时保留整个对象，无法解析时使用原文
func extractChapterContent(text string) (string, error) {
	obj, ok := llm.TryParseObject(text)
	if !ok {
		raw := strings.TrimSpace(llm.CleanResponse(text))
		if raw == "" {
			return "", errEmptyContent
		}
		return raw, nil
	}
	for _, key := range []string{"content", "chapter_content"} {
		if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
			return v, nil
		}
	}
	if len(obj) == 0 {
		return "", errEmptyContent
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// postProcess 生成后的摘要与增强分析入队，摘要失败时降级，不中断任务
func (s *GeneratorService) postProcess(ctx context.Context, job *model.AutoGeneratorJob, project *model.Project, ch *model.Chapter, content string, genCfg model.JSONMap) int {
	in := &AnalysisInput{
		ProjectID:     job.ProjectID,
		UserID:        job.UserID,
		ChapterNumber: ch.ChapterNumber,
		Content:       content,
		WorldSetting:  project.WorldSetting,
	}
	mode := genCfg.String("generation_mode", GenerationModeBasic)
	minLength := genCfg.Map("dynamic_threshold").Int("min_chapter_length", defaultMinChapterLength)
	enqueue := mode == GenerationModeEnhanced && utf8.RuneCountInString(content) >= minLength

	var basic *BasicResult
	var err error
	if enqueue {
		basic, _, err = s.pipeline.AnalyzeChapter(ctx, in)
	} else {
		basic, err = s.pipeline.SummarizeChapter(ctx, in)
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		// 摘要失败使用降级结果，增强分析照常入队
		s.logJob(job, &ch.ChapterNumber, model.LogTypeWarning, fmt.Sprintf("第 %d 章摘要生成失败: %s", ch.ChapterNumber, err.Error()), nil)
		basic = degradedBasic(ch.ChapterNumber)
	}
	if err := repository.NewChapterRepository(s.db).UpdateSummary(ch.ID, basic.Summary, basic.KeyEvents); err != nil {
		s.log.Error("failed to save chapter summary", zap.Int64("chapter_id", ch.ID), zap.Error(err))
		return basic.Tokens
	}

	if enqueue {
		s.enqueueAnalysis(ctx, job, ch, genCfg)
	}
	return basic.Tokens
}

func (s *GeneratorService) enqueueAnalysis(ctx context.Context, job *model.AutoGeneratorJob, ch *model.Chapter, genCfg model.JSONMap) {
	repo := repository.NewPendingAnalysisRepository(s.db)
	exists, err := repo.ExistsForChapter(ch.ID)
	if err != nil {
		s.log.Error("failed to check pending analysis", zap.Int64("chapter_id", ch.ID), zap.Error(err))
		return
	}
	if exists {
		return
	}

	jobID := job.ID
	p := &model.PendingAnalysis{
		ChapterID:        ch.ID,
		ChapterNumber:    ch.ChapterNumber,
		ProjectID:        job.ProjectID,
		UserID:           job.UserID,
		JobID:            &jobID,
		Status:           model.AnalysisStatusPending,
		Priority:         5,
		MaxRetries:       3,
		GenerationConfig: genCfg,
	}
	if err := repo.Create(p); err != nil {
		s.log.Error("failed to create pending analysis", zap.Int64("chapter_id", ch.ID), zap.Error(err))
		return
	}
	s.logJob(job, &ch.ChapterNumber, model.LogTypeInfo, fmt.Sprintf("第 %d 章已加入增强分析队列", ch.ChapterNumber),
		model.JSONMap{"pending_analysis_id": p.ID})

	if s.queue == nil {
		return
	}
	err = s.queue.Push(ctx, &queue.AnalysisMessage{
		PendingAnalysisID: p.ID,
		ProjectID:         p.ProjectID,
		ChapterID:         p.ChapterID,
		ChapterNumber:     p.ChapterNumber,
		Priority:          p.Priority,
	})
	if err != nil {
		s.log.Warn("failed to push wake-up message", zap.Int64("pending_analysis_id", p.ID), zap.Error(err))
	}
}

// creativeAnalyses 张力、一致性、伏笔分析没有独立路由，开启时只记录跳过
func (s *GeneratorService) creativeAnalyses(job *model.AutoGeneratorJob, chapterNumber int, genCfg model.JSONMap) {
	flags := genCfg.Map("creative_analysis")
	names := []struct{ key, label string }{
		{"tension", "张力分析"},
		{"consistency", "一致性检查"},
		{"foreshadowing", "伏笔分析"},
	}
	for _, n := range names {
		if flags.Bool(n.key, false) {
			s.logJob(job, &chapterNumber, model.LogTypeInfo, fmt.Sprintf("第 %d 章%s暂未启用，已跳过", chapterNumber, n.label), nil)
		}
	}
}

// logJob 写任务日志并推送事件，失败只记录到 zap
func (s *GeneratorService) logJob(job *model.AutoGeneratorJob, chapterNumber *int, logType, msg string, details model.JSONMap) {
	entry := &model.AutoGeneratorLog{
		JobID:         job.ID,
		ChapterNumber: chapterNumber,
		LogType:       logType,
		Message:       msg,
		Details:       details,
	}
	if err := repository.NewJobRepository(s.db).CreateLog(entry); err != nil {
		s.log.Error("failed to write job log", zap.Int64("job_id", job.ID), zap.Error(err))
	}

	event := &pubsub.JobEventMessage{
		UserID:    job.UserID,
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		Status:    job.Status,
		LogType:   logType,
		Message:   msg,
	}
	if chapterNumber != nil {
		event.ChapterNumber = *chapterNumber
	}
	if err := s.publisher.PublishJobEvent(context.Background(), event); err != nil {
		s.log.Warn("failed to publish job event", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}
