package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/config"
	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/model/dto"
	"github.com/qs3c/novel_go_server/internal/orchestrator"
	"github.com/qs3c/novel_go_server/internal/pkg/queue"
	"github.com/qs3c/novel_go_server/internal/repository"
	"github.com/qs3c/novel_go_server/internal/testutil"
)

// blockingExecutor 调用一直阻塞到 ctx 取消，用来把生成循环停在 AI 调用上
type blockingExecutor struct {
	entered chan struct{}
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{entered: make(chan struct{}, 16)}
}

func (b *blockingExecutor) Call(ctx context.Context, fn orchestrator.Function, systemPrompt, userPrompt string, opts ...orchestrator.Option) (*orchestrator.Result, error) {
	b.entered <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingExecutor) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-b.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("generator loop never reached the AI call")
	}
}

func generatorTestConfig() config.GeneratorConfig {
	cfg := (&config.Config{}).Defaults().Generator
	cfg.MaxConsecutiveErrors = 2
	return cfg
}

func newTestGenerator(t *testing.T, db *gorm.DB, exec Executor, q *queue.Queue) *GeneratorService {
	t.Helper()
	svc := NewGeneratorService(db, exec, q, nil, NewSupervisor(zaptest.NewLogger(t)), generatorTestConfig(), zaptest.NewLogger(t))
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		return sleepCtx(ctx, min(d, 5*time.Millisecond))
	}
	return svc
}

func jobLogMessages(t *testing.T, db *gorm.DB, jobID int64) []string {
	t.Helper()
	logs, err := repository.NewJobRepository(db).ListLogs(jobID, 0)
	require.NoError(t, err)
	msgs := make([]string, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		msgs = append(msgs, logs[i].Message)
	}
	return msgs
}

func intPtr(n int) *int { return &n }

func outlineReply(numbers ...int) testutil.ScriptedReply {
	var chapters []map[string]interface{}
	for _, n := range numbers {
		chapters = append(chapters, map[string]interface{}{
			"chapter_number": n,
			"title":          "标题" + string(rune('A'+n)),
			"summary":        "概要",
		})
	}
	return testutil.ReplyJSON(map[string]interface{}{"chapters": chapters})
}

func TestGeneratorService_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	svc := newTestGenerator(t, db, newBlockingExecutor(), nil)
	project := testutil.TestProject(t, db, 1)

	job, err := svc.Create(1, &dto.CreateJobRequest{ProjectID: project.ID, TargetChapters: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.ChaptersPerBatch)
	assert.Equal(t, 60, job.IntervalSeconds)
	assert.True(t, job.AutoSelectVersion)
	assert.Equal(t, []string{"任务已创建"}, jobLogMessages(t, db, job.ID))

	_, err = svc.Create(1, &dto.CreateJobRequest{ProjectID: project.ID})
	assert.ErrorIs(t, err, ErrJobAlreadyActive)

	_, err = svc.Create(2, &dto.CreateJobRequest{ProjectID: project.ID})
	assert.ErrorIs(t, err, ErrProjectPermission)

	_, err = svc.Create(1, &dto.CreateJobRequest{ProjectID: "missing"})
	assert.ErrorIs(t, err, ErrProjectNotFound)

	_, err = svc.Get(2, job.ID)
	assert.ErrorIs(t, err, ErrJobPermission)
	_, err = svc.Get(1, 999)
	assert.ErrorIs(t, err, ErrJobNotFound)

	jobs, err := svc.ListByProject(1, project.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// 终态任务不再占用项目
	_, err = svc.Stop(1, job.ID)
	require.NoError(t, err)
	manual := false
	interval := 0
	next, err := svc.Create(1, &dto.CreateJobRequest{
		ProjectID:         project.ID,
		ChaptersPerBatch:  3,
		IntervalSeconds:   &interval,
		AutoSelectVersion: &manual,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, next.ChaptersPerBatch)
	assert.Zero(t, next.IntervalSeconds)
	assert.False(t, next.AutoSelectVersion)
}

func TestGeneratorService_Transitions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	exec := newBlockingExecutor()
	svc := newTestGenerator(t, db, exec, nil)
	project := testutil.TestProject(t, db, 1)
	job := testutil.TestGeneratorJob(t, db, project.ID, 1, model.JobStatusPending)

	_, err := svc.Pause(1, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	started, err := svc.Start(1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, started.Status)
	require.NotNil(t, started.StartedAt)
	exec.waitEntered(t)
	assert.True(t, svc.supervisor.Running(job.ID))

	_, err = svc.Start(1, job.ID)
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)
	_, err = svc.Start(2, job.ID)
	assert.ErrorIs(t, err, ErrJobPermission)

	paused, err := svc.Pause(1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPaused, paused.Status)

	resumed, err := svc.Start(1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, resumed.Status)
	assert.Equal(t, started.StartedAt.Unix(), resumed.StartedAt.Unix())
	assert.Equal(t, 1, svc.supervisor.Count())

	stopped, err := svc.Stop(1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusStopped, stopped.Status)
	assert.NotNil(t, stopped.CompletedAt)
	assert.False(t, svc.supervisor.Running(job.ID))

	_, err = svc.Start(1, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Stop(1, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// 取消后的循环不覆盖 stopped，也不追加关闭日志
	assert.Equal(t, []string{
		"任务已启动",
		"第 1 章大纲不存在，自动生成新的大纲（10章）",
		"任务已暂停",
		"任务已恢复",
		"任务已停止",
	}, jobLogMessages(t, db, job.ID))

	logs, err := svc.Logs(1, job.ID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "任务已停止", logs[0].Message)
}

func TestGeneratorService_RunToTarget(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	fake := testutil.NewScriptedLLM().
		On("outline_generation", outlineReply(0, 1, 2, 3)).
		On("chapter_content_writing", testutil.Reply(`{"title": "初入宗门", "content": "林渊踏入山门。"}`)).
		On("summary_extraction", testutil.ReplyJSON(map[string]interface{}{"summary": "林渊入门", "key_events": []string{"入门"}}))
	svc := newTestGenerator(t, db, setupOrchestrator(t, db, fake), nil)

	project := testutil.TestProject(t, db, 1)
	job := testutil.TestGeneratorJob(t, db, project.ID, 1, model.JobStatusPending,
		testutil.WithTarget(2),
		testutil.WithJobConfig(model.JSONMap{"num_versions": 2}),
		func(j *model.AutoGeneratorJob) { j.ChaptersPerBatch = 3 },
	)

	_, err := svc.Start(1, job.ID)
	require.NoError(t, err)
	svc.supervisor.Wait(job.ID)

	done, err := svc.Get(1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Equal(t, 2, done.ChaptersGenerated)
	// 每章两个版本加一次摘要
	assert.Equal(t, 600, done.TotalTokensUsed)
	assert.NotNil(t, done.CompletedAt)
	assert.NotNil(t, done.LastGenerationAt)

	assert.Equal(t, 1, fake.Calls("outline_generation"))
	assert.Equal(t, 4, fake.Calls("chapter_content_writing"))
	assert.Equal(t, 2, fake.Calls("summary_extraction"))
	assert.Zero(t, fake.Calls("basic_analysis"))

	for _, req := range fake.Requests() {
		if req.Model == "chapter_content_writing" {
			assert.InDelta(t, 0.9, req.Temperature, 0.0001)
			assert.Equal(t, 600*time.Second, req.Timeout)
		}
	}

	chapterRepo := repository.NewChapterRepository(db)
	for n := 1; n <= 2; n++ {
		ch, err := chapterRepo.GetByNumber(project.ID, n)
		require.NoError(t, err)
		assert.Equal(t, model.ChapterStatusSuccessful, ch.Status)
		assert.Equal(t, "林渊入门", ch.Summary)
		require.NotNil(t, ch.SelectedVersionID)
		content, err := chapterRepo.SelectedContent(ch)
		require.NoError(t, err)
		assert.Equal(t, "林渊踏入山门。", content)
	}
	_, err = chapterRepo.GetByNumber(project.ID, 3)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	volumes, err := repository.NewVolumeRepository(db).ListByProject(project.ID)
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, "默认", volumes[0].Title)
	outline, err := repository.NewOutlineRepository(db).GetByNumber(project.ID, 3)
	require.NoError(t, err)
	require.NotNil(t, outline.VolumeID)
	assert.Equal(t, volumes[0].ID, *outline.VolumeID)

	msgs := jobLogMessages(t, db, job.ID)
	assert.Contains(t, msgs, "第 1 章大纲不存在，自动生成新的大纲（10章）")
	assert.Contains(t, msgs, "已生成 3 章大纲")
	assert.Contains(t, msgs, "第 2 章生成完成并已自动选择版本")
	assert.Equal(t, "已完成目标章节数: 2", msgs[len(msgs)-1])
}

func TestGeneratorService_ManualSelection(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	fake := testutil.NewScriptedLLM().
		On("chapter_content_writing", testutil.Reply(`{"chapter_content": "另一种写法"}`)).
		On("summary_extraction", testutil.Fail(errors.New("connection reset")))
	svc := newTestGenerator(t, db, setupOrchestrator(t, db, fake), nil)

	project := testutil.TestProject(t, db, 1, testutil.WithGenerationConfig(model.JSONMap{"version_count": 3}))
	testutil.TestOutline(t, db, project.ID, 1)
	job := testutil.TestGeneratorJob(t, db, project.ID, 1, model.JobStatusPending,
		testutil.WithTarget(1),
		testutil.WithJobConfig(model.JSONMap{"creative_analysis": map[string]interface{}{"tension": true}}),
		func(j *model.AutoGeneratorJob) { j.AutoSelectVersion = false },
	)

	_, err := svc.Start(1, job.ID)
	require.NoError(t, err)
	svc.supervisor.Wait(job.ID)

	done, err := svc.Get(1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	// 摘要失败不计入 token，也不算本章失败
	assert.Equal(t, 300, done.TotalTokensUsed)
	assert.Zero(t, done.ErrorCount)
	assert.Zero(t, fake.Calls("outline_generation"))

	ch, err := repository.NewChapterRepository(db).GetByNumber(project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.ChapterStatusGenerated, ch.Status)
	assert.Nil(t, ch.SelectedVersionID)

	var versions int64
	require.NoError(t, db.Model(&model.ChapterVersion{}).Where("chapter_id = ?", ch.ID).Count(&versions).Error)
	assert.Equal(t, int64(3), versions)

	msgs := jobLogMessages(t, db, job.ID)
	assert.Contains(t, msgs, "第 1 章生成完成，共 3 个版本待选择")
	assert.Contains(t, msgs, "第 1 章张力分析暂未启用，已跳过")
	found := false
	for _, m := range msgs {
		if strings.HasPrefix(m, "第 1 章摘要生成失败") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGeneratorService_EnhancedModeEnqueues(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	q := queue.NewQueue(setupTestRedis(t), "test_generator_queue")

	fake := testutil.NewScriptedLLM().
		On("chapter_content_writing", testutil.Reply(`{"content": "林渊拔剑，剑光如雪。"}`)).
		On("basic_analysis", testutil.ReplyJSON(map[string]interface{}{"summary": "拔剑", "key_events": []string{"拔剑"}})).
		On("summary_extraction", testutil.ReplyJSON(map[string]interface{}{"summary": "短章", "key_events": []string{}}))
	svc := newTestGenerator(t, db, setupOrchestrator(t, db, fake), q)

	project := testutil.TestProject(t, db, 1)
	testutil.TestOutline(t, db, project.ID, 1)
	testutil.TestOutline(t, db, project.ID, 2)
	job := testutil.TestGeneratorJob(t, db, project.ID, 1, model.JobStatusPending,
		testutil.WithTarget(1),
		testutil.WithJobConfig(model.JSONMap{
			"num_versions":      1,
			"generation_mode":   GenerationModeEnhanced,
			"dynamic_threshold": map[string]interface{}{"min_chapter_length": 5},
		}),
	)

	_, err := svc.Start(1, job.ID)
	require.NoError(t, err)
	svc.supervisor.Wait(job.ID)

	assert.Equal(t, 1, fake.Calls("basic_analysis"))
	assert.Zero(t, fake.Calls("enhanced_analysis"))
	assert.Zero(t, fake.Calls("summary_extraction"))

	ch, err := repository.NewChapterRepository(db).GetByNumber(project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "拔剑", ch.Summary)

	pending, err := repository.NewPendingAnalysisRepository(db).LatestForChapter(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisStatusPending, pending.Status)
	assert.Equal(t, 5, pending.Priority)
	assert.Equal(t, 3, pending.MaxRetries)
	require.NotNil(t, pending.JobID)
	assert.Equal(t, job.ID, *pending.JobID)
	assert.Equal(t, GenerationModeEnhanced, pending.GenerationConfig.String("generation_mode", ""))

	msg, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, pending.ID, msg.PendingAnalysisID)
	assert.Equal(t, 1, msg.ChapterNumber)

	assert.Contains(t, jobLogMessages(t, db, job.ID), "第 1 章已加入增强分析队列")

	// 短章节不入队，只提取摘要
	job2 := testutil.TestGeneratorJob(t, db, project.ID, 1, model.JobStatusPending,
		testutil.WithTarget(1),
		testutil.WithJobConfig(model.JSONMap{
			"num_versions":      1,
			"generation_mode":   GenerationModeEnhanced,
			"dynamic_threshold": map[string]interface{}{"min_chapter_length": 1000},
		}),
	)
	_, err = svc.Start(1, job2.ID)
	require.NoError(t, err)
	svc.supervisor.Wait(job2.ID)

	ch2, err := repository.NewChapterRepository(db).GetByNumber(project.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "短章", ch2.Summary)
	exists, err := repository.NewPendingAnalysisRepository(db).ExistsForChapter(ch2.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGeneratorService_EnhancedModeBasicFailureStillEnqueues(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	q := queue.NewQueue(setupTestRedis(t), "test_generator_queue")

	fake := testutil.NewScriptedLLM().
		On("chapter_content_writing", testutil.Reply(`{"content": "林渊拔剑，剑光如雪。"}`)).
		On("basic_analysis", testutil.Fail(errors.New("connection reset")))
	svc := newTestGenerator(t, db, setupOrchestrator(t, db, fake), q)

	project := testutil.TestProject(t, db, 1)
	testutil.TestOutline(t, db, project.ID, 1)
	job := testutil.TestGeneratorJob(t, db, project.ID, 1, model.JobStatusPending,
		testutil.WithTarget(1),
		testutil.WithJobConfig(model.JSONMap{
			"num_versions":      1,
			"generation_mode":   GenerationModeEnhanced,
			"dynamic_threshold": map[string]interface{}{"min_chapter_length": 5},
		}),
	)

	_, err := svc.Start(1, job.ID)
	require.NoError(t, err)
	svc.supervisor.Wait(job.ID)

	done, err := svc.Get(1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Zero(t, done.ErrorCount)

	ch, err := repository.NewChapterRepository(db).GetByNumber(project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "第 1 章内容摘要生成失败", ch.Summary)

	pending, err := repository.NewPendingAnalysisRepository(db).LatestForChapter(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisStatusPending, pending.Status)

	msg, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, pending.ID, msg.PendingAnalysisID)
}

func TestGeneratorService_ConsecutiveErrors(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	fake := testutil.NewScriptedLLM().
		On("outline_generation", testutil.Fail(errors.New("connection reset")))
	svc := newTestGenerator(t, db, setupOrchestrator(t, db, fake), nil)

	project := testutil.TestProject(t, db, 1)
	job := testutil.TestGeneratorJob(t, db, project.ID, 1, model.JobStatusPending)

	_, err := svc.Start(1, job.ID)
	require.NoError(t, err)
	svc.supervisor.Wait(job.ID)

	done, err := svc.Get(1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusError, done.Status)
	assert.Equal(t, 2, done.ErrorCount)
	assert.NotEmpty(t, done.LastError)
	assert.Zero(t, done.ChaptersGenerated)

	msgs := jobLogMessages(t, db, job.ID)
	assert.True(t, strings.HasPrefix(msgs[len(msgs)-1], "任务因错误次数过多而停止: "))
}

func TestGeneratorService_EmptyOutlineFails(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	fake := testutil.NewScriptedLLM().
		On("outline_generation", testutil.Reply(`{"chapters": []}`))
	svc := newTestGenerator(t, db, setupOrchestrator(t, db, fake), nil)

	project := testutil.TestProject(t, db, 1)
	job := testutil.TestGeneratorJob(t, db, project.ID, 1, model.JobStatusPending)

	_, err := svc.Start(1, job.ID)
	require.NoError(t, err)
	svc.supervisor.Wait(job.ID)

	done, err := svc.Get(1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusError, done.Status)
	assert.Equal(t, errNoOutlines.Error(), done.LastError)
}

func TestGeneratorService_Resume(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	exec := newBlockingExecutor()
	svc := newTestGenerator(t, db, exec, nil)
	project := testutil.TestProject(t, db, 1)
	running := testutil.TestGeneratorJob(t, db, project.ID, 1, model.JobStatusRunning)
	testutil.TestGeneratorJob(t, db, project.ID, 1, model.JobStatusPaused)

	n, err := svc.Resume()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	exec.waitEntered(t)

	// 进程关闭时取消循环，运行中的任务转为 stopped
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.supervisor.Shutdown(ctx))

	job, err := repository.NewJobRepository(db).GetByID(running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusStopped, job.Status)
	assert.Equal(t, []string{
		"第 1 章大纲不存在，自动生成新的大纲（10章）",
		"服务关闭，任务已停止",
	}, jobLogMessages(t, db, running.ID))

	// 正常关闭后的任务已是终态，下次启动不会再拉起；只有崩溃遗留的 running 任务会恢复
	n, err = svc.Resume()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, svc.supervisor.Count())
}

func TestExtractChapterContent(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"content field", `{"content": "正文"}`, "正文", false},
		{"chapter_content field", `{"chapter_content": "正文二"}`, "正文二", false},
		{"blank content falls through", `{"content": " ", "chapter_content": "正文三"}`, "正文三", false},
		{"unknown keys keep object", `{"title": "标题"}`, `{"title":"标题"}`, false},
		{"empty object", `{}`, "", true},
		{"plain text", "林渊醒来。", "林渊醒来。", false},
		{"blank", "   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractChapterContent(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, errEmptyContent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOutlines(t *testing.T) {
	volumeID := int64(7)
	outlines := parseOutlines(`{"chapters": [
		{"chapter_number": 0, "title": "序"},
		{"chapter_number": "4", "title": "下山", "summary": "林渊下山"},
		"坏数据",
		{"chapter_number": 5, "title": "入城"}
	]}`, "p", &volumeID)

	require.Len(t, outlines, 2)
	assert.Equal(t, 4, outlines[0].ChapterNumber)
	assert.Equal(t, "林渊下山", outlines[0].Summary)
	assert.Equal(t, &volumeID, outlines[1].VolumeID)
	assert.Equal(t, "p", outlines[1].ProjectID)

	assert.Empty(t, parseOutlines("不是 JSON", "p", nil))
}

func TestGenerationConfig(t *testing.T) {
	project := &model.Project{GenerationConfig: model.JSONMap{"num_versions": 3, "generation_mode": "basic"}}
	job := &model.AutoGeneratorJob{GenerationConfig: model.JSONMap{"generation_mode": "enhanced"}}

	merged := generationConfig(project, job)
	assert.Equal(t, "enhanced", merged.String("generation_mode", ""))
	assert.Equal(t, 3, merged.Int("num_versions", 0))
	assert.Equal(t, "basic", project.GenerationConfig["generation_mode"])
}
