package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
)

// activeJobStatuses 视为占用项目的任务状态
var activeJobStatuses = []string{
	model.JobStatusPending,
	model.JobStatusRunning,
	model.JobStatusPaused,
}

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(job *model.AutoGeneratorJob) error {
	return r.db.Create(job).Error
}

func (r *JobRepository) GetByID(id int64) (*model.AutoGeneratorJob, error) {
	var job model.AutoGeneratorJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) Update(job *model.AutoGeneratorJob) error {
	return r.db.Save(job).Error
}

func (r *JobRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.AutoGeneratorJob{}).Where("id = ?", id).Updates(fields).Error
}

func (r *JobRepository) UpdateStatus(id int64, status string) error {
	return r.db.Model(&model.AutoGeneratorJob{}).Where("id = ?", id).Update("status", status).Error
}

// Transition 仅当当前状态属于 from 时切换为 to，返回是否切换成功
func (r *JobRepository) Transition(id int64, from []string, to string, extra map[string]interface{}) (bool, error) {
	fields := map[string]interface{}{"status": to}
	for k, v := range extra {
		fields[k] = v
	}
	result := r.db.Model(&model.AutoGeneratorJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	return result.RowsAffected > 0, result.Error
}

// FindActiveByProject 项目下未结束的任务，没有时返回 gorm.ErrRecordNotFound
func (r *JobRepository) FindActiveByProject(projectID string) (*model.AutoGeneratorJob, error) {
	var job model.AutoGeneratorJob
	err := r.db.Where("project_id = ? AND status IN ?", projectID, activeJobStatuses).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) ListByProject(projectID string) ([]*model.AutoGeneratorJob, error) {
	var jobs []*model.AutoGeneratorJob
	err := r.db.Where("project_id = ?", projectID).Order("id DESC").Find(&jobs).Error
	return jobs, err
}

// ListByStatus 指定状态的任务，用于进程重启后恢复运行中的任务
func (r *JobRepository) ListByStatus(status string) ([]*model.AutoGeneratorJob, error) {
	var jobs []*model.AutoGeneratorJob
	err := r.db.Where("status = ?", status).Order("id ASC").Find(&jobs).Error
	return jobs, err
}

func (r *JobRepository) CreateLog(log *model.AutoGeneratorLog) error {
	return r.db.Create(log).Error
}

// ListLogs 任务日志，按时间倒序
func (r *JobRepository) ListLogs(jobID int64, limit int) ([]*model.AutoGeneratorLog, error) {
	var logs []*model.AutoGeneratorLog
	query := r.db.Where("job_id = ?", jobID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&logs).Error
	return logs, err
}
