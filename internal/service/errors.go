package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/repository"
)

var (
	ErrProjectNotFound   = errors.New("项目不存在")
	ErrProjectPermission = errors.New("无权操作此项目")
)

func ownedProject(repo *repository.ProjectRepository, userID int64, projectID string) (*model.Project, error) {
	p, err := repo.GetByID(projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrProjectPermission
	}
	return p, nil
}
