package logic

import (
	"context"
	"fmt"

	"github.com/blues/pes/internal/model"
	"gorm.io/gorm"
)

// ProjectEventLogic 项目审计记录查询
type ProjectEventLogic struct {
	db *gorm.DB
}

// NewProjectEventLogic 创建审计记录业务逻辑
func NewProjectEventLogic(db *gorm.DB) *ProjectEventLogic {
	return &ProjectEventLogic{db: db}
}

// GetEvents 获取项目审计记录，action 为空时不过滤
func (e *ProjectEventLogic) GetEvents(ctx context.Context, projectId int64, action string, page, pageSize int) ([]model.ProjectEventModel, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}

	var events []model.ProjectEventModel
	var total int64

	query := e.db.WithContext(ctx).Model(&model.ProjectEventModel{}).Where("project_id = ?", projectId)
	if action != "" {
		query = query.Where("action = ?", action)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	if err := query.Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	return events, total, nil
}
