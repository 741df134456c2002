package model

import (
	"time"
)

// ProjectEventModel 项目状态变更审计记录，只追加
type ProjectEventModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId  int64  `json:"project_id" gorm:"not null;index"`
	Action     string `json:"action" gorm:"not null"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorId    string `json:"actor_id"`
	ActorRole  string `json:"actor_role"`
	Data       string `json:"data" gorm:"type:text"`
}

// TableName 自定义表名
func (ProjectEventModel) TableName() string {
	return "project_event"
}
