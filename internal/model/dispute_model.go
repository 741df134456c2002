package model

import (
	"time"
)

// DisputeModel 交付争议，与争议中的交付一一对应
type DisputeModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId  int64         `json:"project_id" gorm:"not null;index"`
	DeliveryId int64         `json:"delivery_id" gorm:"not null;uniqueIndex"`
	OpenedBy   string        `json:"opened_by" gorm:"not null"` // developer, investor
	OpenedById string        `json:"opened_by_id" gorm:"not null"`
	Reason     DisputeReason `json:"reason" gorm:"not null"`
	Notes      string        `json:"notes" gorm:"type:text"`

	Status     DisputeStatus `json:"status" gorm:"not null;default:'open'"`
	Resolution Resolution    `json:"resolution,omitempty"`
	AdminNotes string        `json:"admin_notes,omitempty" gorm:"type:text"`
	ResolvedBy string        `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time    `json:"resolved_at"`
}

// DisputeStatus 争议状态
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"     // 待裁决
	DisputeStatusResolved DisputeStatus = "resolved" // 已裁决
)

// DisputeReason 争议原因
type DisputeReason string

const (
	DisputeReasonIncomplete      DisputeReason = "incomplete"
	DisputeReasonNotWorking      DisputeReason = "not_working"
	DisputeReasonPoorQuality     DisputeReason = "poor_quality"
	DisputeReasonMissingFeatures DisputeReason = "missing_features"
	DisputeReasonOther           DisputeReason = "other"
)

// Valid 是否为合法的争议原因
func (r DisputeReason) Valid() bool {
	switch r {
	case DisputeReasonIncomplete, DisputeReasonNotWorking, DisputeReasonPoorQuality,
		DisputeReasonMissingFeatures, DisputeReasonOther:
		return true
	}
	return false
}

// Resolution 管理员裁决结果
type Resolution string

const (
	ResolutionRefundDeveloper Resolution = "refund_developer" // 款项归开发者
	ResolutionRefundInvestor  Resolution = "refund_investor"  // 全额退还投资人
	ResolutionContinue        Resolution = "continue_project" // 继续开发
)

// Valid 是否为合法的裁决结果
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionRefundDeveloper, ResolutionRefundInvestor, ResolutionContinue:
		return true
	}
	return false
}

// TableName 自定义表名
func (DisputeModel) TableName() string {
	return "dispute"
}
