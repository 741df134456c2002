package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryModel 交付记录，每个项目同一时间只有一条活跃交付
type DeliveryModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId int64          `json:"project_id" gorm:"not null;index"`
	Sequence  int            `json:"sequence" gorm:"not null"`
	Status    DeliveryStatus `json:"status" gorm:"not null"`
	Archived  bool           `json:"archived" gorm:"default:false"`

	// 开发者提交内容
	DeliveryURL   string     `json:"delivery_url"`
	DeliveryNotes string     `json:"delivery_notes" gorm:"type:text"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	RevisionCount int        `json:"revision_count" gorm:"default:0"`

	// 投资人反馈
	Feedback  string     `json:"feedback" gorm:"type:text"`
	DecidedAt *time.Time `json:"decided_at"`

	// 提交时冻结的金额，之后不再重算
	ProjectAmount      decimal.Decimal `json:"project_amount" gorm:"type:numeric(14,2);default:0"`
	PlatformCommission decimal.Decimal `json:"platform_commission" gorm:"type:numeric(14,2);default:0"`
	DeveloperPayout    decimal.Decimal `json:"developer_payout" gorm:"type:numeric(14,2);default:0"`

	// 争议信息
	DisputeReason DisputeReason `json:"dispute_reason,omitempty"`
	DisputeNotes  string        `json:"dispute_notes,omitempty" gorm:"type:text"`
	Resolution    Resolution    `json:"resolution,omitempty"`
}

// DeliveryStatus 交付状态
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"   // 待开发者提交
	DeliveryStatusSubmitted DeliveryStatus = "submitted" // 待投资人处理
	DeliveryStatusApproved  DeliveryStatus = "approved"  // 已验收
	DeliveryStatusDisputed  DeliveryStatus = "disputed"  // 争议中
	DeliveryStatusResolved  DeliveryStatus = "resolved"  // 争议已裁决
)

// IsOpen 交付仍在进行中
func (s DeliveryStatus) IsOpen() bool {
	return s == DeliveryStatusPending || s == DeliveryStatusSubmitted || s == DeliveryStatusDisputed
}

// TableName 自定义表名
func (DeliveryModel) TableName() string {
	return "delivery"
}
