package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundRecordModel 退款指令记录，裁决为退还投资人时生成
type RefundRecordModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId     int64           `json:"project_id" gorm:"not null;index"`
	DisputeId     int64           `json:"dispute_id" gorm:"not null;uniqueIndex"`
	InvestorId    string          `json:"investor_id" gorm:"not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	Reference     string          `json:"reference" gorm:"uniqueIndex"` // 幂等键
	Status        RefundStatus    `json:"status" gorm:"default:'pending'"`
	FailureReason string          `json:"failure_reason" gorm:"type:text"`
}

// RefundStatus 退款状态
type RefundStatus string

const (
	RefundStatusPending RefundStatus = "pending" // 待处理
	RefundStatusSuccess RefundStatus = "success" // 成功
	RefundStatusFailed  RefundStatus = "failed"  // 失败，需人工处理
)

// TableName 自定义表名
func (RefundRecordModel) TableName() string {
	return "refund_record"
}
