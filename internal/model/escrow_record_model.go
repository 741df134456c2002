package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowRecordModel 托管入账记录，项目进入开发阶段时生成
type EscrowRecordModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId    int64           `json:"project_id" gorm:"not null;uniqueIndex"`
	InvestorId   string          `json:"investor_id" gorm:"not null"`
	Source       EscrowSource    `json:"source" gorm:"not null"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`        // 项目金额
	Commission   decimal.Decimal `json:"commission" gorm:"type:numeric(14,2);default:0"`   // 平台佣金
	FixedFee     decimal.Decimal `json:"fixed_fee" gorm:"type:numeric(14,2);default:0"`    // 一口价固定费用
	TotalCharged decimal.Decimal `json:"total_charged" gorm:"type:numeric(14,2);not null"` // 投资人实付
}

// EscrowSource 托管来源
type EscrowSource string

const (
	EscrowSourceAuction    EscrowSource = "auction"     // 竞拍成交
	EscrowSourceFixedPrice EscrowSource = "fixed_price" // 一口价购买
)

// TableName 自定义表名
func (EscrowRecordModel) TableName() string {
	return "escrow_record"
}
