package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidModel 竞拍出价，创建后不可修改
type BidModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId  int64           `json:"project_id" gorm:"not null;index"`
	InvestorId string          `json:"investor_id" gorm:"not null"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	PlacedAt   time.Time       `json:"placed_at" gorm:"not null"`
}

// TableName 自定义表名
func (BidModel) TableName() string {
	return "bid"
}
