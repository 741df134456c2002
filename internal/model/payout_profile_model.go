package model

import (
	"time"
)

// PayoutProfileModel 开发者收款方式
type PayoutProfileModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DeveloperId string       `json:"developer_id" gorm:"not null;uniqueIndex"`
	Method      PayoutMethod `json:"method" gorm:"not null"`
	Destination string       `json:"destination" gorm:"not null"` // 银行账号、PayPal 邮箱或钱包地址
}

// TableName 自定义表名
func (PayoutProfileModel) TableName() string {
	return "payout_profile"
}
