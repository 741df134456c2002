package model

import (
	"time"
)

// PostingCreditModel 开发者发布额度
type PostingCreditModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DeveloperId string `json:"developer_id" gorm:"not null;uniqueIndex"`
	Balance     int64  `json:"balance" gorm:"not null;default:0"`
}

// TableName 自定义表名
func (PostingCreditModel) TableName() string {
	return "posting_credit"
}
