package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProjectModel 开发者发布的项目，聚合根
type ProjectModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`
	DeveloperId string `json:"developer_id" gorm:"not null;index"`

	// 报价信息
	ListingType ListingType      `json:"listing_type" gorm:"not null"`
	Budget      decimal.Decimal  `json:"budget" gorm:"type:numeric(14,2);not null"`
	LowestBid   *decimal.Decimal `json:"lowest_bid,omitempty" gorm:"type:numeric(14,2)"`  // 竞拍底价
	HighestBid  *decimal.Decimal `json:"highest_bid,omitempty" gorm:"type:numeric(14,2)"` // 当前最高出价

	// 状态
	Status           ProjectStatus `json:"status" gorm:"not null;index"`
	AssignedInvestor string        `json:"assigned_investor"`

	// 乐观锁版本号
	Version int64 `json:"version" gorm:"not null;default:1"`
}

// ProjectStatus 项目状态
type ProjectStatus string

const (
	ProjectStatusOpen       ProjectStatus = "open"        // 竞拍中
	ProjectStatusFixedPrice ProjectStatus = "fixed_price" // 一口价在售
	ProjectStatusInProgress ProjectStatus = "in_progress" // 开发中
	ProjectStatusDisputed   ProjectStatus = "disputed"    // 争议中
	ProjectStatusClosed     ProjectStatus = "closed"      // 已结束
)

// ListingType 发布方式
type ListingType string

const (
	ListingTypeAuction    ListingType = "auction"
	ListingTypeFixedPrice ListingType = "fixed_price"
)

// TableName 自定义表名
func (ProjectModel) TableName() string {
	return "project"
}
