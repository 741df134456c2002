package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutModel 开发者打款记录，金额在创建时已冻结
type PayoutModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId   int64  `json:"project_id" gorm:"not null;index"`
	DeliveryId  int64  `json:"delivery_id" gorm:"not null;uniqueIndex"`
	DeveloperId string `json:"developer_id" gorm:"not null;index"`

	GrossAmount decimal.Decimal `json:"gross_amount" gorm:"type:numeric(14,2);not null"`
	PlatformFee decimal.Decimal `json:"platform_fee" gorm:"type:numeric(14,2);not null"`
	NetAmount   decimal.Decimal `json:"net_amount" gorm:"type:numeric(14,2);not null"`

	Status         PayoutStatus `json:"status" gorm:"not null;index"`
	PayoutMethod   PayoutMethod `json:"payout_method"`
	Destination    string       `json:"destination"`
	TransactionRef string       `json:"transaction_ref"` // 打款通道返回的受理编号
	TransactionId  string       `json:"transaction_id"`  // 最终到账流水号
	FailureReason  string       `json:"failure_reason" gorm:"type:text"`
	Notes          string       `json:"notes" gorm:"type:text"`
	RetryCount     int          `json:"retry_count" gorm:"default:0"`

	DispatchedAt *time.Time `json:"dispatched_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// PayoutStatus 打款状态
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"    // 待打款
	PayoutStatusProcessing PayoutStatus = "processing" // 打款中
	PayoutStatusCompleted  PayoutStatus = "completed"  // 已到账
	PayoutStatusFailed     PayoutStatus = "failed"     // 失败，可重试
	PayoutStatusCancelled  PayoutStatus = "cancelled"  // 已取消
)

// IsTerminal 是否为终态
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutStatusCompleted || s == PayoutStatusCancelled
}

// PayoutMethod 打款方式
type PayoutMethod string

const (
	PayoutMethodBank   PayoutMethod = "bank"
	PayoutMethodPayPal PayoutMethod = "paypal"
	PayoutMethodCrypto PayoutMethod = "crypto"
)

// Valid 是否为支持的打款方式
func (m PayoutMethod) Valid() bool {
	return m == PayoutMethodBank || m == PayoutMethodPayPal || m == PayoutMethodCrypto
}

// TableName 自定义表名
func (PayoutModel) TableName() string {
	return "payout"
}
