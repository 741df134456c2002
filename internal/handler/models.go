package handler

import (
	"github.com/blues/pes/internal/model"
	"github.com/shopspring/decimal"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data"`
}

// 分页信息结构
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"pageSize"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"totalPage"`
}

// ListResponse 列表响应
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination Pagination  `json:"pagination"`
}

// PlaceBidRequest 出价
type PlaceBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PurchaseRequest 一口价购买确认
type PurchaseRequest struct {
	InvestorId string `json:"investor_id" binding:"required"`
}

// FeedbackRequest 验收或要求修改
type FeedbackRequest struct {
	Feedback string `json:"feedback"`
}

// ProcessingRequest 标记打款中
type ProcessingRequest struct {
	TransactionRef string `json:"transaction_ref"`
}

// CompleteRequest 标记到账
type CompleteRequest struct {
	TransactionId string `json:"transaction_id"`
	Notes         string `json:"notes"`
}

// ReasonRequest 失败或取消原因
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// PayoutProfileRequest 设置收款方式
type PayoutProfileRequest struct {
	Method      model.PayoutMethod `json:"method" binding:"required"`
	Destination string             `json:"destination" binding:"required"`
}

// GrantCreditsRequest 发放发布额度
type GrantCreditsRequest struct {
	Count int64 `json:"count" binding:"required,min=1"`
}
