package logic

import (
	"context"
	"errors"
	"fmt"

	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RefundRecordLogic 退款记录业务逻辑
type RefundRecordLogic struct {
	db *gorm.DB
}

// NewRefundRecordLogic 创建退款记录业务逻辑
func NewRefundRecordLogic(db *gorm.DB) *RefundRecordLogic {
	return &RefundRecordLogic{db: db}
}

// GetRefund 获取退款记录
func (r *RefundRecordLogic) GetRefund(ctx context.Context, id int64) (*model.RefundRecordModel, error) {
	var refund model.RefundRecordModel
	if err := r.db.WithContext(ctx).First(&refund, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("GetRefund", "refund %d not found", id)
		}
		return nil, fmt.Errorf("load refund %d: %w", id, err)
	}
	return &refund, nil
}

// GetProjectRefunds 获取项目退款记录
func (r *RefundRecordLogic) GetProjectRefunds(ctx context.Context, projectId int64, page, pageSize int) ([]model.RefundRecordModel, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	var refunds []model.RefundRecordModel
	var total int64

	q := r.db.WithContext(ctx).Model(&model.RefundRecordModel{}).Where("project_id = ?", projectId)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count refunds: %w", err)
	}
	if err := q.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&refunds).Error; err != nil {
		return nil, 0, fmt.Errorf("list refunds: %w", err)
	}
	return refunds, total, nil
}

// RefundStats 退款统计
type RefundStats struct {
	TotalRefunds   int64           `json:"total_refunds"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PendingRefunds int64           `json:"pending_refunds"`
	SuccessRefunds int64           `json:"success_refunds"`
	FailedRefunds  int64           `json:"failed_refunds"`
}

// GetRefundStats 获取退款统计信息，projectId 为 0 时统计全平台
func (r *RefundRecordLogic) GetRefundStats(ctx context.Context, projectId int64) (*RefundStats, error) {
	q := r.db.WithContext(ctx).Model(&model.RefundRecordModel{})
	if projectId > 0 {
		q = q.Where("project_id = ?", projectId)
	}

	var refunds []model.RefundRecordModel
	if err := q.Select("amount, status").Find(&refunds).Error; err != nil {
		return nil, fmt.Errorf("load refunds: %w", err)
	}

	stats := &RefundStats{TotalAmount: decimal.Zero}
	for _, rf := range refunds {
		stats.TotalRefunds++
		stats.TotalAmount = stats.TotalAmount.Add(rf.Amount)
		switch rf.Status {
		case model.RefundStatusPending:
			stats.PendingRefunds++
		case model.RefundStatusSuccess:
			stats.SuccessRefunds++
		case model.RefundStatusFailed:
			stats.FailedRefunds++
		}
	}
	return stats, nil
}

// claimRetry 条件更新 failed -> pending，同一退款同时只有一次重试在途
func (r *RefundRecordLogic) claimRetry(ctx context.Context, op string, id int64) (*model.RefundRecordModel, error) {
	res := r.db.WithContext(ctx).
		Model(&model.RefundRecordModel{}).
		Where("id = ? AND status = ?", id, model.RefundStatusFailed).
		Updates(map[string]interface{}{"status": model.RefundStatusPending})
	if res.Error != nil {
		return nil, fmt.Errorf("claim refund %d: %w", id, res.Error)
	}
	refund, err := r.GetRefund(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, transitionError(op, "refund %d is %s, only failed refunds can be retried", id, refund.Status)
	}
	return refund, nil
}

// markResult 写回支付方调用结果，失败只记日志，裁决不受影响
func (r *RefundRecordLogic) markResult(ctx context.Context, id int64, callErr error) {
	updates := map[string]interface{}{
		"status":         model.RefundStatusSuccess,
		"failure_reason": "",
	}
	if callErr != nil {
		updates["status"] = model.RefundStatusFailed
		updates["failure_reason"] = callErr.Error()
	}
	if err := r.db.WithContext(context.WithoutCancel(ctx)).
		Model(&model.RefundRecordModel{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		logger.Error("Failed to record refund %d result: %v", id, err)
	}
}
