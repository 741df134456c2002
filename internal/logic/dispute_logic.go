package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/metrics"
	"github.com/blues/pes/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RefundFailedWarning 裁决已生效但退款未成功时返回给调用方的提示
const RefundFailedWarning = "dispute resolved, but refund failed, process manually"

// DisputeLogic 争议裁决业务逻辑
type DisputeLogic struct {
	*base
	payment       gateway.Payment
	refunds       *RefundRecordLogic
	refundTimeout time.Duration
}

// ResolveRequest 管理员裁决
type ResolveRequest struct {
	Resolution model.Resolution `json:"resolution"`
	AdminNotes string           `json:"admin_notes"`
}

// GetDispute 获取争议详情
func (d *DisputeLogic) GetDispute(ctx context.Context, id int64) (*model.DisputeModel, error) {
	var dispute model.DisputeModel
	if err := d.db.WithContext(ctx).First(&dispute, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("GetDispute", "dispute %d not found", id)
		}
		return nil, fmt.Errorf("load dispute %d: %w", id, err)
	}
	return &dispute, nil
}

// ListOpenDisputes 待裁决的争议，按发起时间排序
func (d *DisputeLogic) ListOpenDisputes(ctx context.Context) ([]model.DisputeModel, error) {
	var disputes []model.DisputeModel
	if err := d.db.WithContext(ctx).Where("status = ?", model.DisputeStatusOpen).Order("id ASC").Find(&disputes).Error; err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	return disputes, nil
}

// Resolve 管理员裁决争议，每个争议只能裁决一次
func (d *DisputeLogic) Resolve(ctx context.Context, actor Actor, disputeId int64, req ResolveRequest) (*Result, error) {
	const op = "ResolveDispute"
	if err := actor.require(op, RoleAdmin); err != nil {
		return nil, err
	}
	if !req.Resolution.Valid() {
		return nil, validationError(op, "unknown resolution %q", req.Resolution)
	}
	adminNotes := strings.TrimSpace(req.AdminNotes)
	if adminNotes == "" {
		return nil, validationError(op, "admin_notes is required")
	}

	// 项目归属不会变化，锁外读取用于定位项目锁
	found, err := d.GetDispute(ctx, disputeId)
	if err != nil {
		return nil, err
	}

	var refund *model.RefundRecordModel
	var payoutId int64
	agg, err := d.mutate(ctx, op, found.ProjectId, func(tx *gorm.DB, project *model.ProjectModel) error {
		var dispute model.DisputeModel
		if err := tx.First(&dispute, disputeId).Error; err != nil {
			return fmt.Errorf("reload dispute %d: %w", disputeId, err)
		}
		if dispute.Status == model.DisputeStatusResolved {
			return newError(KindAlreadyResolved, op, "dispute %d was already resolved as %s", dispute.Id, dispute.Resolution)
		}

		var delivery model.DeliveryModel
		if err := tx.First(&delivery, dispute.DeliveryId).Error; err != nil {
			return fmt.Errorf("load delivery %d: %w", dispute.DeliveryId, err)
		}

		from := project.Status
		var pAction ProjectAction
		var dAction DeliveryAction
		switch req.Resolution {
		case model.ResolutionRefundDeveloper:
			pAction, dAction = ActionResolvedTerminal, DeliveryAward
		case model.ResolutionRefundInvestor:
			pAction, dAction = ActionResolvedTerminal, DeliveryResolve
		case model.ResolutionContinue:
			pAction, dAction = ActionResolvedContinue, DeliveryResolve
		}
		pTo, err := nextProjectStatus(op, from, pAction)
		if err != nil {
			return err
		}
		dTo, err := nextDeliveryStatus(op, delivery.Status, dAction)
		if err != nil {
			return err
		}

		now := d.now()
		deliveryUpdates := map[string]interface{}{
			"status":     dTo,
			"resolution": req.Resolution,
			"decided_at": now,
		}
		if req.Resolution == model.ResolutionContinue {
			deliveryUpdates["archived"] = true
		}
		if err := tx.Model(&delivery).Updates(deliveryUpdates).Error; err != nil {
			return fmt.Errorf("update delivery: %w", err)
		}
		if err := tx.Model(&dispute).Updates(map[string]interface{}{
			"status":      model.DisputeStatusResolved,
			"resolution":  req.Resolution,
			"admin_notes": adminNotes,
			"resolved_by": actor.Id,
			"resolved_at": now,
		}).Error; err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}

		switch req.Resolution {
		case model.ResolutionRefundDeveloper:
			payout, err := createPayout(tx, project, &delivery)
			if err != nil {
				return err
			}
			payoutId = payout.Id
		case model.ResolutionRefundInvestor:
			if err := cancelOpenPayouts(tx, project.Id, "superseded by refund to investor"); err != nil {
				return err
			}
			refund = &model.RefundRecordModel{
				ProjectId:  project.Id,
				DisputeId:  dispute.Id,
				InvestorId: project.AssignedInvestor,
				Amount:     delivery.ProjectAmount,
				Reference:  uuid.NewString(),
				Status:     model.RefundStatusPending,
			}
			if err := tx.Create(refund).Error; err != nil {
				return fmt.Errorf("create refund record: %w", err)
			}
		case model.ResolutionContinue:
			if _, err := createDelivery(tx, project.Id, delivery.Sequence+1); err != nil {
				return err
			}
		}
		project.Status = pTo

		data := map[string]interface{}{
			"dispute_id":  dispute.Id,
			"resolution":  req.Resolution,
			"admin_notes": adminNotes,
		}
		if refund != nil {
			// 退款按冻结的预算，竞拍托管记录的是中标价，两者可能不同
			data["refund_amount"] = refund.Amount.StringFixed(2)
			var escrow model.EscrowRecordModel
			if err := tx.Where("project_id = ?", project.Id).Order("id DESC").First(&escrow).Error; err == nil {
				data["escrow_amount"] = escrow.Amount.StringFixed(2)
			}
		}
		return recordEvent(tx, project.Id, string(pAction), from, pTo, actor, data)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Dispute %d on project %d resolved as %s by %s", disputeId, found.ProjectId, req.Resolution, actor.Id)
	result := &Result{Aggregate: agg}
	d.notifyPayout(payoutId)

	if refund != nil {
		if err := d.issueRefund(ctx, refund); err != nil {
			logger.Error("Refund %s for dispute %d failed: %v", refund.Reference, disputeId, err)
			result.warn(KindExternalDependency, RefundFailedWarning)
			metrics.WarningsTotal.WithLabelValues(op).Inc()
		}
		// 退款结果写回后刷新聚合
		if fresh, err := loadAggregate(d.db.WithContext(ctx), found.ProjectId); err == nil {
			result.Aggregate = fresh
		}
	}
	return result, nil
}

// issueRefund 裁决提交后调用支付方退款，结果写回退款记录
func (d *DisputeLogic) issueRefund(ctx context.Context, refund *model.RefundRecordModel) error {
	if d.payment == nil {
		d.refunds.markResult(ctx, refund.Id, gateway.ErrPaymentNotConfigured)
		return externalError("IssueRefund", gateway.ErrPaymentNotConfigured, "refund %s", refund.Reference)
	}

	timeout := d.refundTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := d.payment.IssueRefund(callCtx, gateway.RefundInstruction{
		Reference:  refund.Reference,
		ProjectId:  refund.ProjectId,
		DisputeId:  refund.DisputeId,
		InvestorId: refund.InvestorId,
		Amount:     refund.Amount,
	})
	d.refunds.markResult(ctx, refund.Id, err)
	if err != nil {
		return externalError("IssueRefund", err, "refund %s", refund.Reference)
	}
	return nil
}

// RetryRefund 管理员重新发起失败的退款，沿用原幂等键；处理中或已成功的退款不可重试
func (d *DisputeLogic) RetryRefund(ctx context.Context, actor Actor, refundId int64) (*model.RefundRecordModel, error) {
	const op = "RetryRefund"
	if err := actor.require(op, RoleAdmin); err != nil {
		return nil, err
	}
	refund, err := d.refunds.claimRetry(ctx, op, refundId)
	if err != nil {
		return nil, err
	}

	callErr := d.issueRefund(ctx, refund)
	refund, err = d.refunds.GetRefund(ctx, refundId)
	if err != nil {
		return nil, err
	}
	if callErr != nil {
		return refund, callErr
	}
	logger.Info("Refund %s re-issued by %s", refund.Reference, actor.Id)
	return refund, nil
}

// cancelOpenPayouts 取消项目下未终结的打款
func cancelOpenPayouts(tx *gorm.DB, projectId int64, reason string) error {
	err := tx.Model(&model.PayoutModel{}).
		Where("project_id = ? AND status IN ?", projectId, []model.PayoutStatus{
			model.PayoutStatusPending, model.PayoutStatusProcessing, model.PayoutStatusFailed,
		}).
		Updates(map[string]interface{}{
			"status": model.PayoutStatusCancelled,
			"notes":  reason,
		}).Error
	if err != nil {
		return fmt.Errorf("cancel payouts: %w", err)
	}
	return nil
}
