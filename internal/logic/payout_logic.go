package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PayoutLogic 打款跟踪业务逻辑
type PayoutLogic struct {
	*base
}

// GetPayout 获取打款记录
func (p *PayoutLogic) GetPayout(ctx context.Context, id int64) (*model.PayoutModel, error) {
	return getPayout(p.db.WithContext(ctx), "GetPayout", id)
}

func getPayout(db *gorm.DB, op string, id int64) (*model.PayoutModel, error) {
	var payout model.PayoutModel
	if err := db.First(&payout, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError(op, "payout %d not found", id)
		}
		return nil, fmt.Errorf("load payout %d: %w", id, err)
	}
	return &payout, nil
}

// payoutChange 在状态迁移之外需要写入的字段
type payoutChange func(payout *model.PayoutModel, updates map[string]interface{})

// transition 在项目锁内完成打款状态迁移
func (p *PayoutLogic) transition(ctx context.Context, op string, id int64, action PayoutAction, actor Actor, change payoutChange) (*model.PayoutModel, error) {
	found, err := p.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *model.PayoutModel
	_, err = p.mutate(ctx, op, found.ProjectId, func(tx *gorm.DB, project *model.ProjectModel) error {
		payout, err := getPayout(tx, op, id)
		if err != nil {
			return err
		}
		from := payout.Status
		to, err := nextPayoutStatus(op, from, action)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"status": to}
		if change != nil {
			change(payout, updates)
		}
		if err := tx.Model(payout).Updates(updates).Error; err != nil {
			return fmt.Errorf("update payout: %w", err)
		}
		if updated, err = getPayout(tx, op, id); err != nil {
			return err
		}
		return recordEvent(tx, project.Id, "payout_"+string(action), project.Status, project.Status, actor, map[string]interface{}{
			"payout_id": id,
			"from":      from,
			"to":        to,
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Payout %d %s by %s", id, action, actor.Id)
	return updated, nil
}

// MarkProcessing 已提交打款通道
func (p *PayoutLogic) MarkProcessing(ctx context.Context, actor Actor, id int64, transactionRef string) (*model.PayoutModel, error) {
	const op = "MarkPayoutProcessing"
	if err := actor.require(op, RoleAdmin, RoleSystem); err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(transactionRef)
	return p.transition(ctx, op, id, PayoutMarkProcessing, actor, func(payout *model.PayoutModel, updates map[string]interface{}) {
		if ref != "" {
			updates["transaction_ref"] = ref
		}
		if payout.DispatchedAt == nil {
			updates["dispatched_at"] = p.now()
		}
	})
}

// Complete 打款到账，transaction_id 必填
func (p *PayoutLogic) Complete(ctx context.Context, actor Actor, id int64, transactionId, notes string) (*model.PayoutModel, error) {
	const op = "CompletePayout"
	if err := actor.require(op, RoleAdmin, RoleSystem); err != nil {
		return nil, err
	}
	transactionId = strings.TrimSpace(transactionId)
	if transactionId == "" {
		return nil, validationError(op, "transaction_id is required")
	}
	return p.transition(ctx, op, id, PayoutComplete, actor, func(_ *model.PayoutModel, updates map[string]interface{}) {
		updates["transaction_id"] = transactionId
		updates["completed_at"] = p.now()
		updates["failure_reason"] = ""
		if n := strings.TrimSpace(notes); n != "" {
			updates["notes"] = n
		}
	})
}

// Fail 打款失败，保留记录等待重试
func (p *PayoutLogic) Fail(ctx context.Context, actor Actor, id int64, reason string) (*model.PayoutModel, error) {
	const op = "FailPayout"
	if err := actor.require(op, RoleAdmin, RoleSystem); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError(op, "reason is required")
	}
	return p.transition(ctx, op, id, PayoutFail, actor, func(_ *model.PayoutModel, updates map[string]interface{}) {
		updates["failure_reason"] = reason
	})
}

// Retry 失败的打款重新置为待打款，沿用原记录
func (p *PayoutLogic) Retry(ctx context.Context, actor Actor, id int64) (*model.PayoutModel, error) {
	const op = "RetryPayout"
	if err := actor.require(op, RoleAdmin); err != nil {
		return nil, err
	}
	payout, err := p.transition(ctx, op, id, PayoutRetry, actor, func(payout *model.PayoutModel, updates map[string]interface{}) {
		updates["retry_count"] = payout.RetryCount + 1
		updates["dispatched_at"] = nil
		updates["transaction_ref"] = ""
	})
	if err != nil {
		return nil, err
	}
	p.notifyPayout(payout.Id)
	return payout, nil
}

// Cancel 管理员取消打款
func (p *PayoutLogic) Cancel(ctx context.Context, actor Actor, id int64, reason string) (*model.PayoutModel, error) {
	const op = "CancelPayout"
	if err := actor.require(op, RoleAdmin); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError(op, "reason is required")
	}
	return p.transition(ctx, op, id, PayoutCancel, actor, func(_ *model.PayoutModel, updates map[string]interface{}) {
		updates["notes"] = reason
	})
}

// ListDispatchable 待派发的打款：pending、未派发、收款方式齐全
func (p *PayoutLogic) ListDispatchable(ctx context.Context, limit int) ([]model.PayoutModel, error) {
	var payouts []model.PayoutModel
	err := p.db.WithContext(ctx).
		Where("status = ? AND dispatched_at IS NULL AND payout_method <> '' AND destination <> ''", model.PayoutStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&payouts).Error
	if err != nil {
		return nil, fmt.Errorf("list dispatchable payouts: %w", err)
	}
	return payouts, nil
}

// ListAwaitingConfirmation 已提交通道、等待到账确认的打款
func (p *PayoutLogic) ListAwaitingConfirmation(ctx context.Context, method model.PayoutMethod, limit int) ([]model.PayoutModel, error) {
	var payouts []model.PayoutModel
	err := p.db.WithContext(ctx).
		Where("status = ? AND payout_method = ? AND transaction_ref <> ''", model.PayoutStatusProcessing, method).
		Order("id ASC").
		Limit(limit).
		Find(&payouts).Error
	if err != nil {
		return nil, fmt.Errorf("list processing payouts: %w", err)
	}
	return payouts, nil
}

// ClaimForDispatch 条件更新 dispatched_at 抢占派发权，多实例下只有一个成功
func (p *PayoutLogic) ClaimForDispatch(ctx context.Context, id int64) (*model.PayoutModel, bool, error) {
	res := p.db.WithContext(ctx).
		Model(&model.PayoutModel{}).
		Where("id = ? AND status = ? AND dispatched_at IS NULL AND payout_method <> '' AND destination <> ''", id, model.PayoutStatusPending).
		Update("dispatched_at", p.now())
	if res.Error != nil {
		return nil, false, fmt.Errorf("claim payout %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	payout, err := p.GetPayout(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return payout, true, nil
}

// RecordTransferRef 通道已受理但状态迁移失败时保存通道流水号，不受状态限制，已有流水号时不覆盖
func (p *PayoutLogic) RecordTransferRef(ctx context.Context, id int64, transactionRef string) (bool, error) {
	res := p.db.WithContext(context.WithoutCancel(ctx)).
		Model(&model.PayoutModel{}).
		Where("id = ? AND transaction_ref = ''", id).
		Update("transaction_ref", transactionRef)
	if res.Error != nil {
		return false, fmt.Errorf("record transfer ref for payout %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListUnconfirmedTransfers 通道已受理、仍停在 pending 的打款
func (p *PayoutLogic) ListUnconfirmedTransfers(ctx context.Context, limit int) ([]model.PayoutModel, error) {
	var payouts []model.PayoutModel
	err := p.db.WithContext(ctx).
		Where("status = ? AND dispatched_at IS NOT NULL AND transaction_ref <> ''", model.PayoutStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&payouts).Error
	if err != nil {
		return nil, fmt.Errorf("list unconfirmed transfers: %w", err)
	}
	return payouts, nil
}

// ReleaseStaleDispatches 抢占超过 olderThan 仍无流水号的打款清空 dispatched_at，
// 下一轮以相同幂等键重新提交
func (p *PayoutLogic) ReleaseStaleDispatches(ctx context.Context, olderThan time.Duration) (int64, error) {
	res := p.db.WithContext(ctx).
		Model(&model.PayoutModel{}).
		Where("status = ? AND dispatched_at IS NOT NULL AND dispatched_at < ? AND transaction_ref = ''",
			model.PayoutStatusPending, p.now().Add(-olderThan)).
		Update("dispatched_at", nil)
	if res.Error != nil {
		return 0, fmt.Errorf("release stale dispatches: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListDeveloperPayouts 开发者的打款记录
func (p *PayoutLogic) ListDeveloperPayouts(ctx context.Context, developerId string) ([]model.PayoutModel, error) {
	var payouts []model.PayoutModel
	if err := p.db.WithContext(ctx).Where("developer_id = ?", developerId).Order("id DESC").Find(&payouts).Error; err != nil {
		return nil, fmt.Errorf("list developer payouts: %w", err)
	}
	return payouts, nil
}

// GetPayoutProfile 获取开发者收款方式
func (p *PayoutLogic) GetPayoutProfile(ctx context.Context, developerId string) (*model.PayoutProfileModel, error) {
	var profile model.PayoutProfileModel
	if err := p.db.WithContext(ctx).Where("developer_id = ?", developerId).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("GetPayoutProfile", "developer %s has no payout profile", developerId)
		}
		return nil, fmt.Errorf("load payout profile: %w", err)
	}
	return &profile, nil
}

// SetPayoutProfile 设置收款方式，并补全尚未派发的打款
func (p *PayoutLogic) SetPayoutProfile(ctx context.Context, actor Actor, method model.PayoutMethod, destination string) (*model.PayoutProfileModel, error) {
	const op = "SetPayoutProfile"
	if err := actor.require(op, RoleDeveloper); err != nil {
		return nil, err
	}
	destination = strings.TrimSpace(destination)
	if err := gateway.ValidateDestination(method, destination); err != nil {
		return nil, validationError(op, "%v", err)
	}

	profile := &model.PayoutProfileModel{
		DeveloperId: actor.Id,
		Method:      method,
		Destination: destination,
	}
	var backfilled []int64
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "developer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"method", "destination", "updated_at"}),
		}).Create(profile).Error; err != nil {
			return fmt.Errorf("save payout profile: %w", err)
		}

		if err := tx.Model(&model.PayoutModel{}).
			Where("developer_id = ? AND status = ? AND dispatched_at IS NULL AND (payout_method = '' OR destination = '')",
				actor.Id, model.PayoutStatusPending).
			Pluck("id", &backfilled).Error; err != nil {
			return fmt.Errorf("find payouts to backfill: %w", err)
		}
		if len(backfilled) == 0 {
			return nil
		}
		return tx.Model(&model.PayoutModel{}).
			Where("id IN ?", backfilled).
			Updates(map[string]interface{}{"payout_method": method, "destination": destination}).Error
	})
	if err != nil {
		return nil, err
	}

	for _, id := range backfilled {
		p.notifyPayout(id)
	}
	logger.Info("Payout profile set for %s (%s), %d payouts backfilled", actor.Id, method, len(backfilled))
	return profile, nil
}
