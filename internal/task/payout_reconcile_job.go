package task

import (
	"context"
	"time"

	"github.com/blues/pes/internal/config"
	"github.com/blues/pes/internal/ethereum"
	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/logic"
	"github.com/blues/pes/internal/model"
	"github.com/go-co-op/gocron/v2"
)

// StatusChecker 查询链上交易状态，*ethereum.Client 满足
type StatusChecker interface {
	TransferStatus(ctx context.Context, txHash string) (ethereum.TransferStatus, error)
}

// PayoutReconcileJob 按链上确认数完成或失败加密货币打款
type PayoutReconcileJob struct {
	payouts *logic.PayoutLogic
	checker StatusChecker
	config  config.TaskConfig
}

// NewPayoutReconcileJob 创建链上对账任务
func NewPayoutReconcileJob(payouts *logic.PayoutLogic, checker StatusChecker, cfg config.TaskConfig) *PayoutReconcileJob {
	return &PayoutReconcileJob{
		payouts: payouts,
		checker: checker,
		config:  cfg,
	}
}

// GetName 获取任务名称
func (j *PayoutReconcileJob) GetName() string {
	return "crypto_payout_reconciler"
}

// GetSchedule 获取调度配置
func (j *PayoutReconcileJob) GetSchedule() gocron.JobDefinition {
	gap := j.config.ReconcileGap
	if gap <= 0 {
		gap = 30
	}
	return gocron.DurationJob(time.Duration(gap) * time.Second)
}

// Execute 执行任务
func (j *PayoutReconcileJob) Execute() {
	ctx := context.Background()
	batch := j.config.BatchSize
	if batch <= 0 {
		batch = 100
	}

	payouts, err := j.payouts.ListAwaitingConfirmation(ctx, model.PayoutMethodCrypto, batch)
	if err != nil {
		logger.Error("Failed to fetch processing crypto payouts: %v", err)
		return
	}

	completed, failed := 0, 0
	for _, p := range payouts {
		status, err := j.checker.TransferStatus(ctx, p.TransactionRef)
		if err != nil {
			logger.Warn("Failed to check payout %d tx %s: %v", p.Id, p.TransactionRef, err)
			continue
		}
		switch status {
		case ethereum.StatusConfirmed:
			if _, err := j.payouts.Complete(ctx, logic.SystemActor, p.Id, p.TransactionRef, "confirmed on chain"); err != nil {
				logger.Error("Failed to complete payout %d: %v", p.Id, err)
				continue
			}
			completed++
		case ethereum.StatusReverted:
			if _, err := j.payouts.Fail(ctx, logic.SystemActor, p.Id, "transaction reverted: "+p.TransactionRef); err != nil {
				logger.Error("Failed to fail payout %d: %v", p.Id, err)
				continue
			}
			failed++
		}
	}

	if completed+failed > 0 {
		logger.Info("Crypto reconcile: %d completed, %d failed, %d checked", completed, failed, len(payouts))
	}
}
