package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blues/pes/internal/config"
	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/logic"
	"github.com/go-co-op/gocron/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// PayoutDispatchJob 把待打款提交到打款通道
type PayoutDispatchJob struct {
	payouts *logic.PayoutLogic
	rail    gateway.PayoutRail
	pool    *ants.Pool
	config  config.TaskConfig
	timeout time.Duration
	// staleAfter 抢占后超过该时长仍无流水号视为派发中断
	staleAfter time.Duration
}

// NewPayoutDispatchJob 创建打款派发任务
func NewPayoutDispatchJob(payouts *logic.PayoutLogic, rail gateway.PayoutRail, cfg config.TaskConfig) (*PayoutDispatchJob, error) {
	size := cfg.PoolSize
	if size <= 0 {
		size = 8
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create dispatch pool: %w", err)
	}

	timeout := time.Duration(cfg.RailTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PayoutDispatchJob{
		payouts:    payouts,
		rail:       rail,
		pool:       pool,
		config:     cfg,
		timeout:    timeout,
		staleAfter: 2 * timeout,
	}, nil
}

// GetName 获取任务名称
func (j *PayoutDispatchJob) GetName() string {
	return "payout_dispatcher"
}

// GetSchedule 获取调度配置
func (j *PayoutDispatchJob) GetSchedule() gocron.JobDefinition {
	interval := j.config.Interval
	if interval <= 0 {
		interval = 60
	}
	return gocron.DurationJob(time.Duration(interval) * time.Second)
}

// PayoutReady 新打款立即派发，池满时留给下一轮定时任务
func (j *PayoutDispatchJob) PayoutReady(payoutId int64) {
	if err := j.pool.Submit(func() { j.dispatch(context.Background(), payoutId) }); err != nil {
		logger.Warn("Dispatch pool busy, payout %d deferred to next run: %v", payoutId, err)
	}
}

// Execute 执行任务
func (j *PayoutDispatchJob) Execute() {
	ctx := context.Background()
	batch := j.config.BatchSize
	if batch <= 0 {
		batch = 100
	}

	j.recoverStranded(ctx, batch)

	payouts, err := j.payouts.ListDispatchable(ctx, batch)
	if err != nil {
		logger.Error("Failed to fetch dispatchable payouts: %v", err)
		return
	}
	if len(payouts) == 0 {
		return
	}
	logger.Info("Dispatching %d payouts", len(payouts))

	var wg sync.WaitGroup
	for _, p := range payouts {
		id := p.Id
		wg.Add(1)
		if err := j.pool.Submit(func() {
			defer wg.Done()
			j.dispatch(ctx, id)
		}); err != nil {
			wg.Done()
			logger.Warn("Dispatch pool busy, payout %d deferred: %v", id, err)
		}
	}
	wg.Wait()
}

// dispatch 抢占后调用通道，受理成功标记 processing，失败标记 failed
func (j *PayoutDispatchJob) dispatch(ctx context.Context, payoutId int64) {
	payout, ok, err := j.payouts.ClaimForDispatch(ctx, payoutId)
	if err != nil {
		logger.Error("Failed to claim payout %d: %v", payoutId, err)
		return
	}
	if !ok {
		return
	}

	log := logger.With(zap.Int64("payout_id", payout.Id), zap.String("method", string(payout.PayoutMethod)))
	callCtx, cancel := context.WithTimeout(ctx, j.timeout)
	ref, err := j.rail.InitiateTransfer(callCtx, gateway.Transfer{
		PayoutId:    payout.Id,
		DeveloperId: payout.DeveloperId,
		Method:      payout.PayoutMethod,
		Destination: payout.Destination,
		Amount:      payout.NetAmount,
		Attempt:     payout.RetryCount,
	})
	cancel()

	if err != nil {
		log.Error("Transfer failed: %v", err)
		if _, ferr := j.payouts.Fail(ctx, logic.SystemActor, payout.Id, "rail: "+err.Error()); ferr != nil {
			log.Error("Failed to mark payout failed: %v", ferr)
		}
		return
	}
	if _, err := j.payouts.MarkProcessing(ctx, logic.SystemActor, payout.Id, ref); err != nil {
		log.Error("Failed to mark payout processing (ref %s): %v", ref, err)
		// 保存流水号，下一轮 recoverStranded 补做状态迁移
		if _, rerr := j.payouts.RecordTransferRef(ctx, payout.Id, ref); rerr != nil {
			log.Error("Failed to persist transfer ref %s: %v", ref, rerr)
		}
		if logic.IsKind(err, logic.KindInvalidTransition) {
			log.Error("Transfer %s sent for a payout that left pending, reconcile with the rail manually", ref)
		}
		return
	}
	log.Info("Payout submitted, ref %s", ref)
}

// recoverStranded 补做已受理打款的 processing 迁移，并释放中断的派发
func (j *PayoutDispatchJob) recoverStranded(ctx context.Context, batch int) {
	accepted, err := j.payouts.ListUnconfirmedTransfers(ctx, batch)
	if err != nil {
		logger.Error("Failed to fetch unconfirmed transfers: %v", err)
	}
	for _, p := range accepted {
		if _, err := j.payouts.MarkProcessing(ctx, logic.SystemActor, p.Id, p.TransactionRef); err != nil {
			logger.Warn("Payout %d still pending with ref %s: %v", p.Id, p.TransactionRef, err)
			continue
		}
		logger.Info("Recovered payout %d, ref %s", p.Id, p.TransactionRef)
	}

	released, err := j.payouts.ReleaseStaleDispatches(ctx, j.staleAfter)
	if err != nil {
		logger.Error("Failed to release stale dispatches: %v", err)
		return
	}
	if released > 0 {
		logger.Warn("Released %d interrupted dispatches for resubmission", released)
	}
}

// Release 释放协程池，等待进行中的派发结束
func (j *PayoutDispatchJob) Release() {
	if err := j.pool.ReleaseTimeout(j.timeout); err != nil {
		logger.Warn("Dispatch pool release: %v", err)
	}
}
