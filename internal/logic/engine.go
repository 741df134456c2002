package logic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/lock"
	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/metrics"
	"github.com/blues/pes/internal/model"
	"gorm.io/gorm"
)

// PayoutNotifier 打款记录可发起时通知派发器
type PayoutNotifier interface {
	PayoutReady(payoutId int64)
}

// Options 业务逻辑依赖
type Options struct {
	DB            *gorm.DB
	Locker        lock.Locker
	Entitlement   gateway.Entitlement
	Payment       gateway.Payment
	Notifier      PayoutNotifier
	RefundTimeout time.Duration
	Now           func() time.Time
}

// Engine 项目生命周期与托管引擎
type Engine struct {
	Projects   *ProjectLogic
	Auctions   *AuctionLogic
	Deliveries *DeliveryLogic
	Disputes   *DisputeLogic
	Payouts    *PayoutLogic
	Refunds    *RefundRecordLogic
	Events     *ProjectEventLogic
}

// New 创建引擎
func New(opts Options) *Engine {
	b := newBase(opts)
	refunds := NewRefundRecordLogic(opts.DB)
	return &Engine{
		Projects:   &ProjectLogic{base: b, entitlement: opts.Entitlement},
		Auctions:   &AuctionLogic{base: b},
		Deliveries: &DeliveryLogic{base: b},
		Disputes:   &DisputeLogic{base: b, payment: opts.Payment, refunds: refunds, refundTimeout: opts.RefundTimeout},
		Payouts:    &PayoutLogic{base: b},
		Refunds:    refunds,
		Events:     NewProjectEventLogic(opts.DB),
	}
}

// SetNotifier 派发器晚于引擎创建时注入
func (e *Engine) SetNotifier(n PayoutNotifier) {
	e.Payouts.base.notifier = n
}

// base 各业务逻辑共享的事务与加锁流程
type base struct {
	db       *gorm.DB
	locker   lock.Locker
	notifier PayoutNotifier
	now      func() time.Time
}

func newBase(opts Options) *base {
	b := &base{
		db:       opts.DB,
		locker:   opts.Locker,
		notifier: opts.Notifier,
		now:      opts.Now,
	}
	if b.locker == nil {
		b.locker = lock.NewKeyedMutex(5 * time.Second)
	}
	if b.now == nil {
		b.now = func() time.Time { return time.Now().UTC() }
	}
	return b
}

func projectKey(projectId int64) string {
	return "project:" + strconv.FormatInt(projectId, 10)
}

// txFunc 在项目锁与事务内执行，只修改传入的 project 与其子记录
type txFunc func(tx *gorm.DB, project *model.ProjectModel) error

// mutate 读-改-写：加项目锁，开启事务，校验版本后提交，返回最新聚合
func (b *base) mutate(ctx context.Context, op string, projectId int64, fn txFunc) (*Aggregate, error) {
	agg, err := b.mutateLocked(ctx, op, projectId, fn)
	metrics.ObserveOperation(op, err, func(e error) string { return string(KindOf(e)) })
	return agg, err
}

func (b *base) mutateLocked(ctx context.Context, op string, projectId int64, fn txFunc) (*Aggregate, error) {
	unlock, err := b.locker.Lock(ctx, projectKey(projectId))
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return nil, conflictError(op, "project %d is being modified, retry", projectId)
		}
		return nil, fmt.Errorf("%s: lock project %d: %w", op, projectId, err)
	}
	defer unlock()

	var agg *Aggregate
	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project model.ProjectModel
		if err := tx.First(&project, projectId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError(op, "project %d not found", projectId)
			}
			return fmt.Errorf("load project %d: %w", projectId, err)
		}

		version := project.Version
		if err := fn(tx, &project); err != nil {
			return err
		}
		if err := b.saveProject(tx, op, &project, version); err != nil {
			return err
		}

		loaded, err := loadAggregate(tx, projectId)
		if err != nil {
			return err
		}
		agg = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// saveProject 按版本号条件更新，版本不符视为并发冲突
func (b *base) saveProject(tx *gorm.DB, op string, project *model.ProjectModel, version int64) error {
	now := b.now()
	res := tx.Model(&model.ProjectModel{}).
		Where("id = ? AND version = ?", project.Id, version).
		Updates(map[string]interface{}{
			"status":            project.Status,
			"highest_bid":       project.HighestBid,
			"assigned_investor": project.AssignedInvestor,
			"version":           version + 1,
			"updated_at":        now,
		})
	if res.Error != nil {
		return fmt.Errorf("save project %d: %w", project.Id, res.Error)
	}
	if res.RowsAffected == 0 {
		return conflictError(op, "project %d was modified concurrently (version %d)", project.Id, version)
	}
	project.Version = version + 1
	project.UpdatedAt = now
	return nil
}

// notifyPayout 事务提交后通知派发器
func (b *base) notifyPayout(payoutId int64) {
	if b.notifier == nil || payoutId == 0 {
		return
	}
	logger.Debug("Notify dispatcher of payout %d", payoutId)
	b.notifier.PayoutReady(payoutId)
}
