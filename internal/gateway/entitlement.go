// Package gateway 引擎依赖的外部协作方：发布额度、退款支付、打款通道
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/blues/pes/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientCredit 开发者没有可用的发布额度
var ErrInsufficientCredit = errors.New("insufficient posting credit")

// Entitlement 发布额度
type Entitlement interface {
	// ConsumePostingCredit 扣减一个额度，没有额度时返回 ErrInsufficientCredit
	ConsumePostingCredit(ctx context.Context, developerId string) error
	// RestorePostingCredit 项目未能创建时归还额度
	RestorePostingCredit(ctx context.Context, developerId string) error
}

// CreditLedger 基于数据库的发布额度账本，额度由外部购买流程发放
type CreditLedger struct {
	db *gorm.DB
}

// NewCreditLedger 创建额度账本
func NewCreditLedger(db *gorm.DB) *CreditLedger {
	return &CreditLedger{db: db}
}

// ConsumePostingCredit 原子扣减
func (l *CreditLedger) ConsumePostingCredit(ctx context.Context, developerId string) error {
	res := l.db.WithContext(ctx).
		Model(&model.PostingCreditModel{}).
		Where("developer_id = ? AND balance > 0", developerId).
		UpdateColumn("balance", gorm.Expr("balance - 1"))
	if res.Error != nil {
		return fmt.Errorf("consume posting credit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientCredit
	}
	return nil
}

// RestorePostingCredit 归还一个额度
func (l *CreditLedger) RestorePostingCredit(ctx context.Context, developerId string) error {
	return l.Grant(ctx, developerId, 1)
}

// Grant 发放额度
func (l *CreditLedger) Grant(ctx context.Context, developerId string, count int64) error {
	if developerId == "" || count <= 0 {
		return errors.New("developer id and a positive count are required")
	}
	row := model.PostingCreditModel{DeveloperId: developerId, Balance: count}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "developer_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"balance": gorm.Expr("posting_credit.balance + ?", count)}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("grant posting credit: %w", err)
	}
	return nil
}

// Balance 查询剩余额度
func (l *CreditLedger) Balance(ctx context.Context, developerId string) (int64, error) {
	var row model.PostingCreditModel
	err := l.db.WithContext(ctx).Where("developer_id = ?", developerId).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get posting credit: %w", err)
	}
	return row.Balance, nil
}
