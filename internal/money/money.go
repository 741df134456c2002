// Package money 平台佣金与开发者收入计算，纯函数，无状态
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// CommissionRate 平台佣金比例
	CommissionRate = decimal.RequireFromString("0.06")
	// FixedPriceFee 一口价购买时额外收取的固定费用
	FixedPriceFee = decimal.RequireFromString("30.00")

	// ErrNonPositiveAmount 金额必须大于0
	ErrNonPositiveAmount = errors.New("amount must be greater than 0")
)

// Split 一笔预算冻结后的拆分结果
type Split struct {
	ProjectAmount      decimal.Decimal `json:"project_amount"`
	PlatformCommission decimal.Decimal `json:"platform_commission"`
	DeveloperPayout    decimal.Decimal `json:"developer_payout"`
}

// Round2 两位小数，四舍五入（远离零）
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Validate 校验金额为正
func Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}

// IsCents 数值上最多两位小数，"100.100" 视为合法
func IsCents(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(2))
}

// Commission 平台佣金 round2(amount * 6%)
func Commission(amount decimal.Decimal) (decimal.Decimal, error) {
	if err := Validate(amount); err != nil {
		return decimal.Zero, err
	}
	return Round2(amount.Mul(CommissionRate)), nil
}

// DeveloperPayout 开发者实得 amount - commission
func DeveloperPayout(amount decimal.Decimal) (decimal.Decimal, error) {
	commission, err := Commission(amount)
	if err != nil {
		return decimal.Zero, err
	}
	return Round2(amount).Sub(commission), nil
}

// FixedPriceCheckoutTotal 一口价托管总额 amount + commission + 30.00
func FixedPriceCheckoutTotal(amount decimal.Decimal) (decimal.Decimal, error) {
	commission, err := Commission(amount)
	if err != nil {
		return decimal.Zero, err
	}
	return Round2(amount).Add(commission).Add(FixedPriceFee), nil
}

// SplitAmount 计算交付时冻结的三项金额
func SplitAmount(amount decimal.Decimal) (Split, error) {
	commission, err := Commission(amount)
	if err != nil {
		return Split{}, err
	}
	gross := Round2(amount)
	return Split{
		ProjectAmount:      gross,
		PlatformCommission: commission,
		DeveloperPayout:    gross.Sub(commission),
	}, nil
}
