package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCommission(t *testing.T) {
	cases := []struct {
		amount string
		want   string
	}{
		{"1000.00", "60.00"},
		{"2000", "120.00"},
		{"0.01", "0.00"},
		{"0.25", "0.02"},  // 0.015 -> 0.02
		{"12.75", "0.77"}, // 0.765 -> 0.77
		{"4600", "276.00"},
	}
	for _, tc := range cases {
		got, err := Commission(d(tc.amount))
		require.NoError(t, err)
		assert.True(t, d(tc.want).Equal(got), "commission(%s) = %s, want %s", tc.amount, got, tc.want)
	}
}

func TestDeveloperPayoutPlusCommissionIsAmount(t *testing.T) {
	for _, s := range []string{"0.01", "0.25", "12.75", "99.99", "2000", "123456.78"} {
		amount := d(s)
		commission, err := Commission(amount)
		require.NoError(t, err)
		payout, err := DeveloperPayout(amount)
		require.NoError(t, err)
		assert.True(t, amount.Equal(payout.Add(commission)), "split leaks for %s", s)
	}
}

func TestFixedPriceCheckoutTotal(t *testing.T) {
	total, err := FixedPriceCheckoutTotal(d("1000.00"))
	require.NoError(t, err)
	assert.Equal(t, "1091.00", total.StringFixed(2))
}

func TestSplitAmount(t *testing.T) {
	split, err := SplitAmount(d("2000"))
	require.NoError(t, err)
	assert.Equal(t, "2000.00", split.ProjectAmount.StringFixed(2))
	assert.Equal(t, "120.00", split.PlatformCommission.StringFixed(2))
	assert.Equal(t, "1880.00", split.DeveloperPayout.StringFixed(2))
}

func TestNonPositiveAmount(t *testing.T) {
	for _, s := range []string{"0", "-1", "-0.01"} {
		_, err := Commission(d(s))
		assert.ErrorIs(t, err, ErrNonPositiveAmount)
		_, err = DeveloperPayout(d(s))
		assert.ErrorIs(t, err, ErrNonPositiveAmount)
		_, err = FixedPriceCheckoutTotal(d(s))
		assert.ErrorIs(t, err, ErrNonPositiveAmount)
		_, err = SplitAmount(d(s))
		assert.ErrorIs(t, err, ErrNonPositiveAmount)
	}
}

func TestIsCents(t *testing.T) {
	for _, s := range []string{"100", "100.1", "100.10", "100.100", "0.010000"} {
		assert.True(t, IsCents(d(s)), s)
	}
	for _, s := range []string{"10.005", "0.001", "100.1001"} {
		assert.False(t, IsCents(d(s)), s)
	}
}
