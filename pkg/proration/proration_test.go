package proration_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/proration"
)

func TestCalculate(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)

	t.Run("upgrade mid-period", func(t *testing.T) {
		t.Parallel()

		// 30-day period, 15 days remaining, 30.00 -> 60.00.
		now := start.AddDate(0, 0, 15)

		res, err := proration.Calculate(
			decimal.NewFromFloat(30.00), decimal.NewFromFloat(60.00),
			start, end, now,
		)
		require.NoError(t, err)

		assert.True(t, res.CreditAmount.Equal(decimal.NewFromFloat(15.00)), "credit = %s", res.CreditAmount)
		assert.True(t, res.ChargeAmount.Equal(decimal.NewFromFloat(30.00)), "charge = %s", res.ChargeAmount)
		assert.True(t, res.NetAmount.Equal(decimal.NewFromFloat(15.00)), "net = %s", res.NetAmount)
		assert.Equal(t, 15, res.ProratedDays)
	})

	t.Run("downgrade nets a credit", func(t *testing.T) {
		t.Parallel()

		now := start.AddDate(0, 0, 20)

		res, err := proration.Calculate(
			decimal.NewFromFloat(60.00), decimal.NewFromFloat(30.00),
			start, end, now,
		)
		require.NoError(t, err)

		assert.True(t, res.NetAmount.IsNegative())
		assert.Equal(t, 10, res.ProratedDays)
	})

	t.Run("partial day counts fully", func(t *testing.T) {
		t.Parallel()

		// 15 days minus one hour remaining rounds up to 15 days.
		now := start.AddDate(0, 0, 15).Add(-time.Hour)
		now = now.Add(2 * time.Hour) // 14 days 23h remaining

		res, err := proration.Calculate(
			decimal.NewFromFloat(30.00), decimal.NewFromFloat(60.00),
			start, end, now,
		)
		require.NoError(t, err)
		assert.Equal(t, 15, res.ProratedDays)
	})

	t.Run("two decimal standard rounding", func(t *testing.T) {
		t.Parallel()

		// 10.00 over 30 days, 7 days left: 10/30*7 = 2.333... -> 2.33
		res, err := proration.Calculate(
			decimal.NewFromFloat(10.00), decimal.Zero,
			start, end, end.AddDate(0, 0, -7),
		)
		require.NoError(t, err)
		assert.Equal(t, "2.33", res.CreditAmount.StringFixed(2))
	})

	t.Run("zero result at period end", func(t *testing.T) {
		t.Parallel()

		res, err := proration.Calculate(
			decimal.NewFromFloat(30.00), decimal.NewFromFloat(60.00),
			start, end, end,
		)
		require.NoError(t, err)

		assert.True(t, res.CreditAmount.IsZero())
		assert.True(t, res.ChargeAmount.IsZero())
		assert.True(t, res.NetAmount.IsZero())
		assert.Zero(t, res.ProratedDays)
	})

	t.Run("zero result past period end", func(t *testing.T) {
		t.Parallel()

		res, err := proration.Calculate(
			decimal.NewFromFloat(30.00), decimal.NewFromFloat(60.00),
			start, end, end.AddDate(0, 1, 0),
		)
		require.NoError(t, err)
		assert.True(t, res.NetAmount.IsZero())
	})
}

func TestCalculateValidation(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	_, err := proration.Calculate(decimal.Zero, decimal.Zero, start, start, start)
	require.ErrorIs(t, err, proration.ErrInvalidPeriod)

	_, err = proration.Calculate(decimal.NewFromInt(-1), decimal.Zero, start, start.AddDate(0, 1, 0), start)
	require.ErrorIs(t, err, proration.ErrNegativePrice)
}
