package proration

import (
	"time"

	"github.com/shopspring/decimal"
)

// Result holds the outcome of a mid-cycle plan change calculation.
// CreditAmount is the unused value of the old plan, ChargeAmount the
// prorated cost of the new plan, NetAmount the difference the customer
// owes (negative when the change nets a credit).
type Result struct {
	CreditAmount decimal.Decimal
	ChargeAmount decimal.Decimal
	NetAmount    decimal.Decimal
	ProratedDays int
}

// Calculate computes the credit and charge for switching a subscription
// from oldPrice to newPrice at `now`, inside the [periodStart, periodEnd)
// billing window.
//
// The daily rate is price divided by the total days in the period.
// Remaining days round up: any started day counts fully. Amounts carry
// two decimal places using standard half-up rounding. When now is at or
// past the period end there is nothing left to prorate and Calculate
// returns a zero result.
func Calculate(oldPrice, newPrice decimal.Decimal, periodStart, periodEnd, now time.Time) (Result, error) {
	if !periodStart.Before(periodEnd) {
		return Result{}, ErrInvalidPeriod
	}
	if oldPrice.IsNegative() || newPrice.IsNegative() {
		return Result{}, ErrNegativePrice
	}

	if !now.Before(periodEnd) {
		return Result{
			CreditAmount: decimal.Zero,
			ChargeAmount: decimal.Zero,
			NetAmount:    decimal.Zero,
		}, nil
	}

	totalDays := ceilDays(periodEnd.Sub(periodStart))
	remainingDays := ceilDays(periodEnd.Sub(now))
	if remainingDays > totalDays {
		remainingDays = totalDays
	}

	total := decimal.NewFromInt(int64(totalDays))
	remaining := decimal.NewFromInt(int64(remainingDays))

	// Round half away from zero, not banker's rounding.
	credit := oldPrice.Div(total).Mul(remaining).Round(2)
	charge := newPrice.Div(total).Mul(remaining).Round(2)

	return Result{
		CreditAmount: credit,
		ChargeAmount: charge,
		NetAmount:    charge.Sub(credit),
		ProratedDays: remainingDays,
	}, nil
}

// ceilDays converts a duration to whole days, rounding partial days up.
func ceilDays(d time.Duration) int {
	const day = 24 * time.Hour
	days := int(d / day)
	if d%day != 0 {
		days++
	}
	return days
}
