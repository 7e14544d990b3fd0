package period

import (
	"fmt"
	"time"
)

// Interval represents the billing frequency of a subscription plan.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Valid checks if the interval is one of the supported billing frequencies.
func (i Interval) Valid() bool {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return true
	}
	return false
}

// Period is a half-open [Start, End) window a subscription charge covers.
type Period struct {
	Start time.Time
	End   time.Time
}

// Advance computes the billing period that follows the given one.
// The new period starts where the old one ended; its end is the interval
// applied count times. Monthly and yearly advancement clamps to the last
// day of the target month, so a period ending Jan 31 advances to Feb 29
// in a leap year and Feb 28 otherwise.
func Advance(p Period, interval Interval, count int) (Period, error) {
	if !interval.Valid() {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	if count < 1 {
		return Period{}, fmt.Errorf("%w: %d", ErrInvalidIntervalCount, count)
	}

	next := Period{Start: p.End}
	switch interval {
	case IntervalDaily:
		next.End = p.End.AddDate(0, 0, count)
	case IntervalWeekly:
		next.End = p.End.AddDate(0, 0, 7*count)
	case IntervalMonthly:
		next.End = addMonthsClamped(p.End, count)
	case IntervalYearly:
		next.End = addMonthsClamped(p.End, 12*count)
	}
	return next, nil
}

// Next returns the end of the period that follows a date by the given
// interval. Convenience wrapper used for nextBillingDate computation.
func Next(from time.Time, interval Interval, count int) (time.Time, error) {
	p, err := Advance(Period{End: from}, interval, count)
	if err != nil {
		return time.Time{}, err
	}
	return p.End, nil
}

// addMonthsClamped adds months without the AddDate normalization overflow,
// clamping the day to the target month's length (Jan 31 + 1mo = Feb 28/29).
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()

	m := int(month) - 1 + months
	year += m / 12
	month = time.Month(m%12 + 1)

	day = min(day, daysInMonth(year, month))

	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	// First day of the next month, minus one day.
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1).Day()
}
