package types

import (
	"time"

	ierr "github.com/agentmesh/billing/internal/errors"
)

// NextBillingDate returns start advanced by one billing cycle.
// Month arithmetic clamps to the last day of the target month so that
// a subscription started on Jan 31 renews on Feb 28/29 rather than Mar 3.
func NextBillingDate(start time.Time, cycle BillingCycle) (time.Time, error) {
	months := cycle.Months()
	if months == 0 {
		return start, ierr.NewErrorf("invalid billing cycle: %s", cycle).
			WithHint("Billing cycle must be monthly, semi_annual or annual").
			Mark(ierr.ErrValidation)
	}
	return AddClampedDate(start, 0, months, 0), nil
}

// AddClampedDate adds the given years, months and days to t. The resulting day
// of month is clamped to the last valid day of the resulting month.
func AddClampedDate(t time.Time, years, months, days int) time.Time {
	y, m, d := t.Date()
	h, min, sec := t.Clock()

	newY := y + years
	newM := time.Month(int(m) + months)

	for newM > 12 {
		newM -= 12
		newY++
	}
	for newM < 1 {
		newM += 12
		newY--
	}

	firstOfNextMonth := time.Date(newY, newM+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNextMonth.Add(-24 * time.Hour).Day()

	if d > lastDay {
		d = lastDay
	}

	return time.Date(newY, newM, d, h, min, sec, t.Nanosecond(), t.Location()).AddDate(0, 0, days)
}

// FirstOfMonth returns midnight UTC on the first day of t's month
func FirstOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns midnight UTC of t's day
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
