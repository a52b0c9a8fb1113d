// Package billingcycle holds the pure date arithmetic of the billing engine:
// deciding whether a subscription is due and advancing its next billing date.
// Nothing here touches the store or the clock.
package billingcycle

import (
	"errors"
	"time"

	"github.com/MartinHagen/SubEngine/app/models"
)

// ErrZeroCycle is returned when a billing cycle defines no duration. Such a
// cycle can never produce a future billing date.
var ErrZeroCycle = errors.New("billing cycle has no duration")

// IsDue reports whether the subscription's next billing date has passed as
// of the given time. Pure; calling it twice with the same inputs yields the
// same answer.
func IsDue(sub *models.Subscription, asOf time.Time) bool {
	return !sub.NextBillingDate.After(asOf)
}

// Advance returns the billing date one cycle after from. Month-based cycles
// advance by calendar months with the day clamped to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29); day-based cycles advance by
// that many days. Months take precedence when both durations are set.
func Advance(from time.Time, cycle *models.BillingCycle) (time.Time, error) {
	if cycle == nil || cycle.IsZero() {
		return time.Time{}, ErrZeroCycle
	}
	if cycle.IsMonthBased() {
		return addMonthsClamped(from, cycle.DurationMonths), nil
	}
	return from.AddDate(0, 0, cycle.DurationDays), nil
}

// addMonthsClamped adds months without the normalization overflow of
// time.AddDate (which turns Jan 31 + 1 month into Mar 2/3).
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	targetMonth := time.Month(int(month) + months)
	// Normalize to find the target year/month, anchored at day 1.
	anchor := time.Date(year, targetMonth, 1, 0, 0, 0, 0, t.Location())
	if last := lastDayOfMonth(anchor); day > last {
		day = last
	}
	return time.Date(anchor.Year(), anchor.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func lastDayOfMonth(anchor time.Time) int {
	return anchor.AddDate(0, 1, -1).Day()
}
