// Package proration computes the partial charges and credits owed when a
// subscription's price changes mid-cycle, and executes plan changes as a
// single unit of work.
package proration

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidCycle is returned when the billing window has zero or negative
// length. That is a data anomaly; failing fast beats dividing by zero.
var ErrInvalidCycle = errors.New("billing cycle window has no length")

// Amount returns the portion of price attributable to the remaining days of
// the cycle [cycleStart, cycleEnd) as of effective. The result is rounded to
// 2 decimals and always within [0, price]: at effective == cycleEnd it is
// zero, at effective == cycleStart it is the full price.
func Amount(price decimal.Decimal, cycleStart, cycleEnd, effective time.Time) (decimal.Decimal, error) {
	cycleDays := daysBetween(cycleStart, cycleEnd)
	if cycleDays <= 0 {
		return decimal.Zero, ErrInvalidCycle
	}

	remaining := daysBetween(effective, cycleEnd)
	if remaining <= 0 {
		return decimal.Zero, nil
	}
	if remaining > cycleDays {
		remaining = cycleDays
	}

	ratio := decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(cycleDays)))
	amount := price.Mul(ratio).Round(2)

	if amount.IsNegative() {
		return decimal.Zero, nil
	}
	if amount.GreaterThan(price) {
		return price, nil
	}
	return amount, nil
}

// Net computes the signed plan-change amount for the remaining window:
// the new plan's prorated charge minus the old plan's prorated credit.
// Each leg is rounded to 2 decimals before subtracting, so the net always
// equals the difference of the two customer-visible line items.
func Net(oldPrice, newPrice decimal.Decimal, cycleStart, cycleEnd, effective time.Time) (net, credit, charge decimal.Decimal, err error) {
	credit, err = Amount(oldPrice, cycleStart, cycleEnd, effective)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	charge, err = Amount(newPrice, cycleStart, cycleEnd, effective)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	return charge.Sub(credit), credit, charge, nil
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}
