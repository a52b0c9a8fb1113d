package models

import "time"

// BillingCycle defines the cadence of recurring charges. When both a month
// and a day duration are present, the month duration wins and the advance is
// done in calendar months (clamped to the last day of the target month).
type BillingCycle struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"type:varchar(100);not null" json:"name"`
	DurationDays   int       `gorm:"not null;default:0" json:"duration_days"`
	DurationMonths int       `gorm:"not null;default:0" json:"duration_months"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsMonthBased reports whether the cycle advances in calendar months.
func (c *BillingCycle) IsMonthBased() bool {
	return c.DurationMonths > 0
}

// IsZero reports whether the cycle defines no duration at all. Such a cycle
// is a data anomaly and must be rejected before any date arithmetic.
func (c *BillingCycle) IsZero() bool {
	return c.DurationMonths <= 0 && c.DurationDays <= 0
}
