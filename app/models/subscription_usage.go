package models

import "time"

// SubscriptionUsage tracks consumption of one metered privilege within the
// current billing cycle. AllowedQuantity is copied from the plan at
// subscription (or plan-change) time; UsedQuantity is reset on renewal.
type SubscriptionUsage struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID  uint      `gorm:"not null;index:ux_subscription_usage_sub_key,unique,priority:1" json:"subscription_id"`
	PrivilegeKey    string    `gorm:"type:varchar(100);not null;index:ux_subscription_usage_sub_key,unique,priority:2" json:"privilege_key"`
	AllowedQuantity int64     `gorm:"not null;default:0" json:"allowed_quantity"`
	UsedQuantity    int64     `gorm:"not null;default:0" json:"used_quantity"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Remaining returns how much of the allowance is left. Unlimited allowances
// (AllowedQuantity < 0) always report a positive remainder.
func (u *SubscriptionUsage) Remaining() int64 {
	if u.AllowedQuantity < 0 {
		return 1
	}
	r := u.AllowedQuantity - u.UsedQuantity
	if r < 0 {
		return 0
	}
	return r
}
