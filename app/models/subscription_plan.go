package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SubscriptionPlan is a catalog entry. Plans are immutable within a version:
// price changes are rolled out as new rows, existing subscriptions keep their
// grandfathered CurrentPrice. An inactive plan accepts no new subscriptions
// but does not affect the ones already on it.
type SubscriptionPlan struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Name              string          `gorm:"type:varchar(150);not null" json:"name"`
	Description       string          `gorm:"type:text" json:"description"`
	Price             decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency          string          `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	BillingCycleID    uint            `gorm:"not null" json:"billing_cycle_id"`
	TrialEligible     bool            `gorm:"not null;default:false" json:"trial_eligible"`
	TrialDurationDays int             `gorm:"not null;default:0" json:"trial_duration_days"`
	IsActive          bool            `gorm:"not null;default:true;index" json:"is_active"`
	Privileges        []PlanPrivilege `gorm:"foreignKey:PlanID" json:"privileges,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt  `gorm:"index" json:"-"`
}

// PlanPrivilege is a per-plan allowance for one metered privilege
// (e.g. "api_calls": 10000 per cycle). AllowedQuantity < 0 means unlimited.
type PlanPrivilege struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PlanID          uint      `gorm:"not null;index:ux_plan_privileges_plan_key,unique,priority:1" json:"plan_id"`
	PrivilegeKey    string    `gorm:"type:varchar(100);not null;index:ux_plan_privileges_plan_key,unique,priority:2" json:"privilege_key"`
	AllowedQuantity int64     `gorm:"not null;default:0" json:"allowed_quantity"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
