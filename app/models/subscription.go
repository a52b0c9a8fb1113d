package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SubscriptionStatus is the closed set of lifecycle states. The allowed
// transitions between them are enforced centrally by the lifecycle package;
// nothing outside it may write Status directly.
type SubscriptionStatus string

const (
	StatusPending       SubscriptionStatus = "pending"
	StatusTrialActive   SubscriptionStatus = "trial_active"
	StatusActive        SubscriptionStatus = "active"
	StatusPaused        SubscriptionStatus = "paused"
	StatusSuspended     SubscriptionStatus = "suspended"
	StatusPaymentFailed SubscriptionStatus = "payment_failed"
	StatusCancelled     SubscriptionStatus = "cancelled"
	StatusExpired       SubscriptionStatus = "expired"
)

// IsTerminal reports whether the status admits no further transitions.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// IsValid reports whether s is one of the known statuses.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusTrialActive, StatusActive, StatusPaused,
		StatusSuspended, StatusPaymentFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Subscription is the central entity of the billing engine. It is created by
// the subscription sign-up flow in Pending or TrialActive and afterwards
// mutated only through the lifecycle service and the billing run processor.
// Terminal subscriptions are never deleted.
type Subscription struct {
	ID                     uint               `gorm:"primaryKey" json:"id"`
	UUID                   string             `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	UserID                 uint               `gorm:"not null;index" json:"user_id"`
	PlanID                 uint               `gorm:"not null;index" json:"plan_id"`
	BillingCycleID         uint               `gorm:"not null" json:"billing_cycle_id"`
	CurrentPrice           decimal.Decimal    `gorm:"type:decimal(10,2);not null" json:"current_price"`
	Currency               string             `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	Status                 SubscriptionStatus `gorm:"type:varchar(32);not null;default:'pending';index:idx_subscriptions_status_next_billing,priority:1" json:"status"`
	StartDate              time.Time          `gorm:"type:timestamp;not null" json:"start_date"`
	EndDate                *time.Time         `gorm:"type:timestamp;default:null" json:"end_date,omitempty"`
	NextBillingDate        time.Time          `gorm:"type:timestamp;not null;index:idx_subscriptions_status_next_billing,priority:2" json:"next_billing_date"`
	LastBillingDate        *time.Time         `gorm:"type:timestamp;default:null" json:"last_billing_date,omitempty"`
	PausedDate             *time.Time         `gorm:"type:timestamp;default:null" json:"paused_date,omitempty"`
	ResumedDate            *time.Time         `gorm:"type:timestamp;default:null" json:"resumed_date,omitempty"`
	CancelledDate          *time.Time         `gorm:"type:timestamp;default:null" json:"cancelled_date,omitempty"`
	SuspendedDate          *time.Time         `gorm:"type:timestamp;default:null" json:"suspended_date,omitempty"`
	TrialStartDate         *time.Time         `gorm:"type:timestamp;default:null" json:"trial_start_date,omitempty"`
	TrialEndDate           *time.Time         `gorm:"type:timestamp;default:null" json:"trial_end_date,omitempty"`
	CancellationReason     string             `gorm:"type:varchar(255);default:null" json:"cancellation_reason,omitempty"`
	GatewayCustomerID      string             `gorm:"type:varchar(191);index" json:"gateway_customer_id"`
	GatewayPaymentMethodID string             `gorm:"type:varchar(191)" json:"gateway_payment_method_id"`
	FailedPaymentAttempts  int                `gorm:"not null;default:0" json:"failed_payment_attempts"`
	LastPaymentError       string             `gorm:"type:varchar(500);default:null" json:"last_payment_error,omitempty"`
	IsTrialSubscription    bool               `gorm:"not null;default:false" json:"is_trial_subscription"`
	TrialDurationDays      int                `gorm:"not null;default:0" json:"trial_duration_days"`
	AutoRenew              bool               `gorm:"not null;default:true" json:"auto_renew"`
	TotalUsageCount        int64              `gorm:"not null;default:0" json:"total_usage_count"`
	UsageCounters          []SubscriptionUsage `gorm:"foreignKey:SubscriptionID" json:"usage_counters,omitempty"`
	CreatedAt              time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt              gorm.DeletedAt     `gorm:"index" json:"-"`
}

// BeforeCreate assigns a UUID when none was provided.
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == "" {
		s.UUID = uuid.New().String()
	}
	return nil
}

// BillingAnchor is the start of the current cycle: the last billing date, or
// the start date when the subscription has never been billed.
func (s *Subscription) BillingAnchor() time.Time {
	if s.LastBillingDate != nil && !s.LastBillingDate.IsZero() {
		return *s.LastBillingDate
	}
	return s.StartDate
}

// InTrial reports whether the subscription is in its trial window at t.
func (s *Subscription) InTrial(t time.Time) bool {
	if !s.IsTrialSubscription || s.TrialEndDate == nil {
		return false
	}
	return s.Status == StatusTrialActive && t.Before(*s.TrialEndDate)
}
