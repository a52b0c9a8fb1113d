package repository

import (
	"time"

	"github.com/MartinHagen/SubEngine/app/models"
	"gorm.io/gorm"
)

// SubscriptionRepository defines the interface for subscription persistence.
// It is the single source of truth for subscription state; no component
// caches subscriptions across calls.
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	GetByID(id uint) (*models.Subscription, error)
	GetByUUID(uuid string) (*models.Subscription, error)
	GetDueForBilling(asOf time.Time) ([]models.Subscription, error)
	GetRenewable(asOf time.Time) ([]models.Subscription, error)
	GetExpirable(asOf time.Time) ([]models.Subscription, error)
	GetAllActive() ([]models.Subscription, error)
	Update(sub *models.Subscription) error
	ResetUsage(subscriptionID uint) error
	Count() (int64, error)
}

// PlanRepository defines the interface for plan catalog access.
type PlanRepository interface {
	Create(plan *models.SubscriptionPlan) error
	GetByID(id uint) (*models.SubscriptionPlan, error)
	GetActive() ([]models.SubscriptionPlan, error)
	Update(plan *models.SubscriptionPlan) error
}

// BillingCycleRepository defines the interface for billing cycle definitions.
type BillingCycleRepository interface {
	Create(cycle *models.BillingCycle) error
	GetByID(id uint) (*models.BillingCycle, error)
	GetAll() ([]models.BillingCycle, error)
}

// StatusHistoryRepository appends and lists lifecycle audit entries.
// Entries are immutable; there is deliberately no update or delete.
type StatusHistoryRepository interface {
	Append(entry *models.SubscriptionStatusHistory) error
	ListBySubscription(subscriptionID uint) ([]models.SubscriptionStatusHistory, error)
}

// BillingRecordRepository is the sink for charge-attempt ledger entries.
type BillingRecordRepository interface {
	Create(record *models.BillingRecord) error
	ListBySubscription(subscriptionID uint) ([]models.BillingRecord, error)
	GetLastSucceeded(subscriptionID uint) (*models.BillingRecord, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Subscription  SubscriptionRepository
	Plan          PlanRepository
	BillingCycle  BillingCycleRepository
	StatusHistory StatusHistoryRepository
	BillingRecord BillingRecordRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Subscription:  NewSubscriptionRepository(db),
		Plan:          NewPlanRepository(db),
		BillingCycle:  NewBillingCycleRepository(db),
		StatusHistory: NewStatusHistoryRepository(db),
		BillingRecord: NewBillingRecordRepository(db),
	}
}
