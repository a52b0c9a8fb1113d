package repository

import (
	"time"

	"github.com/MartinHagen/SubEngine/app/models"
	"gorm.io/gorm"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create creates a new subscription in the database
func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// GetByID retrieves a subscription by its numeric ID
func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("UsageCounters").First(&sub, id).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByUUID retrieves a subscription by its public UUID
func (r *subscriptionRepository) GetByUUID(uuid string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("UsageCounters").Where("uuid = ?", uuid).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetDueForBilling returns active subscriptions whose next billing date has
// passed as of asOf. TrialActive subscriptions whose trial window has ended
// are included so the run can convert them on their first charge.
func (r *subscriptionRepository) GetDueForBilling(asOf time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("next_billing_date <= ? AND (status = ? OR (status = ? AND trial_end_date IS NOT NULL AND trial_end_date <= ?))",
			asOf, models.StatusActive, models.StatusTrialActive, asOf).
		Find(&subs).Error
	return subs, err
}

// GetRenewable returns auto-renewing subscriptions whose term end has
// passed. PaymentFailed subscriptions are included so their term keeps
// extending while the charge retries; paused and terminal ones are not.
func (r *subscriptionRepository) GetRenewable(asOf time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("auto_renew = ? AND end_date IS NOT NULL AND end_date <= ? AND status IN ?",
			true, asOf, []models.SubscriptionStatus{models.StatusActive, models.StatusPaymentFailed}).
		Find(&subs).Error
	return subs, err
}

// GetExpirable returns non-renewing subscriptions whose term end has passed
// and which are still in a state the machine can expire from.
func (r *subscriptionRepository) GetExpirable(asOf time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("auto_renew = ? AND end_date IS NOT NULL AND end_date <= ? AND status IN ?",
			false, asOf, []models.SubscriptionStatus{models.StatusActive, models.StatusTrialActive, models.StatusPaymentFailed}).
		Find(&subs).Error
	return subs, err
}

// GetAllActive returns all subscriptions currently in the active status
func (r *subscriptionRepository) GetAllActive() ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("status = ?", models.StatusActive).Find(&subs).Error
	return subs, err
}

// Update persists the subscription
func (r *subscriptionRepository) Update(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

// ResetUsage zeroes all per-privilege counters for a subscription. Called on
// successful renewal so the new cycle starts fresh.
func (r *subscriptionRepository) ResetUsage(subscriptionID uint) error {
	return r.db.Model(&models.SubscriptionUsage{}).
		Where("subscription_id = ?", subscriptionID).
		Update("used_quantity", 0).Error
}

// Count returns the total number of subscriptions
func (r *subscriptionRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).Count(&count).Error
	return count, err
}
