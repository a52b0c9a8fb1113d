package repository

import (
	"github.com/MartinHagen/SubEngine/app/models"
	"gorm.io/gorm"
)

// statusHistoryRepository implements the StatusHistoryRepository interface
type statusHistoryRepository struct {
	db *gorm.DB
}

// NewStatusHistoryRepository creates a new status history repository instance
func NewStatusHistoryRepository(db *gorm.DB) StatusHistoryRepository {
	return &statusHistoryRepository{db: db}
}

// Append writes one immutable audit entry
func (r *statusHistoryRepository) Append(entry *models.SubscriptionStatusHistory) error {
	return r.db.Create(entry).Error
}

// ListBySubscription returns the audit trail in the order it was written
func (r *statusHistoryRepository) ListBySubscription(subscriptionID uint) ([]models.SubscriptionStatusHistory, error) {
	var entries []models.SubscriptionStatusHistory
	err := r.db.
		Where("subscription_id = ?", subscriptionID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}
