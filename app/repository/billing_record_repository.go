package repository

import (
	"github.com/MartinHagen/SubEngine/app/models"
	"gorm.io/gorm"
)

// billingRecordRepository implements the BillingRecordRepository interface
type billingRecordRepository struct {
	db *gorm.DB
}

// NewBillingRecordRepository creates a new billing record repository instance
func NewBillingRecordRepository(db *gorm.DB) BillingRecordRepository {
	return &billingRecordRepository{db: db}
}

func (r *billingRecordRepository) Create(record *models.BillingRecord) error {
	return r.db.Create(record).Error
}

func (r *billingRecordRepository) ListBySubscription(subscriptionID uint) ([]models.BillingRecord, error) {
	var records []models.BillingRecord
	err := r.db.
		Where("subscription_id = ?", subscriptionID).
		Order("id DESC").
		Find(&records).Error
	return records, err
}

// GetLastSucceeded returns the most recent succeeded charge, used when a
// prorated refund is issued against the last collected payment. Refund rows
// carry negative amounts and are excluded.
func (r *billingRecordRepository) GetLastSucceeded(subscriptionID uint) (*models.BillingRecord, error) {
	var record models.BillingRecord
	err := r.db.
		Where("subscription_id = ? AND status = ? AND amount > 0", subscriptionID, models.BillingRecordSucceeded).
		Order("id DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
