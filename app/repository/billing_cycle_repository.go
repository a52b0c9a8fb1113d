package repository

import (
	"github.com/MartinHagen/SubEngine/app/models"
	"gorm.io/gorm"
)

// billingCycleRepository implements the BillingCycleRepository interface
type billingCycleRepository struct {
	db *gorm.DB
}

// NewBillingCycleRepository creates a new billing cycle repository instance
func NewBillingCycleRepository(db *gorm.DB) BillingCycleRepository {
	return &billingCycleRepository{db: db}
}

func (r *billingCycleRepository) Create(cycle *models.BillingCycle) error {
	return r.db.Create(cycle).Error
}

func (r *billingCycleRepository) GetByID(id uint) (*models.BillingCycle, error) {
	var cycle models.BillingCycle
	err := r.db.First(&cycle, id).Error
	if err != nil {
		return nil, err
	}
	return &cycle, nil
}

func (r *billingCycleRepository) GetAll() ([]models.BillingCycle, error) {
	var cycles []models.BillingCycle
	err := r.db.Find(&cycles).Error
	return cycles, err
}
