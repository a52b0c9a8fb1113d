package models

import "time"

// SubscriptionStatusHistory is the append-only audit trail of lifecycle
// transitions. Rows are never updated or deleted; exactly one row is written
// per successful status change.
type SubscriptionStatusHistory struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	SubscriptionID uint               `gorm:"not null;index" json:"subscription_id"`
	FromStatus     SubscriptionStatus `gorm:"type:varchar(32);not null" json:"from_status"`
	ToStatus       SubscriptionStatus `gorm:"type:varchar(32);not null" json:"to_status"`
	Reason         string             `gorm:"type:varchar(255)" json:"reason"`
	Actor          string             `gorm:"type:varchar(100);not null;default:'system'" json:"actor"`
	CreatedAt      time.Time          `gorm:"autoCreateTime" json:"created_at"`
}
