package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BillingRecordSucceeded = "succeeded"
	BillingRecordFailed    = "failed"
	BillingRecordPending   = "pending"
)

const (
	BillingTypeRecurring  = "recurring"
	BillingTypePlanChange = "plan_change"
	BillingTypeRefund     = "refund"
)

// BillingRecord is the ledger entry for one charge attempt or plan-change
// adjustment. The amount is signed: positive amounts are charges, negative
// amounts are credits. Downstream bookkeeping (invoicing, refund accounting)
// lives outside this engine.
type BillingRecord struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	SubscriptionID       uint            `gorm:"not null;index" json:"subscription_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency             string          `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	Type                 string          `gorm:"type:varchar(32);not null;default:'recurring'" json:"type"`
	Status               string          `gorm:"type:varchar(32);not null;index" json:"status"`
	Description          string          `gorm:"type:varchar(255)" json:"description"`
	GatewayTransactionID string          `gorm:"type:varchar(191);index" json:"gateway_transaction_id"`
	ErrorMessage         string          `gorm:"type:varchar(500)" json:"error_message,omitempty"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
