// Package payment defines the charge/refund contract against the external
// payment processor. A declined charge is a result, not an error; the error
// channel is reserved for transport trouble (timeouts, 5xx), which callers
// treat as a failure conservatively.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

const (
	ChargeSucceeded = "succeeded"
	ChargeFailed    = "failed"
)

// ChargeRequest asks the gateway to charge a stored payment method.
// IdempotencyKey makes retried deliveries of the same attempt safe.
type ChargeRequest struct {
	CustomerID      string          `json:"customer_id"`
	PaymentMethodID string          `json:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description,omitempty"`
	IdempotencyKey  string          `json:"-"`
}

// ChargeResult is the gateway's answer to a charge attempt.
type ChargeResult struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Succeeded reports whether the charge went through.
func (r *ChargeResult) Succeeded() bool {
	return r != nil && r.Status == ChargeSucceeded
}

// RefundRequest asks the gateway to return money for a prior transaction.
type RefundRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// RefundResult is the gateway's answer to a refund request.
type RefundResult struct {
	Status   string `json:"status"`
	RefundID string `json:"refund_id"`
}

// Gateway is the payment processor boundary consumed by the billing engine.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}
