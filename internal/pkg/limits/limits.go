// Package limits enforces per-privilege usage allowances within a billing
// cycle. A counter at its limit blocks further consumption until the renewal
// reset.
package limits

import (
	"errors"
	"fmt"

	"github.com/MartinHagen/SubEngine/app/models"
	"github.com/MartinHagen/SubEngine/app/repository"
)

// ErrLimitReached is returned when a privilege's allowance is exhausted.
var ErrLimitReached = errors.New("usage limit reached")

// CanConsume reports whether quantity more units of the privilege fit into
// the subscription's allowance. Unknown privileges are denied; unlimited
// allowances (AllowedQuantity < 0) always fit.
func CanConsume(sub *models.Subscription, privilegeKey string, quantity int64) bool {
	for i := range sub.UsageCounters {
		c := &sub.UsageCounters[i]
		if c.PrivilegeKey != privilegeKey {
			continue
		}
		if c.AllowedQuantity < 0 {
			return true
		}
		return c.UsedQuantity+quantity <= c.AllowedQuantity
	}
	return false
}

// Consume books quantity units against the privilege and persists the
// subscription. The total usage count moves with it.
func Consume(subs repository.SubscriptionRepository, sub *models.Subscription, privilegeKey string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("consume quantity must be positive, got %d", quantity)
	}
	if !CanConsume(sub, privilegeKey, quantity) {
		return fmt.Errorf("privilege %q: %w", privilegeKey, ErrLimitReached)
	}
	for i := range sub.UsageCounters {
		c := &sub.UsageCounters[i]
		if c.PrivilegeKey == privilegeKey {
			c.UsedQuantity += quantity
			break
		}
	}
	sub.TotalUsageCount += quantity
	return subs.Update(sub)
}

// ResetForRenewal zeroes all counters at the start of a new cycle.
func ResetForRenewal(subs repository.SubscriptionRepository, sub *models.Subscription) error {
	if err := subs.ResetUsage(sub.ID); err != nil {
		return err
	}
	for i := range sub.UsageCounters {
		sub.UsageCounters[i].UsedQuantity = 0
	}
	return nil
}
