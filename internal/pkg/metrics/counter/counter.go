// Package counter keeps cheap operational tallies for the billing engine in
// Redis. Writes are fire-and-forget; a cache outage costs metrics, never a
// charge.
package counter

import (
	"context"

	"github.com/MartinHagen/SubEngine/internal/pkg/cache"
)

const billingCountersKey = "billing:counters"

const (
	FieldRunsStarted            = "runs_started"
	FieldRunsSkipped            = "runs_skipped"
	FieldChargesSucceeded       = "charges_succeeded"
	FieldChargesFailed          = "charges_failed"
	FieldRenewals               = "renewals"
	FieldExpirations            = "expirations"
	FieldReconciliationRequired = "reconciliation_required"
)

// Add increments one billing counter field.
func Add(field string, delta int64) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, billingCountersKey, field, delta).Err()
}

// Snapshot returns all billing counters as field -> value.
func Snapshot() (map[string]string, error) {
	ctx := context.Background()
	return cache.GetClient().HGetAll(ctx, billingCountersKey).Result()
}
