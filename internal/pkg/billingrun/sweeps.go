package billingrun

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MartinHagen/SubEngine/app/models"
	"github.com/MartinHagen/SubEngine/internal/pkg/billingcycle"
	"github.com/MartinHagen/SubEngine/internal/pkg/metrics/counter"
)

// ProcessRenewals extends the term of auto-renewing subscriptions whose
// EndDate has passed. Renewal moves the term boundary only; charge
// collection stays with the recurring run, which keeps the two sweeps
// order-insensitive with respect to each other. Active and PaymentFailed
// subscriptions renew, so a recovery from a failed charge finds the term
// intact; paused and terminal ones do not.
func (p *Processor) ProcessRenewals(ctx context.Context) (*Summary, error) {
	release, ok, err := p.acquireLease(ctx, leaseRenewals, p.opts.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire renewal lease: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	defer release()

	asOf := p.now()
	subs, err := p.subs.GetRenewable(asOf)
	if err != nil {
		return nil, fmt.Errorf("query renewable subscriptions: %w", err)
	}
	log.Infof("[BillingRun] Found %d subscription(s) to renew", len(subs))

	summary := &Summary{}
	for i := range subs {
		sub := &subs[i]
		summary.Processed++

		p.locks.Lock(sub.ID)
		fresh, err := p.subs.GetByUUID(sub.UUID)
		if err != nil {
			p.locks.Unlock(sub.ID)
			log.Errorf("[BillingRun] Failed to reload subscription %s for renewal: %v", sub.UUID, err)
			summary.Failed++
			continue
		}
		if fresh.EndDate == nil || fresh.EndDate.After(asOf) || !fresh.AutoRenew ||
			(fresh.Status != models.StatusActive && fresh.Status != models.StatusPaymentFailed) {
			p.locks.Unlock(sub.ID)
			summary.Skipped++
			continue
		}

		cycle, err := p.cycles.GetByID(fresh.BillingCycleID)
		if err != nil || cycle.IsZero() {
			p.locks.Unlock(sub.ID)
			log.Errorf("[BillingRun] Subscription %s has an unusable billing cycle %d: %v", fresh.UUID, fresh.BillingCycleID, err)
			summary.Failed++
			continue
		}

		newEnd, err := billingcycle.Advance(*fresh.EndDate, cycle)
		if err != nil {
			p.locks.Unlock(sub.ID)
			summary.Failed++
			continue
		}
		fresh.EndDate = &newEnd
		if err := p.subs.Update(fresh); err != nil {
			p.locks.Unlock(sub.ID)
			log.Errorf("[BillingRun] Failed to persist renewal for %s: %v", fresh.UUID, err)
			summary.Failed++
			continue
		}
		p.locks.Unlock(sub.ID)

		_ = counter.Add(counter.FieldRenewals, 1)
		summary.Succeeded++
	}

	log.Infof("[BillingRun] Renewal sweep finished: processed=%d succeeded=%d failed=%d skipped=%d",
		summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped)
	return summary, nil
}

// ProcessExpirations expires non-renewing subscriptions whose term has
// ended, via the state machine so the audit trail stays complete.
func (p *Processor) ProcessExpirations(ctx context.Context) (*Summary, error) {
	release, ok, err := p.acquireLease(ctx, leaseExpirations, p.opts.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire expiration lease: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	defer release()

	asOf := p.now()
	subs, err := p.subs.GetExpirable(asOf)
	if err != nil {
		return nil, fmt.Errorf("query expirable subscriptions: %w", err)
	}
	log.Infof("[BillingRun] Found %d subscription(s) to expire", len(subs))

	summary := &Summary{}
	for i := range subs {
		sub := &subs[i]
		summary.Processed++

		// Expire takes the per-id lock itself.
		result, err := p.lifecycle.Expire(sub.UUID, "")
		if err != nil {
			log.Errorf("[BillingRun] Failed to expire subscription %s: %v", sub.UUID, err)
			summary.Failed++
			continue
		}
		if !result.OK {
			summary.Skipped++
			continue
		}
		_ = counter.Add(counter.FieldExpirations, 1)
		summary.Succeeded++
	}

	log.Infof("[BillingRun] Expiration sweep finished: processed=%d succeeded=%d failed=%d skipped=%d",
		summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped)
	return summary, nil
}
