// Package billingrun drives the scheduled sweeps of the billing engine:
// recurring charge collection, term renewals and expirations. Batches fan
// out over a bounded worker pool; one subscription's failure never aborts
// the rest of the run.
package billingrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MartinHagen/SubEngine/app/models"
	"github.com/MartinHagen/SubEngine/app/repository"
	"github.com/MartinHagen/SubEngine/internal/pkg/billingcycle"
	"github.com/MartinHagen/SubEngine/internal/pkg/cache"
	"github.com/MartinHagen/SubEngine/internal/pkg/keyedlock"
	"github.com/MartinHagen/SubEngine/internal/pkg/lifecycle"
	"github.com/MartinHagen/SubEngine/internal/pkg/limits"
	"github.com/MartinHagen/SubEngine/internal/pkg/metrics/counter"
	"github.com/MartinHagen/SubEngine/internal/pkg/payment"
	"github.com/MartinHagen/SubEngine/internal/pkg/proration"
)

// ErrRunInProgress is returned when a sweep is requested while another one
// of the same kind still holds the run lease.
var ErrRunInProgress = errors.New("billing run already in progress")

const (
	DefaultWorkers  = 3
	defaultLeaseTTL = 10 * time.Minute
)

// Options tune the processor.
type Options struct {
	// Workers bounds per-run concurrency. Zero means DefaultWorkers.
	Workers int
	// LeaseTTL caps how long a crashed run blocks the next one.
	LeaseTTL time.Duration
	// RefundOnCancel enables the prorated refund path of CancelWithRefund.
	RefundOnCancel bool
}

// Processor orchestrates the sweeps. All mutations go through the injected
// repositories and the lifecycle service; nothing is cached across runs.
type Processor struct {
	subs      repository.SubscriptionRepository
	cycles    repository.BillingCycleRepository
	records   repository.BillingRecordRepository
	lifecycle *lifecycle.Service
	gateway   payment.Gateway
	opts      Options

	locks *keyedlock.KeyedLock
	runMu sync.Mutex

	stateMu sync.Mutex
	state   RunState

	now          func() time.Time
	acquireLease func(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// NewProcessor creates a billing run processor. The keyed lock must be the
// instance the lifecycle and proration services share.
func NewProcessor(repos *repository.Repositories, lc *lifecycle.Service, gw payment.Gateway, locks *keyedlock.KeyedLock, opts Options) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	return &Processor{
		subs:      repos.Subscription,
		cycles:    repos.BillingCycle,
		records:   repos.BillingRecord,
		lifecycle: lc,
		gateway:   gw,
		opts:      opts,
		locks:     locks,
		state:     RunStateIdle,
		now:       time.Now,
		acquireLease: func(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
			lease, ok, err := cache.AcquireLease(ctx, name, ttl)
			if err != nil || !ok {
				return nil, ok, err
			}
			return func() {
				if rerr := lease.Release(context.Background()); rerr != nil {
					log.Warnf("[BillingRun] Failed to release lease %s: %v", name, rerr)
				}
			}, true, nil
		},
	}
}

// State returns what the processor is currently doing.
func (p *Processor) State() RunState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

func (p *Processor) setState(s RunState) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

// ProcessRecurringBilling finds all due subscriptions and attempts to charge
// each one. Successful charges advance billing dates and reset usage; failed
// charges move the subscription to PaymentFailed. The run is mutually
// exclusive with itself, in-process and across instances.
func (p *Processor) ProcessRecurringBilling(ctx context.Context) (*Summary, error) {
	if !p.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.runMu.Unlock()

	release, ok, err := p.acquireLease(ctx, leaseRecurringBilling, p.opts.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire billing lease: %w", err)
	}
	if !ok {
		_ = counter.Add(counter.FieldRunsSkipped, 1)
		return nil, ErrRunInProgress
	}
	defer release()

	_ = counter.Add(counter.FieldRunsStarted, 1)
	p.setState(RunStateScanning)
	defer p.setState(RunStateIdle)

	asOf := p.now()
	due, err := p.subs.GetDueForBilling(asOf)
	if err != nil {
		return nil, fmt.Errorf("query due subscriptions: %w", err)
	}
	log.Infof("[BillingRun] Found %d subscription(s) due for billing", len(due))

	p.setState(RunStateProcessing)

	summary := &Summary{}
	var summaryMu sync.Mutex
	jobs := make(chan models.Subscription)

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				outcome := p.billOne(ctx, sub.UUID)
				summaryMu.Lock()
				summary.Processed++
				switch outcome {
				case outcomeSucceeded:
					summary.Succeeded++
				case outcomeFailed:
					summary.Failed++
				default:
					summary.Skipped++
				}
				summaryMu.Unlock()
			}
		}()
	}
	for _, sub := range due {
		jobs <- sub
	}
	close(jobs)
	wg.Wait()

	log.Infof("[BillingRun] Recurring billing finished: processed=%d succeeded=%d failed=%d skipped=%d",
		summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped)
	return summary, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
)

// billOne charges a single subscription under its per-id lock. Panics are
// recovered and counted as failures so one bad row cannot take down the run.
func (p *Processor) billOne(ctx context.Context, subUUID string) (result outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[BillingRun] Panic while billing subscription %s: %v", subUUID, r)
			result = outcomeFailed
		}
	}()

	sub, err := p.subs.GetByUUID(subUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return outcomeSkipped
		}
		log.Errorf("[BillingRun] Failed to reload subscription %s: %v", subUUID, err)
		return outcomeFailed
	}

	p.locks.Lock(sub.ID)
	defer p.locks.Unlock(sub.ID)

	// Reread under the lock: the first read only learned the id, a
	// lifecycle operation may have changed the row since.
	sub, err = p.subs.GetByUUID(subUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return outcomeSkipped
		}
		log.Errorf("[BillingRun] Failed to reload subscription %s: %v", subUUID, err)
		return outcomeFailed
	}

	now := p.now()
	if !p.chargeable(sub, now) || !billingcycle.IsDue(sub, now) {
		return outcomeSkipped
	}

	cycle, err := p.cycles.GetByID(sub.BillingCycleID)
	if err != nil || cycle.IsZero() {
		log.Errorf("[BillingRun] Subscription %s has an unusable billing cycle %d: %v", sub.UUID, sub.BillingCycleID, err)
		return outcomeFailed
	}

	res, err := p.gateway.Charge(ctx, payment.ChargeRequest{
		CustomerID:      sub.GatewayCustomerID,
		PaymentMethodID: sub.GatewayPaymentMethodID,
		Amount:          sub.CurrentPrice,
		Currency:        sub.Currency,
		Description:     fmt.Sprintf("recurring charge for subscription %s", sub.UUID),
		IdempotencyKey:  uuid.New().String(),
	})
	if err != nil {
		// Timeout or transport failure. Conservative policy: same state
		// handling as a decline, logged distinctly for ops visibility.
		log.Errorf("[BillingRun] Transient gateway error for subscription %s: %v", sub.UUID, err)
		p.handleChargeFailure(sub, "", fmt.Sprintf("gateway error: %v", err))
		return outcomeFailed
	}
	if !res.Succeeded() {
		log.Infof("[BillingRun] Charge declined for subscription %s: %s", sub.UUID, res.ErrorMessage)
		p.handleChargeFailure(sub, res.TransactionID, res.ErrorMessage)
		return outcomeFailed
	}

	if err := p.handleChargeSuccess(sub, cycle, res); err != nil {
		return outcomeFailed
	}
	return outcomeSucceeded
}

// chargeable reports whether the subscription is in a state the recurring
// run may charge: Active, or a TrialActive whose trial window has ended
// (first charge converts the trial).
func (p *Processor) chargeable(sub *models.Subscription, now time.Time) bool {
	switch sub.Status {
	case models.StatusActive:
		return true
	case models.StatusTrialActive:
		return sub.AutoRenew && sub.TrialEndDate != nil && !sub.TrialEndDate.After(now)
	default:
		return false
	}
}

// handleChargeSuccess advances billing dates, resets failure and usage
// counters, converts a trial when applicable and books the ledger entry.
// A store failure after the money moved is the dangerous case: it is logged
// as reconciliation-required with the gateway transaction id.
func (p *Processor) handleChargeSuccess(sub *models.Subscription, cycle *models.BillingCycle, res *payment.ChargeResult) error {
	now := p.now()
	next, err := billingcycle.Advance(sub.NextBillingDate, cycle)
	if err != nil {
		p.reconciliationRequired(sub, res.TransactionID, err)
		return err
	}

	sub.LastBillingDate = &now
	sub.NextBillingDate = next
	sub.FailedPaymentAttempts = 0
	sub.LastPaymentError = ""

	if sub.Status == models.StatusTrialActive {
		if _, err := p.lifecycle.Transition(sub, models.StatusActive, "trial converted on first charge", lifecycle.ActorSystem); err != nil {
			p.reconciliationRequired(sub, res.TransactionID, err)
			return err
		}
	} else if err := p.subs.Update(sub); err != nil {
		p.reconciliationRequired(sub, res.TransactionID, err)
		return err
	}

	if err := limits.ResetForRenewal(p.subs, sub); err != nil {
		log.Errorf("[BillingRun] Failed to reset usage for subscription %s: %v", sub.UUID, err)
	}

	record := &models.BillingRecord{
		SubscriptionID:       sub.ID,
		Amount:               sub.CurrentPrice,
		Currency:             sub.Currency,
		Type:                 models.BillingTypeRecurring,
		Status:               models.BillingRecordSucceeded,
		Description:          "recurring charge",
		GatewayTransactionID: res.TransactionID,
	}
	if err := p.records.Create(record); err != nil {
		p.reconciliationRequired(sub, res.TransactionID, err)
		return err
	}

	_ = counter.Add(counter.FieldChargesSucceeded, 1)
	log.Infof("[BillingRun] Charged subscription %s (%s %s), next billing %s",
		sub.UUID, sub.CurrentPrice, sub.Currency, next.Format(time.RFC3339))
	return nil
}

// handleChargeFailure books the failed attempt. Billing dates do not move;
// the next scheduled run retries. Active subscriptions transition to
// PaymentFailed; a failed trial conversion keeps its trial status until the
// expiration sweep picks it up.
func (p *Processor) handleChargeFailure(sub *models.Subscription, transactionID, message string) {
	sub.FailedPaymentAttempts++
	sub.LastPaymentError = message

	if lifecycle.ValidateStatusTransition(sub.Status, models.StatusPaymentFailed) {
		if _, err := p.lifecycle.Transition(sub, models.StatusPaymentFailed, "charge failed: "+message, lifecycle.ActorSystem); err != nil {
			log.Errorf("[BillingRun] Failed to persist payment failure for %s: %v", sub.UUID, err)
			return
		}
	} else if err := p.subs.Update(sub); err != nil {
		log.Errorf("[BillingRun] Failed to persist payment failure for %s: %v", sub.UUID, err)
		return
	}

	record := &models.BillingRecord{
		SubscriptionID:       sub.ID,
		Amount:               sub.CurrentPrice,
		Currency:             sub.Currency,
		Type:                 models.BillingTypeRecurring,
		Status:               models.BillingRecordFailed,
		Description:          "recurring charge",
		GatewayTransactionID: transactionID,
		ErrorMessage:         message,
	}
	if err := p.records.Create(record); err != nil {
		log.Errorf("[BillingRun] Failed to book failed-charge record for %s: %v", sub.UUID, err)
	}
	_ = counter.Add(counter.FieldChargesFailed, 1)
}

func (p *Processor) reconciliationRequired(sub *models.Subscription, transactionID string, cause error) {
	_ = counter.Add(counter.FieldReconciliationRequired, 1)
	log.Errorf("[BillingRun] RECONCILIATION REQUIRED: subscription %s was charged (gateway tx %s) but state could not be recorded: %v",
		sub.UUID, transactionID, cause)
}

// CancelWithRefund cancels a subscription; when the refund path is enabled
// and money remains on the current cycle, the unused portion is refunded
// against the last succeeded charge first.
func (p *Processor) CancelWithRefund(ctx context.Context, subUUID, reason, actor string) (*lifecycle.Result, error) {
	sub, err := p.subs.GetByUUID(subUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &lifecycle.Result{OK: false, Code: lifecycle.CodeNotFound, Message: "Subscription not found"}, nil
		}
		return nil, fmt.Errorf("load subscription %s: %w", subUUID, err)
	}

	p.locks.Lock(sub.ID)
	defer p.locks.Unlock(sub.ID)

	sub, err = p.subs.GetByUUID(subUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &lifecycle.Result{OK: false, Code: lifecycle.CodeNotFound, Message: "Subscription not found"}, nil
		}
		return nil, fmt.Errorf("load subscription %s: %w", subUUID, err)
	}

	if p.opts.RefundOnCancel && !sub.Status.IsTerminal() {
		p.refundUnusedTime(ctx, sub)
	}

	return p.lifecycle.CancelLoaded(sub, reason, actor)
}

func (p *Processor) refundUnusedTime(ctx context.Context, sub *models.Subscription) {
	unused, err := proration.Amount(sub.CurrentPrice, sub.BillingAnchor(), sub.NextBillingDate, p.now())
	if err != nil || !unused.IsPositive() {
		return
	}
	last, err := p.records.GetLastSucceeded(sub.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("[BillingRun] Refund lookup failed for subscription %s: %v", sub.UUID, err)
		}
		return
	}
	res, err := p.gateway.Refund(ctx, payment.RefundRequest{
		TransactionID: last.GatewayTransactionID,
		Amount:        unused,
	})
	if err != nil {
		log.Errorf("[BillingRun] Refund failed for subscription %s: %v", sub.UUID, err)
		return
	}
	record := &models.BillingRecord{
		SubscriptionID:       sub.ID,
		Amount:               unused.Neg(),
		Currency:             sub.Currency,
		Type:                 models.BillingTypeRefund,
		Status:               models.BillingRecordSucceeded,
		Description:          "prorated refund on cancellation",
		GatewayTransactionID: res.RefundID,
	}
	if err := p.records.Create(record); err != nil {
		log.Errorf("[BillingRun] Failed to book refund record for %s: %v", sub.UUID, err)
	}
}
