package proration

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/MartinHagen/SubEngine/app/models"
	"github.com/MartinHagen/SubEngine/app/repository"
	"github.com/MartinHagen/SubEngine/internal/pkg/keyedlock"
)

// Code classifies a plan-change outcome.
type Code string

const (
	CodeOK           Code = "ok"
	CodeNoop         Code = "noop"
	CodeNotFound     Code = "not_found"
	CodeInvalidState Code = "invalid_state"
	CodeInactivePlan Code = "inactive_plan"
	CodeInvalidCycle Code = "invalid_cycle"
)

// ChangeResult is the outcome of a plan change. NetAmount is signed:
// positive means an additional charge was booked, negative a credit.
type ChangeResult struct {
	OK           bool                  `json:"ok"`
	Code         Code                  `json:"code"`
	Message      string                `json:"message"`
	NetAmount    decimal.Decimal       `json:"net_amount"`
	Credit       decimal.Decimal       `json:"credit"`
	Charge       decimal.Decimal       `json:"charge"`
	Record       *models.BillingRecord `json:"record,omitempty"`
	Subscription *models.Subscription  `json:"subscription,omitempty"`
}

// TxRunner runs a function against a transactional set of repositories.
// Either everything the function writes is persisted, or nothing is.
type TxRunner interface {
	RunInTransaction(fn func(repos *repository.Repositories) error) error
}

type gormTxRunner struct {
	db *gorm.DB
}

func (g gormTxRunner) RunInTransaction(fn func(repos *repository.Repositories) error) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		return fn(repository.NewRepositories(tx))
	})
}

// Service executes plan changes and answers proration queries. Plan changes
// run under the shared per-subscription lock so they never interleave with
// an in-flight charge or lifecycle operation on the same subscription.
type Service struct {
	tx    TxRunner
	locks *keyedlock.KeyedLock
	now   func() time.Time
}

// NewService creates a proration service running its unit of work on the
// given GORM handle. The keyed lock must be the instance the lifecycle
// service and the billing run share.
func NewService(db *gorm.DB, locks *keyedlock.KeyedLock) *Service {
	return NewServiceWithRunner(gormTxRunner{db: db}, locks)
}

// NewServiceWithRunner creates a proration service with a custom
// transaction runner (used by tests with fake repositories).
func NewServiceWithRunner(tx TxRunner, locks *keyedlock.KeyedLock) *Service {
	return &Service{tx: tx, locks: locks, now: time.Now}
}

// Quote returns the prorated value of the subscription's current price for
// the remaining window as of effective. Read-only.
func (s *Service) Quote(uuid string, effective time.Time) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := s.tx.RunInTransaction(func(repos *repository.Repositories) error {
		sub, err := repos.Subscription.GetByUUID(uuid)
		if err != nil {
			return err
		}
		amount, err = Amount(sub.CurrentPrice, sub.BillingAnchor(), sub.NextBillingDate, effective)
		return err
	})
	return amount, err
}

// ChangePlan swaps the subscription onto a new plan mid-cycle. The old
// plan's unused time is credited, the new plan's remaining time is charged,
// and the net lands in one signed billing record. Subscription update,
// usage allowance refresh and the billing record are one transaction.
func (s *Service) ChangePlan(uuid string, newPlanID uint, actor string) (*ChangeResult, error) {
	unlock, found, err := s.lockSub(uuid)
	if err != nil {
		return nil, err
	}
	if !found {
		return &ChangeResult{Code: CodeNotFound, Message: "Subscription not found"}, nil
	}
	defer unlock()

	result := &ChangeResult{}
	err = s.tx.RunInTransaction(func(repos *repository.Repositories) error {
		sub, err := repos.Subscription.GetByUUID(uuid)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				*result = ChangeResult{Code: CodeNotFound, Message: "Subscription not found"}
				return nil
			}
			return fmt.Errorf("load subscription %s: %w", uuid, err)
		}
		if sub.Status.IsTerminal() {
			*result = ChangeResult{Code: CodeInvalidState, Message: fmt.Sprintf("cannot change plan of a %s subscription", sub.Status)}
			return nil
		}
		if sub.PlanID == newPlanID {
			*result = ChangeResult{OK: true, Code: CodeNoop, Message: "subscription already on requested plan", Subscription: sub}
			return nil
		}

		plan, err := repos.Plan.GetByID(newPlanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				*result = ChangeResult{Code: CodeNotFound, Message: "Plan not found"}
				return nil
			}
			return fmt.Errorf("load plan %d: %w", newPlanID, err)
		}
		if !plan.IsActive {
			*result = ChangeResult{Code: CodeInactivePlan, Message: fmt.Sprintf("plan %q is not open for subscriptions", plan.Name)}
			return nil
		}

		effective := s.now()
		net, credit, charge, err := Net(sub.CurrentPrice, plan.Price, sub.BillingAnchor(), sub.NextBillingDate, effective)
		if err != nil {
			if errors.Is(err, ErrInvalidCycle) {
				*result = ChangeResult{Code: CodeInvalidCycle, Message: "subscription billing window has no length"}
				return nil
			}
			return err
		}

		oldPlanID := sub.PlanID
		sub.PlanID = plan.ID
		sub.CurrentPrice = plan.Price
		sub.BillingCycleID = plan.BillingCycleID
		if err := repos.Subscription.Update(sub); err != nil {
			return fmt.Errorf("persist plan change for %s: %w", sub.UUID, err)
		}
		if err := refreshAllowances(repos, sub, plan); err != nil {
			return err
		}

		record := &models.BillingRecord{
			SubscriptionID: sub.ID,
			Amount:         net,
			Currency:       sub.Currency,
			Type:           models.BillingTypePlanChange,
			Status:         models.BillingRecordSucceeded,
			Description:    fmt.Sprintf("plan change %d -> %d (credit %s, charge %s)", oldPlanID, plan.ID, credit, charge),
		}
		if err := repos.BillingRecord.Create(record); err != nil {
			return fmt.Errorf("create plan change billing record for %s: %w", sub.UUID, err)
		}

		log.Infof("[Proration] Subscription %s moved to plan %d, net amount %s %s", sub.UUID, plan.ID, net, sub.Currency)
		*result = ChangeResult{
			OK:           true,
			Code:         CodeOK,
			Message:      "plan changed",
			NetAmount:    net,
			Credit:       credit,
			Charge:       charge,
			Record:       record,
			Subscription: sub,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockSub resolves the subscription's id and takes its per-id lock. The
// caller releases via the returned func; found is false when the uuid does
// not exist.
func (s *Service) lockSub(uuid string) (unlock func(), found bool, err error) {
	var id uint
	err = s.tx.RunInTransaction(func(repos *repository.Repositories) error {
		sub, err := repos.Subscription.GetByUUID(uuid)
		if err != nil {
			return err
		}
		id = sub.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load subscription %s: %w", uuid, err)
	}
	s.locks.Lock(id)
	return func() { s.locks.Unlock(id) }, true, nil
}

// refreshAllowances aligns the subscription's usage counters with the new
// plan's privileges. Used quantities carry over; only the limits change.
func refreshAllowances(repos *repository.Repositories, sub *models.Subscription, plan *models.SubscriptionPlan) error {
	existing := make(map[string]*models.SubscriptionUsage, len(sub.UsageCounters))
	for i := range sub.UsageCounters {
		existing[sub.UsageCounters[i].PrivilegeKey] = &sub.UsageCounters[i]
	}
	for _, priv := range plan.Privileges {
		if counter, ok := existing[priv.PrivilegeKey]; ok {
			counter.AllowedQuantity = priv.AllowedQuantity
		} else {
			sub.UsageCounters = append(sub.UsageCounters, models.SubscriptionUsage{
				SubscriptionID:  sub.ID,
				PrivilegeKey:    priv.PrivilegeKey,
				AllowedQuantity: priv.AllowedQuantity,
			})
		}
	}
	if len(plan.Privileges) == 0 {
		return nil
	}
	return repos.Subscription.Update(sub)
}
