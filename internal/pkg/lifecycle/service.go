package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MartinHagen/SubEngine/app/models"
	"github.com/MartinHagen/SubEngine/app/repository"
	"github.com/MartinHagen/SubEngine/internal/pkg/keyedlock"
)

// ActorSystem is recorded in the audit trail when no explicit actor is given.
const ActorSystem = "system"

// Service executes validated status transitions. Every successful transition
// persists the subscription and appends exactly one audit entry; an invalid
// request mutates nothing. All UUID-based operations run under the shared
// per-subscription lock, so a lifecycle request and an in-flight charge on
// the same subscription never interleave.
type Service struct {
	subs    repository.SubscriptionRepository
	history repository.StatusHistoryRepository
	locks   *keyedlock.KeyedLock
	now     func() time.Time
}

// NewService creates a lifecycle service from injected repositories. The
// keyed lock must be the same instance the billing run and the proration
// service use.
func NewService(subs repository.SubscriptionRepository, history repository.StatusHistoryRepository, locks *keyedlock.KeyedLock) *Service {
	return &Service{
		subs:    subs,
		history: history,
		locks:   locks,
		now:     time.Now,
	}
}

// Activate moves a subscription into Active from any state that allows it
// (Pending, TrialActive, Paused, Suspended, PaymentFailed). Pause/suspend
// timestamps are cleared; a recovery from PaymentFailed also resets the
// failed-attempt counter.
func (s *Service) Activate(uuid, actor string) (*Result, error) {
	return s.locked(uuid, func(sub *models.Subscription) (*Result, error) {
		if sub.Status == models.StatusActive {
			return s.noop(sub)
		}
		from := sub.Status
		return s.apply(sub, models.StatusActive, "activated", actor, func(sub *models.Subscription, now time.Time) {
			sub.PausedDate = nil
			sub.SuspendedDate = nil
			if from == models.StatusPaymentFailed {
				sub.FailedPaymentAttempts = 0
				sub.LastPaymentError = ""
			}
		})
	})
}

// Pause moves an Active subscription into Paused and stamps PausedDate.
func (s *Service) Pause(uuid, reason, actor string) (*Result, error) {
	return s.locked(uuid, func(sub *models.Subscription) (*Result, error) {
		if sub.Status == models.StatusPaused {
			return s.noop(sub)
		}
		return s.apply(sub, models.StatusPaused, reason, actor, func(sub *models.Subscription, now time.Time) {
			sub.PausedDate = &now
		})
	})
}

// Resume moves a Paused subscription back to Active and stamps ResumedDate.
func (s *Service) Resume(uuid, actor string) (*Result, error) {
	return s.locked(uuid, func(sub *models.Subscription) (*Result, error) {
		if sub.Status == models.StatusActive {
			return s.noop(sub)
		}
		if sub.Status != models.StatusPaused {
			return reject(CodeInvalidTransition, fmt.Sprintf("cannot resume from status %q", sub.Status)), nil
		}
		return s.apply(sub, models.StatusActive, "resumed", actor, func(sub *models.Subscription, now time.Time) {
			sub.PausedDate = nil
			sub.ResumedDate = &now
		})
	})
}

// Cancel is allowed from every non-terminal status. It stamps CancelledDate,
// stores the reason and ends auto-renewal.
func (s *Service) Cancel(uuid, reason, actor string) (*Result, error) {
	return s.locked(uuid, func(sub *models.Subscription) (*Result, error) {
		return s.CancelLoaded(sub, reason, actor)
	})
}

// CancelLoaded cancels an already-loaded subscription whose per-id lock the
// caller holds. The billing run uses this to keep the refund and the cancel
// in one critical section.
func (s *Service) CancelLoaded(sub *models.Subscription, reason, actor string) (*Result, error) {
	if sub.Status == models.StatusCancelled {
		return s.noop(sub)
	}
	return s.apply(sub, models.StatusCancelled, reason, actor, func(sub *models.Subscription, now time.Time) {
		sub.CancelledDate = &now
		sub.CancellationReason = reason
		sub.AutoRenew = false
		if sub.EndDate == nil {
			sub.EndDate = &now
		}
	})
}

// Suspend moves an Active subscription into Suspended and stamps SuspendedDate.
func (s *Service) Suspend(uuid, reason, actor string) (*Result, error) {
	return s.locked(uuid, func(sub *models.Subscription) (*Result, error) {
		if sub.Status == models.StatusSuspended {
			return s.noop(sub)
		}
		return s.apply(sub, models.StatusSuspended, reason, actor, func(sub *models.Subscription, now time.Time) {
			sub.SuspendedDate = &now
		})
	})
}

// Expire moves a subscription whose term has ended into Expired. The request
// is rejected while EndDate is still in the future.
func (s *Service) Expire(uuid, actor string) (*Result, error) {
	return s.locked(uuid, func(sub *models.Subscription) (*Result, error) {
		if sub.Status == models.StatusExpired {
			return s.noop(sub)
		}
		if sub.EndDate == nil || sub.EndDate.After(s.now()) {
			return reject(CodeNotYetEnded, "subscription end date has not passed"), nil
		}
		return s.apply(sub, models.StatusExpired, "term ended", actor, func(sub *models.Subscription, now time.Time) {})
	})
}

// Transition applies a validated status change to an already-loaded
// subscription. The caller holds the subscription's per-id lock; the billing
// run uses this to move a charged-off subscription to PaymentFailed without
// re-reading it.
func (s *Service) Transition(sub *models.Subscription, to models.SubscriptionStatus, reason, actor string) (*Result, error) {
	if sub.Status == to {
		return s.noop(sub)
	}
	return s.apply(sub, to, reason, actor, func(sub *models.Subscription, now time.Time) {})
}

// locked loads the subscription once to learn its id, takes the per-id lock
// and rereads under it so fn always works on a fresh row.
func (s *Service) locked(uuid string, fn func(*models.Subscription) (*Result, error)) (*Result, error) {
	probe, rej, err := s.load(uuid)
	if rej != nil || err != nil {
		return rej, err
	}

	s.locks.Lock(probe.ID)
	defer s.locks.Unlock(probe.ID)

	sub, rej, err := s.load(uuid)
	if rej != nil || err != nil {
		return rej, err
	}
	return fn(sub)
}

// load fetches by UUID and translates record-not-found into a rejection.
func (s *Service) load(uuid string) (*models.Subscription, *Result, error) {
	sub, err := s.subs.GetByUUID(uuid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reject(CodeNotFound, "Subscription not found"), nil
		}
		return nil, nil, fmt.Errorf("load subscription %s: %w", uuid, err)
	}
	return sub, nil, nil
}

func (s *Service) noop(sub *models.Subscription) (*Result, error) {
	return &Result{OK: true, Code: CodeNoop, Message: "subscription already in requested status", Subscription: sub}, nil
}

// apply validates the transition, mutates, persists and writes the audit
// entry. The subscription write and the history append belong to the same
// logical operation; a history failure after a persisted status change is
// logged loudly because the audit trail is now missing one row.
func (s *Service) apply(sub *models.Subscription, to models.SubscriptionStatus, reason, actor string, mutate func(*models.Subscription, time.Time)) (*Result, error) {
	from := sub.Status
	if !ValidateStatusTransition(from, to) {
		return reject(CodeInvalidTransition, fmt.Sprintf("transition %q -> %q is not allowed", from, to)), nil
	}

	now := s.now()
	sub.Status = to
	mutate(sub, now)

	if err := s.subs.Update(sub); err != nil {
		sub.Status = from
		return nil, fmt.Errorf("persist subscription %s: %w", sub.UUID, err)
	}

	if actor == "" {
		actor = ActorSystem
	}
	entry := &models.SubscriptionStatusHistory{
		SubscriptionID: sub.ID,
		FromStatus:     from,
		ToStatus:       to,
		Reason:         reason,
		Actor:          actor,
	}
	if err := s.history.Append(entry); err != nil {
		log.Errorf("[Lifecycle] Audit append failed for subscription %s (%s -> %s): %v", sub.UUID, from, to, err)
		return nil, fmt.Errorf("append status history for %s: %w", sub.UUID, err)
	}

	log.Infof("[Lifecycle] Subscription %s: %s -> %s (%s)", sub.UUID, from, to, reason)
	return &Result{OK: true, Code: CodeOK, Message: fmt.Sprintf("status changed to %s", to), Subscription: sub}, nil
}
