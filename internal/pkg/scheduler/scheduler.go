// Package scheduler wires the billing sweeps onto cron schedules. The cron
// entries only trigger; overlap protection lives in the processor's run
// lease, so a slow sweep and an eager schedule cannot double-charge.
package scheduler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/MartinHagen/SubEngine/internal/pkg/billingrun"
	"github.com/MartinHagen/SubEngine/internal/pkg/env"
)

// Scheduler manages the cron jobs for the billing sweeps.
type Scheduler struct {
	cron      *cron.Cron
	processor *billingrun.Processor
}

// New creates a scheduler around the given processor. Panicking jobs are
// recovered by the cron chain.
func New(processor *billingrun.Processor) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		processor: processor,
	}
}

// Start registers the sweeps and starts the cron loop. Schedules come from
// the environment with hourly/daily defaults.
func (s *Scheduler) Start() {
	s.add("recurring billing", env.GetEnv("BILLING_CRON", "0 * * * *"), func(ctx context.Context) (*billingrun.Summary, error) {
		return s.processor.ProcessRecurringBilling(ctx)
	})
	s.add("renewals", env.GetEnv("RENEWAL_CRON", "15 0 * * *"), func(ctx context.Context) (*billingrun.Summary, error) {
		return s.processor.ProcessRenewals(ctx)
	})
	s.add("expirations", env.GetEnv("EXPIRATION_CRON", "30 0 * * *"), func(ctx context.Context) (*billingrun.Summary, error) {
		return s.processor.ProcessExpirations(ctx)
	})

	s.cron.Start()
}

func (s *Scheduler) add(name, spec string, sweep func(context.Context) (*billingrun.Summary, error)) {
	_, err := s.cron.AddFunc(spec, func() {
		summary, err := sweep(context.Background())
		if err != nil {
			if errors.Is(err, billingrun.ErrRunInProgress) {
				log.Warnf("[Scheduler] Skipped %s sweep: previous run still in progress", name)
				return
			}
			log.Errorf("[Scheduler] %s sweep failed: %v", name, err)
			return
		}
		log.Infof("[Scheduler] %s sweep done: processed=%d succeeded=%d failed=%d skipped=%d",
			name, summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped)
	})
	if err != nil {
		log.Errorf("[Scheduler] Failed to schedule %s sweep (%q): %v", name, spec, err)
		return
	}
	log.Infof("[Scheduler] Scheduled %s sweep: %s", name, spec)
}

// Stop stops the cron loop and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
