package apiv1

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/MartinHagen/SubEngine/app/repository"
	"github.com/MartinHagen/SubEngine/internal/pkg/billingrun"
	"github.com/MartinHagen/SubEngine/internal/pkg/lifecycle"
	"github.com/MartinHagen/SubEngine/internal/pkg/metrics/counter"
	"github.com/MartinHagen/SubEngine/internal/pkg/proration"
)

// APIServer exposes the billing engine to schedulers and internal tooling.
// It is a thin shim: all decisions live in the engine packages.
type APIServer struct {
	processor *billingrun.Processor
	lifecycle *lifecycle.Service
	proration *proration.Service
	repos     *repository.Repositories
	validate  *validator.Validate
	counters  func() (map[string]string, error)
}

// NewAPIServer creates a new API server instance
func NewAPIServer(processor *billingrun.Processor, lc *lifecycle.Service, pr *proration.Service, repos *repository.Repositories) *APIServer {
	return &APIServer{
		processor: processor,
		lifecycle: lc,
		proration: pr,
		repos:     repos,
		validate:  validator.New(),
		counters:  counter.Snapshot,
	}
}

// RegisterHandlers attaches all v1 routes to the given router group.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	r.Post("/billing/run", s.PostBillingRun)
	r.Post("/billing/renewals", s.PostRenewals)
	r.Post("/billing/expirations", s.PostExpirations)
	r.Get("/billing/counters", s.GetBillingCounters)

	r.Post("/subscriptions/:uuid/activate", s.PostActivate)
	r.Post("/subscriptions/:uuid/pause", s.PostPause)
	r.Post("/subscriptions/:uuid/resume", s.PostResume)
	r.Post("/subscriptions/:uuid/cancel", s.PostCancel)
	r.Post("/subscriptions/:uuid/suspend", s.PostSuspend)
	r.Post("/subscriptions/:uuid/expire", s.PostExpire)
	r.Post("/subscriptions/:uuid/plan", s.PostChangePlan)

	r.Get("/subscriptions/:uuid/proration", s.GetProration)
	r.Get("/subscriptions/:uuid/history", s.GetHistory)
	r.Get("/subscriptions/:uuid/billing-records", s.GetBillingRecords)
}

// PostBillingRun triggers a full recurring billing sweep and waits for its
// summary.
func (s *APIServer) PostBillingRun(c *fiber.Ctx) error {
	summary, err := s.processor.ProcessRecurringBilling(c.Context())
	return s.sweepResponse(c, summary, err)
}

// PostRenewals triggers the term renewal sweep.
func (s *APIServer) PostRenewals(c *fiber.Ctx) error {
	summary, err := s.processor.ProcessRenewals(c.Context())
	return s.sweepResponse(c, summary, err)
}

// PostExpirations triggers the expiration sweep.
func (s *APIServer) PostExpirations(c *fiber.Ctx) error {
	summary, err := s.processor.ProcessExpirations(c.Context())
	return s.sweepResponse(c, summary, err)
}

// GetBillingCounters returns the operational tallies of the billing sweeps.
func (s *APIServer) GetBillingCounters(c *fiber.Ctx) error {
	counters, err := s.counters()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": "billing counters unavailable",
		})
	}
	return c.Status(fiber.StatusOK).JSON(counters)
}

func (s *APIServer) sweepResponse(c *fiber.Ctx, summary *billingrun.Summary, err error) error {
	if err != nil {
		if errors.Is(err, billingrun.ErrRunInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   "run_in_progress",
				"message": "a sweep of this kind is already running",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=255"`
	Actor  string `json:"actor" validate:"max=100"`
}

func (s *APIServer) PostActivate(c *fiber.Ctx) error {
	req := s.reasonBody(c)
	result, err := s.lifecycle.Activate(c.Params("uuid"), req.Actor)
	return s.lifecycleResponse(c, result, err)
}

func (s *APIServer) PostPause(c *fiber.Ctx) error {
	req := s.reasonBody(c)
	result, err := s.lifecycle.Pause(c.Params("uuid"), req.Reason, req.Actor)
	return s.lifecycleResponse(c, result, err)
}

func (s *APIServer) PostResume(c *fiber.Ctx) error {
	req := s.reasonBody(c)
	result, err := s.lifecycle.Resume(c.Params("uuid"), req.Actor)
	return s.lifecycleResponse(c, result, err)
}

// PostCancel routes through the processor so the optional prorated refund
// happens under the subscription's per-id lock.
func (s *APIServer) PostCancel(c *fiber.Ctx) error {
	req := s.reasonBody(c)
	result, err := s.processor.CancelWithRefund(c.Context(), c.Params("uuid"), req.Reason, req.Actor)
	return s.lifecycleResponse(c, result, err)
}

func (s *APIServer) PostSuspend(c *fiber.Ctx) error {
	req := s.reasonBody(c)
	result, err := s.lifecycle.Suspend(c.Params("uuid"), req.Reason, req.Actor)
	return s.lifecycleResponse(c, result, err)
}

func (s *APIServer) PostExpire(c *fiber.Ctx) error {
	req := s.reasonBody(c)
	result, err := s.lifecycle.Expire(c.Params("uuid"), req.Actor)
	return s.lifecycleResponse(c, result, err)
}

func (s *APIServer) reasonBody(c *fiber.Ctx) reasonRequest {
	var req reasonRequest
	// The body is optional for lifecycle calls; a malformed one is ignored.
	_ = c.BodyParser(&req)
	return req
}

func (s *APIServer) lifecycleResponse(c *fiber.Ctx, result *lifecycle.Result, err error) error {
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	status := fiber.StatusOK
	if !result.OK {
		switch result.Code {
		case lifecycle.CodeNotFound:
			status = fiber.StatusNotFound
		default:
			status = fiber.StatusConflict
		}
	}
	return c.Status(status).JSON(result)
}

type changePlanRequest struct {
	PlanID uint   `json:"plan_id" validate:"required,gt=0"`
	Actor  string `json:"actor" validate:"max=100"`
}

// PostChangePlan swaps the subscription onto a new plan with prorated
// netting.
func (s *APIServer) PostChangePlan(c *fiber.Ctx) error {
	var req changePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "bad_request",
			"message": "invalid request body",
		})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	}

	result, err := s.proration.ChangePlan(c.Params("uuid"), req.PlanID, req.Actor)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	status := fiber.StatusOK
	if !result.OK {
		switch result.Code {
		case proration.CodeNotFound:
			status = fiber.StatusNotFound
		case proration.CodeInvalidCycle:
			status = fiber.StatusBadRequest
		default:
			status = fiber.StatusConflict
		}
	}
	return c.Status(status).JSON(result)
}

// GetProration answers the read-only proration query for a subscription.
func (s *APIServer) GetProration(c *fiber.Ctx) error {
	effective := time.Now()
	if raw := c.Query("effective_date"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "bad_request",
				"message": "effective_date must be RFC3339",
			})
		}
		effective = parsed
	}

	amount, err := s.proration.Quote(c.Params("uuid"), effective)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   "not_found",
				"message": "Subscription not found",
			})
		}
		if errors.Is(err, proration.ErrInvalidCycle) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_cycle",
				"message": "subscription billing window has no length",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"effective_date":  effective,
		"prorated_amount": amount,
	})
}

// GetHistory lists the audit trail of a subscription.
func (s *APIServer) GetHistory(c *fiber.Ctx) error {
	sub, err := s.repos.Subscription.GetByUUID(c.Params("uuid"))
	if err != nil {
		return s.lookupError(c, err)
	}
	entries, err := s.repos.StatusHistory.ListBySubscription(sub.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(entries)
}

// GetBillingRecords lists the charge ledger of a subscription.
func (s *APIServer) GetBillingRecords(c *fiber.Ctx) error {
	sub, err := s.repos.Subscription.GetByUUID(c.Params("uuid"))
	if err != nil {
		return s.lookupError(c, err)
	}
	records, err := s.repos.BillingRecord.ListBySubscription(sub.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(records)
}

func (s *APIServer) lookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "Subscription not found",
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
