package apiv1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MartinHagen/SubEngine/app/models"
	"github.com/MartinHagen/SubEngine/app/repository"
	"github.com/MartinHagen/SubEngine/internal/pkg/billingrun"
	"github.com/MartinHagen/SubEngine/internal/pkg/keyedlock"
	"github.com/MartinHagen/SubEngine/internal/pkg/lifecycle"
	"github.com/MartinHagen/SubEngine/internal/pkg/payment"
	"github.com/MartinHagen/SubEngine/internal/pkg/proration"
)

type fakeSubRepo struct {
	byUUID map[string]*models.Subscription
}

func (r *fakeSubRepo) Create(sub *models.Subscription) error { return nil }

func (r *fakeSubRepo) GetByID(id uint) (*models.Subscription, error) {
	return nil, gorm.ErrRecordNotFound
}

// Reads hand out copies and writes store copies, like a real database row.
func (r *fakeSubRepo) GetByUUID(uuid string) (*models.Subscription, error) {
	if s, ok := r.byUUID[uuid]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubRepo) GetDueForBilling(asOf time.Time) ([]models.Subscription, error) {
	return nil, nil
}

func (r *fakeSubRepo) GetRenewable(asOf time.Time) ([]models.Subscription, error) {
	return nil, nil
}

func (r *fakeSubRepo) GetExpirable(asOf time.Time) ([]models.Subscription, error) {
	return nil, nil
}

func (r *fakeSubRepo) GetAllActive() ([]models.Subscription, error) { return nil, nil }

func (r *fakeSubRepo) Update(sub *models.Subscription) error {
	cp := *sub
	r.byUUID[sub.UUID] = &cp
	return nil
}

func (r *fakeSubRepo) ResetUsage(subscriptionID uint) error { return nil }

func (r *fakeSubRepo) Count() (int64, error) { return 0, nil }

type fakePlanRepo struct {
	byID map[uint]*models.SubscriptionPlan
}

func (r *fakePlanRepo) Create(plan *models.SubscriptionPlan) error { return nil }

func (r *fakePlanRepo) GetByID(id uint) (*models.SubscriptionPlan, error) {
	if p, ok := r.byID[id]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakePlanRepo) GetActive() ([]models.SubscriptionPlan, error) { return nil, nil }

func (r *fakePlanRepo) Update(plan *models.SubscriptionPlan) error { return nil }

type fakeCycleRepo struct{}

func (r *fakeCycleRepo) Create(cycle *models.BillingCycle) error { return nil }

func (r *fakeCycleRepo) GetByID(id uint) (*models.BillingCycle, error) {
	return &models.BillingCycle{ID: id, DurationMonths: 1}, nil
}

func (r *fakeCycleRepo) GetAll() ([]models.BillingCycle, error) { return nil, nil }

type fakeHistoryRepo struct {
	entries []models.SubscriptionStatusHistory
}

func (r *fakeHistoryRepo) Append(entry *models.SubscriptionStatusHistory) error {
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeHistoryRepo) ListBySubscription(subscriptionID uint) ([]models.SubscriptionStatusHistory, error) {
	return r.entries, nil
}

type fakeRecordRepo struct {
	records []models.BillingRecord
}

func (r *fakeRecordRepo) Create(record *models.BillingRecord) error {
	r.records = append(r.records, *record)
	return nil
}

func (r *fakeRecordRepo) ListBySubscription(subscriptionID uint) ([]models.BillingRecord, error) {
	return r.records, nil
}

func (r *fakeRecordRepo) GetLastSucceeded(subscriptionID uint) (*models.BillingRecord, error) {
	return nil, gorm.ErrRecordNotFound
}

type fakeGateway struct{}

func (g *fakeGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	return &payment.ChargeResult{Status: payment.ChargeSucceeded, TransactionID: "tx"}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	return &payment.RefundResult{RefundID: "rf"}, nil
}

type fakeRunner struct {
	repos *repository.Repositories
}

func (f fakeRunner) RunInTransaction(fn func(repos *repository.Repositories) error) error {
	return fn(f.repos)
}

func newTestServer(t *testing.T, subs ...*models.Subscription) (*fiber.App, *APIServer, *fakeSubRepo, *fakeHistoryRepo) {
	t.Helper()

	subRepo := &fakeSubRepo{byUUID: make(map[string]*models.Subscription)}
	for _, s := range subs {
		subRepo.byUUID[s.UUID] = s
	}
	history := &fakeHistoryRepo{}
	repos := &repository.Repositories{
		Subscription:  subRepo,
		Plan:          &fakePlanRepo{byID: map[uint]*models.SubscriptionPlan{}},
		BillingCycle:  &fakeCycleRepo{},
		StatusHistory: history,
		BillingRecord: &fakeRecordRepo{},
	}

	locks := keyedlock.New()
	lc := lifecycle.NewService(subRepo, history, locks)
	pr := proration.NewServiceWithRunner(fakeRunner{repos: repos}, locks)
	processor := billingrun.NewProcessor(repos, lc, &fakeGateway{}, locks, billingrun.Options{})

	server := NewAPIServer(processor, lc, pr, repos)
	app := fiber.New()
	RegisterHandlers(app.Group("/api/v1"), server)
	return app, server, subRepo, history
}

func newTestApp(t *testing.T, subs ...*models.Subscription) (*fiber.App, *fakeSubRepo, *fakeHistoryRepo) {
	t.Helper()
	app, _, subRepo, history := newTestServer(t, subs...)
	return app, subRepo, history
}

func activeSub(uuid string) *models.Subscription {
	start := time.Now().AddDate(0, 0, -10)
	return &models.Subscription{
		ID:              1,
		UUID:            uuid,
		Status:          models.StatusActive,
		Currency:        "EUR",
		CurrentPrice:    decimal.RequireFromString("10.00"),
		PlanID:          1,
		BillingCycleID:  1,
		LastBillingDate: &start,
		NextBillingDate: time.Now().AddDate(0, 0, 20),
	}
}

func postJSON(t *testing.T, app *fiber.App, path string, payload interface{}) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(http.MethodPost, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestPostPause_Success(t *testing.T) {
	app, subs, history := newTestApp(t, activeSub("sub-1"))

	resp := postJSON(t, app, "/api/v1/subscriptions/sub-1/pause", map[string]string{
		"reason": "vacation", "actor": "user",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result lifecycle.Result
	decodeBody(t, resp, &result)
	assert.True(t, result.OK)
	assert.Equal(t, models.StatusPaused, subs.byUUID["sub-1"].Status)
	require.Len(t, history.entries, 1)
	assert.Equal(t, "user", history.entries[0].Actor)
}

func TestPostActivate_UnknownSubscription(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp := postJSON(t, app, "/api/v1/subscriptions/ghost/activate", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var result lifecycle.Result
	decodeBody(t, resp, &result)
	assert.Equal(t, lifecycle.CodeNotFound, result.Code)
}

func TestPostPause_InvalidTransitionConflicts(t *testing.T) {
	sub := activeSub("sub-1")
	sub.Status = models.StatusCancelled
	app, _, _ := newTestApp(t, sub)

	resp := postJSON(t, app, "/api/v1/subscriptions/sub-1/pause", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPostCancel_Succeeds(t *testing.T) {
	app, subs, _ := newTestApp(t, activeSub("sub-1"))

	resp := postJSON(t, app, "/api/v1/subscriptions/sub-1/cancel", map[string]string{
		"reason": "too expensive",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusCancelled, subs.byUUID["sub-1"].Status)
	assert.Equal(t, "too expensive", subs.byUUID["sub-1"].CancellationReason)
}

func TestPostChangePlan_Validation(t *testing.T) {
	app, _, _ := newTestApp(t, activeSub("sub-1"))

	resp := postJSON(t, app, "/api/v1/subscriptions/sub-1/plan", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostChangePlan_UnknownPlan(t *testing.T) {
	app, _, _ := newTestApp(t, activeSub("sub-1"))

	resp := postJSON(t, app, "/api/v1/subscriptions/sub-1/plan", map[string]interface{}{
		"plan_id": 99,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetProration_Quote(t *testing.T) {
	app, _, _ := newTestApp(t, activeSub("sub-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-1/proration", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Contains(t, body, "prorated_amount")
}

func TestGetProration_BadEffectiveDate(t *testing.T) {
	app, _, _ := newTestApp(t, activeSub("sub-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-1/proration?effective_date=tomorrow", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetHistory(t *testing.T) {
	app, _, history := newTestApp(t, activeSub("sub-1"))
	history.entries = append(history.entries, models.SubscriptionStatusHistory{
		SubscriptionID: 1,
		FromStatus:     models.StatusPending,
		ToStatus:       models.StatusActive,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-1/history", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []models.SubscriptionStatusHistory
	decodeBody(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusActive, entries[0].ToStatus)
}

func TestGetBillingCounters(t *testing.T) {
	app, server, _, _ := newTestServer(t)
	server.counters = func() (map[string]string, error) {
		return map[string]string{"charges_succeeded": "3", "runs_started": "1"}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/counters", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "3", body["charges_succeeded"])
	assert.Equal(t, "1", body["runs_started"])
}

func TestGetBillingCounters_Unavailable(t *testing.T) {
	app, server, _, _ := newTestServer(t)
	server.counters = func() (map[string]string, error) {
		return nil, errors.New("connection refused")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/counters", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestGetHistory_UnknownSubscription(t *testing.T) {
	app, _, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/ghost/history", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
