package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MartinHagen/SubEngine/app/models"
	"github.com/MartinHagen/SubEngine/internal/pkg/keyedlock"
)

type fakeSubRepo struct {
	byUUID    map[string]*models.Subscription
	updateErr error
	updates   int
}

func newFakeSubRepo(subs ...*models.Subscription) *fakeSubRepo {
	r := &fakeSubRepo{byUUID: make(map[string]*models.Subscription)}
	for _, s := range subs {
		r.byUUID[s.UUID] = s
	}
	return r
}

func (r *fakeSubRepo) Create(sub *models.Subscription) error {
	r.byUUID[sub.UUID] = sub
	return nil
}

// Reads hand out copies and writes store copies, like a real database row.
func (r *fakeSubRepo) GetByID(id uint) (*models.Subscription, error) {
	for _, s := range r.byUUID {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

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
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates++
	cp := *sub
	r.byUUID[sub.UUID] = &cp
	return nil
}

func (r *fakeSubRepo) ResetUsage(subscriptionID uint) error { return nil }

func (r *fakeSubRepo) Count() (int64, error) { return int64(len(r.byUUID)), nil }

type fakeHistoryRepo struct {
	entries   []models.SubscriptionStatusHistory
	appendErr error
}

func (r *fakeHistoryRepo) Append(entry *models.SubscriptionStatusHistory) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeHistoryRepo) ListBySubscription(subscriptionID uint) ([]models.SubscriptionStatusHistory, error) {
	return r.entries, nil
}

func newTestService(subs *fakeSubRepo, history *fakeHistoryRepo, at time.Time) *Service {
	svc := NewService(subs, history, keyedlock.New())
	svc.now = func() time.Time { return at }
	return svc
}

func testSub(status models.SubscriptionStatus) *models.Subscription {
	return &models.Subscription{
		ID:     1,
		UUID:   "sub-1",
		Status: status,
	}
}

func TestActivate_FromPending(t *testing.T) {
	subs := newFakeSubRepo(testSub(models.StatusPending))
	history := &fakeHistoryRepo{}
	svc := newTestService(subs, history, time.Now())

	result, err := svc.Activate("sub-1", "admin")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, CodeOK, result.Code)
	assert.Equal(t, models.StatusActive, result.Subscription.Status)

	require.Len(t, history.entries, 1)
	assert.Equal(t, models.StatusPending, history.entries[0].FromStatus)
	assert.Equal(t, models.StatusActive, history.entries[0].ToStatus)
	assert.Equal(t, "admin", history.entries[0].Actor)
}

func TestActivate_FromPaymentFailedResetsCounters(t *testing.T) {
	sub := testSub(models.StatusPaymentFailed)
	sub.FailedPaymentAttempts = 3
	sub.LastPaymentError = "card declined"
	subs := newFakeSubRepo(sub)
	svc := newTestService(subs, &fakeHistoryRepo{}, time.Now())

	result, err := svc.Activate("sub-1", "")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, 0, result.Subscription.FailedPaymentAttempts)
	assert.Empty(t, result.Subscription.LastPaymentError)
}

func TestActivate_AlreadyActiveIsNoop(t *testing.T) {
	subs := newFakeSubRepo(testSub(models.StatusActive))
	history := &fakeHistoryRepo{}
	svc := newTestService(subs, history, time.Now())

	result, err := svc.Activate("sub-1", "")
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, CodeNoop, result.Code)
	assert.Empty(t, history.entries, "a noop must not write history")
	assert.Zero(t, subs.updates, "a noop must not persist anything")
}

func TestPause_StampsPausedDate(t *testing.T) {
	now := time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)
	subs := newFakeSubRepo(testSub(models.StatusActive))
	svc := newTestService(subs, &fakeHistoryRepo{}, now)

	result, err := svc.Pause("sub-1", "vacation", "user")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, models.StatusPaused, result.Subscription.Status)
	require.NotNil(t, result.Subscription.PausedDate)
	assert.Equal(t, now, *result.Subscription.PausedDate)
}

func TestPause_FromCancelledRejected(t *testing.T) {
	subs := newFakeSubRepo(testSub(models.StatusCancelled))
	history := &fakeHistoryRepo{}
	svc := newTestService(subs, history, time.Now())

	result, err := svc.Pause("sub-1", "", "")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeInvalidTransition, result.Code)
	assert.Empty(t, history.entries)
	assert.Zero(t, subs.updates)
}

func TestResume_OnlyFromPaused(t *testing.T) {
	now := time.Date(2024, time.May, 20, 8, 0, 0, 0, time.UTC)
	sub := testSub(models.StatusPaused)
	paused := now.AddDate(0, 0, -3)
	sub.PausedDate = &paused
	subs := newFakeSubRepo(sub)
	svc := newTestService(subs, &fakeHistoryRepo{}, now)

	result, err := svc.Resume("sub-1", "user")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, models.StatusActive, result.Subscription.Status)
	assert.Nil(t, result.Subscription.PausedDate)
	require.NotNil(t, result.Subscription.ResumedDate)
	assert.Equal(t, now, *result.Subscription.ResumedDate)
}

func TestResume_FromSuspendedRejected(t *testing.T) {
	subs := newFakeSubRepo(testSub(models.StatusSuspended))
	svc := newTestService(subs, &fakeHistoryRepo{}, time.Now())

	result, err := svc.Resume("sub-1", "")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeInvalidTransition, result.Code)
}

func TestCancel_SetsReasonAndEndsAutoRenew(t *testing.T) {
	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	sub := testSub(models.StatusActive)
	sub.AutoRenew = true
	subs := newFakeSubRepo(sub)
	svc := newTestService(subs, &fakeHistoryRepo{}, now)

	result, err := svc.Cancel("sub-1", "too expensive", "user")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, models.StatusCancelled, result.Subscription.Status)
	assert.Equal(t, "too expensive", result.Subscription.CancellationReason)
	assert.False(t, result.Subscription.AutoRenew)
	require.NotNil(t, result.Subscription.CancelledDate)
	assert.Equal(t, now, *result.Subscription.CancelledDate)
	require.NotNil(t, result.Subscription.EndDate)
	assert.Equal(t, now, *result.Subscription.EndDate)
}

func TestCancel_KeepsExistingEndDate(t *testing.T) {
	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 1, 0)
	sub := testSub(models.StatusActive)
	sub.EndDate = &end
	subs := newFakeSubRepo(sub)
	svc := newTestService(subs, &fakeHistoryRepo{}, now)

	result, err := svc.Cancel("sub-1", "", "")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, end, *result.Subscription.EndDate)
}

func TestCancel_AllowedFromEveryNonTerminalStatus(t *testing.T) {
	for _, status := range []models.SubscriptionStatus{
		models.StatusPending,
		models.StatusTrialActive,
		models.StatusActive,
		models.StatusPaused,
		models.StatusSuspended,
		models.StatusPaymentFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			subs := newFakeSubRepo(testSub(status))
			svc := newTestService(subs, &fakeHistoryRepo{}, time.Now())

			result, err := svc.Cancel("sub-1", "closing", "")
			require.NoError(t, err)
			assert.True(t, result.OK, "cancel from %s should succeed", status)
		})
	}
}

func TestExpire_RejectedWhileEndDateInFuture(t *testing.T) {
	now := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 0, 10)
	sub := testSub(models.StatusActive)
	sub.EndDate = &end
	subs := newFakeSubRepo(sub)
	svc := newTestService(subs, &fakeHistoryRepo{}, now)

	result, err := svc.Expire("sub-1", "")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeNotYetEnded, result.Code)
	assert.Equal(t, models.StatusActive, sub.Status)
}

func TestExpire_AfterEndDate(t *testing.T) {
	now := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 0, -1)
	sub := testSub(models.StatusActive)
	sub.EndDate = &end
	subs := newFakeSubRepo(sub)
	history := &fakeHistoryRepo{}
	svc := newTestService(subs, history, now)

	result, err := svc.Expire("sub-1", "")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, models.StatusExpired, result.Subscription.Status)
	require.Len(t, history.entries, 1)
	assert.Equal(t, "system", history.entries[0].Actor)
}

func TestUnknownSubscriptionNotFound(t *testing.T) {
	svc := newTestService(newFakeSubRepo(), &fakeHistoryRepo{}, time.Now())

	result, err := svc.Activate("missing", "")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, CodeNotFound, result.Code)
	assert.Equal(t, "Subscription not found", result.Message)
}

func TestApply_StoreFailureRollsBackStatus(t *testing.T) {
	sub := testSub(models.StatusActive)
	subs := newFakeSubRepo(sub)
	subs.updateErr = errors.New("connection reset")
	svc := newTestService(subs, &fakeHistoryRepo{}, time.Now())

	_, err := svc.Pause("sub-1", "", "")
	require.Error(t, err)
	got, gerr := subs.GetByUUID("sub-1")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusActive, got.Status, "failed persist must leave the stored status unchanged")
}

func TestApply_WritesExactlyOneHistoryRowPerTransition(t *testing.T) {
	subs := newFakeSubRepo(testSub(models.StatusPending))
	history := &fakeHistoryRepo{}
	svc := newTestService(subs, history, time.Now())

	_, err := svc.Activate("sub-1", "")
	require.NoError(t, err)
	_, err = svc.Pause("sub-1", "", "")
	require.NoError(t, err)
	_, err = svc.Resume("sub-1", "")
	require.NoError(t, err)
	_, err = svc.Cancel("sub-1", "done", "")
	require.NoError(t, err)

	require.Len(t, history.entries, 4)
	assert.Equal(t, models.StatusCancelled, history.entries[3].ToStatus)
}
