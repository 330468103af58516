package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/submeter/submeter/app/models"
	"github.com/submeter/submeter/internal/pkg/payment"
)

type fakeStore struct {
	subs     map[uuid.UUID]*models.Subscription
	payments []*models.SubscriptionPayment
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: make(map[uuid.UUID]*models.Subscription)}
}

func (f *fakeStore) GetSubscription(uid uuid.UUID) (*models.Subscription, error) {
	sub := *f.subs[uid]
	return &sub, nil
}

func (f *fakeStore) CreateSubscription(sub *models.Subscription) error {
	if err := sub.BeforeCreate(nil); err != nil {
		return err
	}
	stored := *sub
	f.subs[sub.UID] = &stored
	return nil
}

func (f *fakeStore) SaveSubscription(sub *models.Subscription) error {
	stored := *sub
	f.subs[sub.UID] = &stored
	return nil
}

func (f *fakeStore) ActiveSubscriptions(userID uint, at time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.UserID == userID && !sub.Start.After(at) && !sub.End.Before(at) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestCompletedPayment(subscriptionUID uuid.UUID) (*models.SubscriptionPayment, error) {
	var latest *models.SubscriptionPayment
	for _, p := range f.payments {
		if p.SubscriptionUID == nil || *p.SubscriptionUID != subscriptionUID || p.Status != models.PaymentStatusCompleted {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (f *fakeStore) SavePayment(p *models.SubscriptionPayment) error {
	if err := p.BeforeSave(nil); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	for i, existing := range f.payments {
		if existing.UID == p.UID {
			clone := *p
			f.payments[i] = &clone
			return nil
		}
	}
	clone := *p
	f.payments = append(f.payments, &clone)
	return nil
}

func (f *fakeStore) Transaction(fn func(Store) error) error {
	return fn(f)
}

func paidPlan() models.Plan {
	return models.Plan{
		ID:             1,
		Codename:       "pro",
		Name:           "Pro",
		ChargeAmount:   decimal.NewNullDecimal(decimal.NewFromInt(29)),
		ChargeCurrency: "USD",
		ChargePeriod:   30 * 24 * time.Hour,
		MaxDuration:    models.Forever,
		IsEnabled:      true,
	}
}

func mustRegistry(t *testing.T, providers ...payment.Provider) *payment.Registry {
	t.Helper()
	r, err := payment.NewRegistry(providers...)
	require.NoError(t, err)
	return r
}

func TestSubscribeCreatesSubscription(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	sub, err := svc.Subscribe(7, paidPlan(), 2, true, 0)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, sub.UID)
	assert.Equal(t, int64(2), sub.Quantity)
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, sub.Start.Add(30*24*time.Hour), sub.End)
	assert.Contains(t, store.subs, sub.UID)
}

func TestSubscribeRejectsDisabledPlan(t *testing.T) {
	plan := paidPlan()
	plan.IsEnabled = false
	svc := NewService(newFakeStore(), mustRegistry(t, &payment.Dummy{}))

	_, err := svc.Subscribe(7, plan, 1, false, 0)
	assert.ErrorIs(t, err, ErrPlanDisabled)
}

func TestSubscribeRejectsSecondRecurring(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	_, err := svc.Subscribe(7, paidPlan(), 1, true, 0)
	require.NoError(t, err)

	_, err = svc.Subscribe(7, paidPlan(), 1, true, 0)
	assert.ErrorIs(t, err, ErrRecurringConflict)

	// A different user is unaffected.
	_, err = svc.Subscribe(8, paidPlan(), 1, true, 0)
	assert.NoError(t, err)
}

func TestSubscribeAllowsParallelOneTimePlans(t *testing.T) {
	plan := paidPlan()
	plan.ChargePeriod = models.Forever
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	_, err := svc.Subscribe(7, plan, 1, false, 0)
	require.NoError(t, err)
	_, err = svc.Subscribe(7, plan, 1, false, 0)
	assert.NoError(t, err, "one-time plans may stack")
}

func TestCompletePaymentCreatesSubscriptionWhenUnlinked(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	since := day(0)
	until := day(30)
	p := &models.SubscriptionPayment{
		UserID:           7,
		PlanID:           1,
		Plan:             paidPlan(),
		Quantity:         1,
		ProviderCodename: "dummy",
		Status:           models.PaymentStatusPending,
		PaidSince:        &since,
		PaidUntil:        &until,
	}

	sub, err := svc.CompletePayment(p)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Equal(t, since, sub.Start)
	assert.Equal(t, until, sub.End)
	require.NotNil(t, p.SubscriptionUID)
	assert.Equal(t, sub.UID, *p.SubscriptionUID)
}

func TestCompletePaymentExtendsLinkedSubscription(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	sub, err := svc.Subscribe(7, paidPlan(), 1, true, 0)
	require.NoError(t, err)

	until := sub.End.Add(30 * 24 * time.Hour)
	since := sub.End
	uid := sub.UID
	p := &models.SubscriptionPayment{
		UserID:          7,
		PlanID:          1,
		SubscriptionUID: &uid,
		Status:          models.PaymentStatusPending,
		PaidSince:       &since,
		PaidUntil:       &until,
	}

	got, err := svc.CompletePayment(p)
	require.NoError(t, err)
	assert.Equal(t, until, got.End)
	assert.Equal(t, until, store.subs[uid].End, "extension must be persisted")
}

func TestCompletePaymentNeverShrinks(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	sub, err := svc.Subscribe(7, paidPlan(), 1, true, 0)
	require.NoError(t, err)

	until := sub.End.Add(-24 * time.Hour)
	since := until.Add(-30 * 24 * time.Hour)
	uid := sub.UID
	p := &models.SubscriptionPayment{
		UserID:          7,
		PlanID:          1,
		SubscriptionUID: &uid,
		Status:          models.PaymentStatusPending,
		PaidSince:       &since,
		PaidUntil:       &until,
	}

	got, err := svc.CompletePayment(p)
	require.NoError(t, err)
	assert.Equal(t, sub.End, got.End, "an already-covered window must not move the end backwards")
}

func TestCompletePaymentWithoutWindowProlongs(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	sub, err := svc.Subscribe(7, paidPlan(), 1, true, 0)
	require.NoError(t, err)
	oldEnd := sub.End

	uid := sub.UID
	p := &models.SubscriptionPayment{
		UserID:          7,
		PlanID:          1,
		SubscriptionUID: &uid,
		Status:          models.PaymentStatusPending,
	}

	got, err := svc.CompletePayment(p)
	require.NoError(t, err)
	assert.Equal(t, oldEnd.Add(30*24*time.Hour), got.End)
	require.True(t, p.IsPaidWindowSet(), "completion adopts the computed window")
	assert.Equal(t, oldEnd, *p.PaidSince)
	assert.Equal(t, got.End, *p.PaidUntil)
}

func TestChargeOfflineRequiresReference(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	sub, err := svc.Subscribe(7, paidPlan(), 1, true, 0)
	require.NoError(t, err)

	_, err = svc.ChargeOffline(context.Background(), sub)
	var perr *payment.Error
	assert.ErrorAs(t, err, &perr, "no previous successful payment means no stored credentials")
}

func TestChargeOfflineChargesAndReconciles(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	sub, err := svc.Subscribe(7, paidPlan(), 1, true, 0)
	require.NoError(t, err)
	oldEnd := sub.End

	// Seed the initial successful payment that carries the credentials.
	uid := sub.UID
	seed := &models.SubscriptionPayment{
		UserID:           7,
		PlanID:           1,
		SubscriptionUID:  &uid,
		ProviderCodename: "dummy",
		Status:           models.PaymentStatusCompleted,
	}
	require.NoError(t, store.SavePayment(seed))

	attempt, err := svc.ChargeOffline(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, attempt.Status)
	assert.Equal(t, "dummy", attempt.ProviderCodename)

	stored := store.subs[sub.UID]
	assert.Equal(t, oldEnd.Add(30*24*time.Hour), stored.End, "a confirmed charge extends the subscription")
}

func TestChargeOfflineProviderFailure(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{Fail: true}))

	sub, err := svc.Subscribe(7, paidPlan(), 1, true, 0)
	require.NoError(t, err)

	uid := sub.UID
	seed := &models.SubscriptionPayment{
		UserID:           7,
		PlanID:           1,
		SubscriptionUID:  &uid,
		ProviderCodename: "dummy",
		Status:           models.PaymentStatusCompleted,
	}
	require.NoError(t, store.SavePayment(seed))

	_, err = svc.ChargeOffline(context.Background(), sub)
	var perr *payment.Error
	require.ErrorAs(t, err, &perr)
	assert.NotEmpty(t, perr.DebugInfo)
	assert.Len(t, store.payments, 1, "a failed charge stores no attempt here; the scheduler records it")
}

func TestChargeOfflinePersistsAttemptWhenReconciliationFails(t *testing.T) {
	// The provider confirms the charge, but the subscription sits at its
	// lifetime cap so the extension is rejected. The money moved: the
	// completed attempt must survive the rolled-back reconciliation.
	plan := paidPlan()
	plan.MaxDuration = 30 * 24 * time.Hour
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	sub, err := svc.Subscribe(7, plan, 1, true, 0)
	require.NoError(t, err)

	uid := sub.UID
	seed := &models.SubscriptionPayment{
		UserID:           7,
		PlanID:           1,
		SubscriptionUID:  &uid,
		ProviderCodename: "dummy",
		Status:           models.PaymentStatusCompleted,
	}
	require.NoError(t, store.SavePayment(seed))

	attempt, err := svc.ChargeOffline(context.Background(), sub)
	require.ErrorIs(t, err, ErrProlongationImpossible)
	require.NotNil(t, attempt, "the attempt is returned alongside the reconciliation error")

	require.Len(t, store.payments, 2)
	stored := store.payments[1]
	assert.Equal(t, models.PaymentStatusCompleted, stored.Status)
	assert.Nil(t, stored.PaidSince, "no paid window without a matching extension")
	assert.Nil(t, stored.PaidUntil)
	assert.Equal(t, sub.End, store.subs[uid].End, "the subscription end stays at the cap")
}

func TestChargeInteractivelyReturnsRedirect(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, mustRegistry(t, &payment.Dummy{}))

	attempt, redirect, err := svc.ChargeInteractively(context.Background(), 7, paidPlan(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, attempt.Status)
	assert.Contains(t, redirect, attempt.UID.String())
	assert.Len(t, store.payments, 1)
}
