package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanBeforeSaveDefaultsPeriods(t *testing.T) {
	p := Plan{Codename: "free", Name: "Free"}
	require.NoError(t, p.BeforeSave(nil))

	assert.Equal(t, Duration(Forever), p.ChargePeriod)
	assert.Equal(t, Duration(Forever), p.MaxDuration)
	assert.False(t, p.IsRecurring())
}

func TestPlanIsRecurring(t *testing.T) {
	monthly := Plan{ChargePeriod: 30 * 24 * time.Hour}
	assert.True(t, monthly.IsRecurring())

	oneTime := Plan{ChargePeriod: Forever}
	assert.False(t, oneTime.IsRecurring())
}

func TestPlanIsFree(t *testing.T) {
	assert.True(t, (&Plan{}).IsFree())
	assert.True(t, (&Plan{ChargeAmount: decimal.NewNullDecimal(decimal.Zero)}).IsFree())
	assert.False(t, (&Plan{ChargeAmount: decimal.NewNullDecimal(decimal.NewFromInt(5))}).IsFree())
}

func TestSubscriptionBeforeCreateDefaults(t *testing.T) {
	sub := Subscription{
		UserID: 7,
		Plan:   Plan{ChargePeriod: 30 * 24 * time.Hour, MaxDuration: Forever},
	}
	require.NoError(t, sub.BeforeCreate(nil))

	assert.NotEqual(t, uuid.Nil, sub.UID)
	assert.Equal(t, int64(1), sub.Quantity)
	assert.False(t, sub.Start.IsZero())
	assert.Equal(t, sub.Start.Add(30*24*time.Hour), sub.End)
}

func TestSubscriptionBeforeCreateCapsEndAtMaxDuration(t *testing.T) {
	sub := Subscription{
		UserID: 7,
		Plan:   Plan{ChargePeriod: 30 * 24 * time.Hour, MaxDuration: 10 * 24 * time.Hour},
	}
	require.NoError(t, sub.BeforeCreate(nil))
	assert.Equal(t, sub.Start.Add(10*24*time.Hour), sub.End)
}

func TestSubscriptionActiveAtIsHalfOpen(t *testing.T) {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := Subscription{Start: start, End: start.Add(10 * 24 * time.Hour)}

	assert.True(t, sub.ActiveAt(start))
	assert.True(t, sub.ActiveAt(start.Add(5*24*time.Hour)))
	assert.False(t, sub.ActiveAt(sub.End), "the end instant is outside the subscription")
	assert.False(t, sub.ActiveAt(start.Add(-time.Second)))
}

func TestSubscriptionStop(t *testing.T) {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := Subscription{Start: start, End: start.Add(30 * 24 * time.Hour), AutoRenew: true}

	now := start.Add(12 * 24 * time.Hour)
	sub.Stop(now)
	assert.Equal(t, now, sub.End)
	assert.False(t, sub.AutoRenew)
	assert.False(t, sub.ActiveAt(now))
}

func TestQuotaBeforeSaveDefaultsBurnDuration(t *testing.T) {
	q := Quota{ResourceID: 1, Limit: 100, RechargePeriod: 5 * 24 * time.Hour}
	require.NoError(t, q.BeforeSave(nil))
	assert.Equal(t, q.RechargePeriod, q.BurnDuration)
}

func TestPaymentBeforeSaveEnforcesPaidWindowPairing(t *testing.T) {
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	p := SubscriptionPayment{UserID: 7, PlanID: 1, PaidSince: &at}
	assert.Error(t, p.BeforeSave(nil), "paid_since without paid_until is rejected")

	later := at.Add(30 * 24 * time.Hour)
	p.PaidUntil = &later
	require.NoError(t, p.BeforeSave(nil))
	assert.True(t, p.IsPaidWindowSet())
	assert.NotEqual(t, uuid.Nil, p.UID)
	assert.Equal(t, int64(1), p.Quantity)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(&Usage{UserID: 7, ResourceID: 1, Amount: 1}))
	assert.Error(t, Validate(&Usage{UserID: 7, ResourceID: 1, Amount: 0}))

	assert.NoError(t, Validate(&Subscription{Quantity: 1}))
	assert.Error(t, Validate(&Subscription{Quantity: 0}))
}
