// Package repository provides the GORM-backed persistent store behind the
// quota resolver, the billing lifecycle service and the charge scheduler.
package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/submeter/submeter/app/models"
	"github.com/submeter/submeter/internal/pkg/billing"
)

// Store bundles repository-style queries over subscriptions, usage events
// and payments. It satisfies quota.Store, billing.Store and
// scheduler.Store.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store backed by a GORM DB handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn against a transactional view of the store. Everything
// fn writes commits or rolls back as one unit.
func (s *Store) Transaction(fn func(billing.Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// SubscriptionsStartedBefore returns the user's subscriptions with
// Start <= at, newest end first, with plan and quotas loaded. This ordering
// is what the involved-subscription backward walk expects.
func (s *Store) SubscriptionsStartedBefore(userID uint, at time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.
		Preload("Plan.Quotas").
		Where("user_id = ? AND `start` <= ?", userID, at).
		Order("`end` DESC").
		Find(&subs).Error
	return subs, err
}

// ActiveSubscriptions returns subscriptions covering `at`, including ones
// ending exactly there (the closed-endpoint overlap variant).
func (s *Store) ActiveSubscriptions(userID uint, at time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.
		Preload("Plan.Quotas").
		Where("user_id = ? AND `start` <= ? AND `end` >= ?", userID, at, at).
		Find(&subs).Error
	return subs, err
}

// ExpiringSubscriptions returns auto-renewing subscriptions of recurring
// plans whose end falls within [since, until].
func (s *Store) ExpiringSubscriptions(since, until time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.
		Preload("Plan.Quotas").
		Joins("JOIN plans ON plans.id = subscriptions.plan_id").
		Where("subscriptions.auto_renew = ?", true).
		Where("plans.charge_period <> ?", int64(models.Forever)).
		Where("subscriptions.`end` >= ? AND subscriptions.`end` <= ?", since, until).
		Find(&subs).Error
	return subs, err
}

func (s *Store) GetSubscription(uid uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.Preload("Plan.Quotas").Where("uid = ?", uid).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) CreateSubscription(sub *models.Subscription) error {
	return s.db.Create(sub).Error
}

func (s *Store) SaveSubscription(sub *models.Subscription) error {
	return s.db.Save(sub).Error
}

// UsagesInWindow returns usage events ordered by time. The lower bound is
// exclusive when sinceExclusive is set (replay on top of a cache snapshot);
// the upper bound is always inclusive.
func (s *Store) UsagesInWindow(userID uint, since time.Time, sinceExclusive bool, until time.Time) ([]models.Usage, error) {
	sinceOp := "used_at >= ?"
	if sinceExclusive {
		sinceOp = "used_at > ?"
	}
	var usages []models.Usage
	err := s.db.
		Where("user_id = ?", userID).
		Where(sinceOp, since).
		Where("used_at <= ?", until).
		Order("used_at ASC, id ASC").
		Find(&usages).Error
	return usages, err
}

func (s *Store) CreateUsage(u *models.Usage) error {
	return s.db.Create(u).Error
}

// LatestCompletedPayment returns the newest completed payment of the
// subscription, or nil if it was never successfully charged.
func (s *Store) LatestCompletedPayment(subscriptionUID uuid.UUID) (*models.SubscriptionPayment, error) {
	var p models.SubscriptionPayment
	err := s.db.
		Where("subscription_uid = ? AND status = ?", subscriptionUID, models.PaymentStatusCompleted).
		Order("created_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PaymentsCreatedIn returns attempts of any status created within
// [since, until).
func (s *Store) PaymentsCreatedIn(subscriptionUID uuid.UUID, since, until time.Time) ([]models.SubscriptionPayment, error) {
	var payments []models.SubscriptionPayment
	err := s.db.
		Where("subscription_uid = ?", subscriptionUID).
		Where("created_at >= ? AND created_at < ?", since, until).
		Find(&payments).Error
	return payments, err
}

// PendingPaymentsCreatedIn returns pending attempts created within
// [since, until).
func (s *Store) PendingPaymentsCreatedIn(subscriptionUID uuid.UUID, since, until time.Time) ([]models.SubscriptionPayment, error) {
	var payments []models.SubscriptionPayment
	err := s.db.
		Where("subscription_uid = ? AND status = ?", subscriptionUID, models.PaymentStatusPending).
		Where("created_at >= ? AND created_at < ?", since, until).
		Find(&payments).Error
	return payments, err
}

// PendingPaymentsOlderThan returns subscription-linked payments pending
// since before the cutoff. Unlinked payments are abandoned carts, not stuck.
func (s *Store) PendingPaymentsOlderThan(cutoff time.Time) ([]models.SubscriptionPayment, error) {
	var payments []models.SubscriptionPayment
	err := s.db.
		Where("status = ? AND subscription_uid IS NOT NULL", models.PaymentStatusPending).
		Where("created_at <= ?", cutoff).
		Find(&payments).Error
	return payments, err
}

// GetPayment loads one payment by UID.
func (s *Store) GetPayment(uid uuid.UUID) (*models.SubscriptionPayment, error) {
	var p models.SubscriptionPayment
	err := s.db.Preload("Plan").Where("uid = ?", uid).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SavePayment(p *models.SubscriptionPayment) error {
	return s.db.Save(p).Error
}

// ListPlans returns all enabled plans with their quotas.
func (s *Store) ListPlans() ([]models.Plan, error) {
	var plans []models.Plan
	err := s.db.Preload("Quotas.Resource").Where("is_enabled = ?", true).Find(&plans).Error
	return plans, err
}

// GetPlan loads one plan by codename.
func (s *Store) GetPlan(codename string) (*models.Plan, error) {
	var plan models.Plan
	err := s.db.Preload("Quotas.Resource").Where("codename = ?", codename).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetResource loads one resource by codename.
func (s *Store) GetResource(codename string) (*models.Resource, error) {
	var resource models.Resource
	err := s.db.Where("codename = ?", codename).First(&resource).Error
	if err != nil {
		return nil, err
	}
	return &resource, nil
}
