package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/submeter/submeter/app/models"
	"github.com/submeter/submeter/internal/pkg/payment"
)

var (
	// ErrPlanDisabled rejects subscribing to a plan that is switched off.
	ErrPlanDisabled = errors.New("plan is disabled")

	// ErrRecurringConflict rejects a second concurrent recurring
	// subscription for the same user.
	ErrRecurringConflict = errors.New("recurring subscription already exists")
)

// Store is the slice of the persistent store the lifecycle service needs.
// Transaction runs fn against a transactional view of the same store; the
// payment write and the subscription extension always commit as one unit.
type Store interface {
	GetSubscription(uid uuid.UUID) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	ActiveSubscriptions(userID uint, at time.Time) ([]models.Subscription, error)
	LatestCompletedPayment(subscriptionUID uuid.UUID) (*models.SubscriptionPayment, error)
	SavePayment(p *models.SubscriptionPayment) error
	Transaction(fn func(Store) error) error
}

// Service drives subscription writes: subscribing, charging and payment
// reconciliation.
type Service struct {
	store     Store
	providers *payment.Registry
}

// NewService wires the lifecycle service.
func NewService(store Store, providers *payment.Registry) *Service {
	return &Service{store: store, providers: providers}
}

// Subscribe creates a subscription for the plan after running the
// subscription validators: the plan must be enabled, and a user can hold at
// most one active recurring subscription at a time.
func (s *Service) Subscribe(userID uint, plan models.Plan, quantity int64, autoRenew bool, initialChargeOffset time.Duration) (*models.Subscription, error) {
	if !plan.IsEnabled {
		return nil, fmt.Errorf("%w: %s", ErrPlanDisabled, plan.Codename)
	}
	if err := models.Validate(&plan); err != nil {
		return nil, fmt.Errorf("plan %s failed validation: %w", plan.Codename, err)
	}

	if plan.IsRecurring() {
		active, err := s.store.ActiveSubscriptions(userID, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		for _, sub := range active {
			if sub.Plan.IsRecurring() {
				return nil, fmt.Errorf("%w: subscription %s", ErrRecurringConflict, sub.UID)
			}
		}
	}

	sub := &models.Subscription{
		UserID:              userID,
		PlanID:              plan.ID,
		Plan:                plan,
		AutoRenew:           autoRenew && plan.IsRecurring(),
		Quantity:            quantity,
		InitialChargeOffset: initialChargeOffset,
	}
	if err := s.store.CreateSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// CompletePayment marks the attempt completed and reconciles it into
// subscription state, atomically:
//
//   - linked to a subscription: the subscription end becomes
//     max(current end, paid_until) — extension only, never shrink. A payment
//     without an explicit paid window prolongs the subscription and adopts
//     the resulting window.
//   - unlinked: a new subscription is created over the paid window.
func (s *Service) CompletePayment(p *models.SubscriptionPayment) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.store.Transaction(func(tx Store) error {
		p.Status = models.PaymentStatusCompleted

		if p.SubscriptionUID == nil {
			sub := &models.Subscription{
				UserID:   p.UserID,
				PlanID:   p.PlanID,
				Plan:     p.Plan,
				Quantity: p.Quantity,
			}
			if p.IsPaidWindowSet() {
				sub.Start = *p.PaidSince
				sub.End = *p.PaidUntil
			}
			if err := tx.CreateSubscription(sub); err != nil {
				return err
			}
			uid := sub.UID
			p.SubscriptionUID = &uid
			since, until := sub.Start, sub.End
			p.PaidSince, p.PaidUntil = &since, &until
			result = sub
			return tx.SavePayment(p)
		}

		sub, err := tx.GetSubscription(*p.SubscriptionUID)
		if err != nil {
			return err
		}

		if p.PaidSince == nil {
			since := sub.End
			p.PaidSince = &since
		}

		if p.PaidUntil != nil {
			if !p.PaidUntil.After(sub.End) {
				log.Warnf("[Billing] Payment %s paid_until %s does not exceed subscription end %s, no extension",
					p.UID, p.PaidUntil.Format(time.RFC3339), sub.End.Format(time.RFC3339))
			} else {
				sub.End = *p.PaidUntil
			}
		} else {
			end, err := Prolong(sub)
			if err != nil {
				return err
			}
			sub.End = end
			until := end
			p.PaidUntil = &until
		}

		if err := tx.SaveSubscription(sub); err != nil {
			return err
		}
		result = sub
		return tx.SavePayment(p)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ChargeOffline bills the subscription without user interaction, using the
// latest completed payment as the provider credential reference. The
// returned attempt has been persisted; if the provider already confirmed it,
// it has also been reconciled into the subscription.
func (s *Service) ChargeOffline(ctx context.Context, sub *models.Subscription) (*models.SubscriptionPayment, error) {
	reference, err := s.store.LatestCompletedPayment(sub.UID)
	if err != nil {
		return nil, err
	}
	if reference == nil {
		return nil, payment.NewError("no previous successful payment to take credentials from", map[string]any{
			"subscription_uid": sub.UID.String(),
		})
	}

	provider, err := s.providers.Get(reference.ProviderCodename)
	if err != nil {
		return nil, payment.NewError(fmt.Sprintf("could not resolve provider %q", reference.ProviderCodename), map[string]any{
			"subscription_uid": sub.UID.String(),
		})
	}

	attempt, err := provider.ChargeAutomatically(ctx, payment.ChargeRequest{
		UserID:       sub.UserID,
		Plan:         sub.Plan,
		Subscription: sub,
		Quantity:     sub.Quantity,
		Amount:       sub.Plan.ChargeAmount,
		Reference:    reference,
	})
	if err != nil {
		return nil, err
	}

	if attempt.Status == models.PaymentStatusCompleted {
		if _, cerr := s.CompletePayment(attempt); cerr != nil {
			// The provider already moved money; the attempt must stay
			// visible even when reconciliation rolled back. A half-set paid
			// window from the aborted transaction is dropped first.
			if (attempt.PaidSince == nil) != (attempt.PaidUntil == nil) {
				attempt.PaidSince, attempt.PaidUntil = nil, nil
			}
			if err := s.store.SavePayment(attempt); err != nil {
				return nil, fmt.Errorf("recording attempt %s after failed reconciliation: %v: %w", attempt.UID, err, cerr)
			}
			return attempt, cerr
		}
		return attempt, nil
	}
	if err := s.store.SavePayment(attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// ChargeInteractively starts a user-facing payment flow for the plan and
// returns the pending attempt plus the redirect target.
func (s *Service) ChargeInteractively(ctx context.Context, userID uint, plan models.Plan, quantity int64) (*models.SubscriptionPayment, string, error) {
	provider, err := s.providers.Default()
	if err != nil {
		return nil, "", err
	}

	attempt, redirect, err := provider.ChargeInteractively(ctx, payment.ChargeRequest{
		UserID:   userID,
		Plan:     plan,
		Quantity: quantity,
		Amount:   plan.ChargeAmount,
	})
	if err != nil {
		return nil, "", err
	}
	if err := s.store.SavePayment(attempt); err != nil {
		return nil, "", err
	}
	return attempt, redirect, nil
}
