package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/submeter/submeter/app/models"
)

// Dummy is a provider that approves every charge. It backs free plans,
// local development and tests.
type Dummy struct {
	// Fail, when set, makes automatic charges fail with a provider error.
	Fail bool
}

func (d *Dummy) Codename() string { return "dummy" }

func (d *Dummy) ChargeAutomatically(ctx context.Context, req ChargeRequest) (*models.SubscriptionPayment, error) {
	if d.Fail {
		return nil, NewError("dummy provider configured to fail", map[string]any{
			"provider": d.Codename(),
			"user_id":  req.UserID,
		})
	}
	return d.payment(req, models.PaymentStatusCompleted), nil
}

func (d *Dummy) ChargeInteractively(ctx context.Context, req ChargeRequest) (*models.SubscriptionPayment, string, error) {
	p := d.payment(req, models.PaymentStatusPending)
	redirect := fmt.Sprintf("/payments/%s/confirm", p.UID)
	return p, redirect, nil
}

func (d *Dummy) payment(req ChargeRequest, status string) *models.SubscriptionPayment {
	txID := uuid.NewString()
	p := &models.SubscriptionPayment{
		UID:                   uuid.New(),
		UserID:                req.UserID,
		PlanID:                req.Plan.ID,
		Quantity:              req.Quantity,
		ProviderCodename:      d.Codename(),
		ProviderTransactionID: &txID,
		Status:                status,
		Amount:                req.Amount,
		Currency:              req.Plan.ChargeCurrency,
	}
	if req.Subscription != nil {
		uid := req.Subscription.UID
		p.SubscriptionUID = &uid
	}
	if !req.Since.IsZero() && !req.Until.IsZero() {
		since, until := req.Since, req.Until
		p.PaidSince = &since
		p.PaidUntil = &until
	}
	return p
}
