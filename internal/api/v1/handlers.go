package apiv1

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/submeter/submeter/app/models"
	"github.com/submeter/submeter/app/repository"
	"github.com/submeter/submeter/internal/pkg/billing"
	"github.com/submeter/submeter/internal/pkg/quota"
)

// APIServer carries the wired services behind the JSON API.
type APIServer struct {
	store    *repository.Store
	resolver *quota.Resolver
	billing  *billing.Service
}

// NewAPIServer creates a new API server instance
func NewAPIServer(store *repository.Store, resolver *quota.Resolver, svc *billing.Service) *APIServer {
	return &APIServer{store: store, resolver: resolver, billing: svc}
}

// RegisterHandlers attaches all v1 routes to the group.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	r.Get("/ping", s.GetPing)
	r.Get("/plans", s.GetPlans)
	r.Get("/users/:user_id/balance", s.GetBalance)
	r.Get("/users/:user_id/refresh-moments", s.GetRefreshMoments)
	r.Post("/users/:user_id/resources/:codename/use", s.PostUseResource)
	r.Post("/users/:user_id/subscriptions", s.PostSubscribe)
	r.Get("/subscriptions/:uid", s.GetSubscription)
	r.Delete("/subscriptions/:uid", s.DeleteSubscription)
	r.Post("/users/:user_id/payments", s.PostPayment)
	r.Post("/payments/:uid/confirm", s.PostConfirmPayment)
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// GetPlans lists the enabled plans with their quotas.
func (s *APIServer) GetPlans(c *fiber.Ctx) error {
	plans, err := s.store.ListPlans()
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// GetBalance returns the per-resource remaining balance for a user. The
// optional `at` query parameter (RFC 3339) defaults to now.
func (s *APIServer) GetBalance(c *fiber.Ctx) error {
	userID, err := userIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	at := time.Now().UTC()
	if raw := c.Query("at"); raw != "" {
		at, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "at must be an RFC 3339 timestamp")
		}
	}

	amounts, err := s.resolver.RemainingAmount(c.Context(), userID, at)
	if errors.Is(err, quota.ErrNoActiveSubscription) || errors.Is(err, quota.ErrNoQuotaConfigured) {
		return c.JSON(fiber.Map{"at": at, "balance": map[uint]int64{}})
	}
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"at": at, "balance": amounts})
}

// GetRefreshMoments reports when each resource gets its next fresh quota
// chunk. `assume_prolong=true` includes moments past the subscription end.
func (s *APIServer) GetRefreshMoments(c *fiber.Ctx) error {
	userID, err := userIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	moments, err := s.resolver.RefreshMoments(userID, time.Now().UTC(), c.QueryBool("assume_prolong"))
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"refresh_moments": moments})
}

type useResourceRequest struct {
	Amount int64 `json:"amount" validate:"required,min=1"`
}

// PostUseResource records a consumption event against the user's balance.
func (s *APIServer) PostUseResource(c *fiber.Ctx) error {
	userID, err := userIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	resource, err := s.store.GetResource(c.Params("codename"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(c, "unknown resource")
	}
	if err != nil {
		return internalError(c, err)
	}

	var req useResourceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if err := models.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	remains, err := s.resolver.UseResource(c.Context(), userID, resource.ID, req.Amount)
	var exceeded *quota.LimitExceededError
	switch {
	case errors.As(err, &exceeded):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":     "limit_exceeded",
			"requested": exceeded.Requested,
			"available": exceeded.Available,
		})
	case errors.Is(err, quota.ErrNoActiveSubscription), errors.Is(err, quota.ErrNoQuotaConfigured):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "no_active_subscription"})
	case err != nil:
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"remains": remains})
}

type subscribeRequest struct {
	Plan      string `json:"plan" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"min=0"`
	AutoRenew bool   `json:"auto_renew"`
}

// PostSubscribe creates a subscription to the named plan.
func (s *APIServer) PostSubscribe(c *fiber.Ctx) error {
	userID, err := userIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if err := models.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	plan, err := s.store.GetPlan(req.Plan)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(c, "unknown plan")
	}
	if err != nil {
		return internalError(c, err)
	}

	sub, err := s.billing.Subscribe(userID, *plan, req.Quantity, req.AutoRenew, 0)
	switch {
	case errors.Is(err, billing.ErrPlanDisabled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "plan_disabled"})
	case errors.Is(err, billing.ErrRecurringConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "recurring_subscription_exists"})
	case err != nil:
		return internalError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// GetSubscription loads one subscription by UID.
func (s *APIServer) GetSubscription(c *fiber.Ctx) error {
	uid, err := uuid.Parse(c.Params("uid"))
	if err != nil {
		return badRequest(c, "uid must be a UUID")
	}

	sub, err := s.store.GetSubscription(uid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(c, "unknown subscription")
	}
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(sub)
}

// DeleteSubscription stops a subscription now. Already-expired subscriptions
// are left untouched.
func (s *APIServer) DeleteSubscription(c *fiber.Ctx) error {
	uid, err := uuid.Parse(c.Params("uid"))
	if err != nil {
		return badRequest(c, "uid must be a UUID")
	}

	sub, err := s.store.GetSubscription(uid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(c, "unknown subscription")
	}
	if err != nil {
		return internalError(c, err)
	}

	now := time.Now().UTC()
	if sub.End.After(now) {
		sub.Stop(now)
		if err := s.store.SaveSubscription(sub); err != nil {
			return internalError(c, err)
		}
	}
	return c.JSON(sub)
}

type paymentRequest struct {
	Plan     string `json:"plan" validate:"required"`
	Quantity int64  `json:"quantity" validate:"min=0"`
}

// PostPayment starts an interactive payment flow and returns the redirect
// target of the payment page.
func (s *APIServer) PostPayment(c *fiber.Ctx) error {
	userID, err := userIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req paymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if err := models.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	plan, err := s.store.GetPlan(req.Plan)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(c, "unknown plan")
	}
	if err != nil {
		return internalError(c, err)
	}

	attempt, redirect, err := s.billing.ChargeInteractively(c.Context(), userID, *plan, req.Quantity)
	if err != nil {
		return internalError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment":      attempt,
		"redirect_url": redirect,
	})
}

// PostConfirmPayment completes a pending payment and reconciles it into
// subscription state. In production this is hit by the provider webhook.
func (s *APIServer) PostConfirmPayment(c *fiber.Ctx) error {
	uid, err := uuid.Parse(c.Params("uid"))
	if err != nil {
		return badRequest(c, "uid must be a UUID")
	}

	p, err := s.store.GetPayment(uid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(c, "unknown payment")
	}
	if err != nil {
		return internalError(c, err)
	}
	if p.Status == models.PaymentStatusCompleted {
		return c.JSON(fiber.Map{"payment": p})
	}
	if p.Status != models.PaymentStatusPending {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "payment_not_pending", "status": p.Status})
	}

	sub, err := s.billing.CompletePayment(p)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"payment": p, "subscription": sub})
}

func userIDParam(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("user_id")
	if err != nil || id < 1 {
		return 0, errors.New("user_id must be a positive integer")
	}
	return uint(id), nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": msg})
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": msg})
}

func internalError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal", "message": err.Error()})
}
