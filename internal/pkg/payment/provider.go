// Package payment defines the payment provider contract and the startup-time
// provider registry. The core depends only on this contract, never on a
// specific provider's wire protocol.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/submeter/submeter/app/models"
)

// ErrProviderNotFound means no provider is registered under the requested
// codename.
var ErrProviderNotFound = errors.New("payment provider not found")

// Error is a recoverable provider failure. DebugInfo travels with the failed
// charge attempt record so the scheduler's bucket logic blocks retries inside
// the same bucket.
type Error struct {
	Message     string
	UserMessage string
	DebugInfo   map[string]any
}

func (e *Error) Error() string {
	if len(e.DebugInfo) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s %v", e.Message, e.DebugInfo)
}

// NewError builds a provider error with attached debug context.
func NewError(message string, debugInfo map[string]any) *Error {
	return &Error{Message: message, DebugInfo: debugInfo}
}

// ChargeRequest carries everything a provider needs to attempt a charge.
// Reference is the latest completed payment of the subscription, used by
// providers that charge stored credentials.
type ChargeRequest struct {
	UserID       uint
	Plan         models.Plan
	Subscription *models.Subscription
	Quantity     int64
	Amount       decimal.NullDecimal
	Since        time.Time
	Until        time.Time
	Reference    *models.SubscriptionPayment
}

// Provider is one external payment method. ChargeAutomatically bills stored
// credentials without user interaction; ChargeInteractively starts a payment
// flow and returns the redirect target the user must visit. Both return the
// attempt record to persist; the attempt may still be pending until the
// provider confirms it.
type Provider interface {
	Codename() string
	ChargeAutomatically(ctx context.Context, req ChargeRequest) (*models.SubscriptionPayment, error)
	ChargeInteractively(ctx context.Context, req ChargeRequest) (*models.SubscriptionPayment, string, error)
}

// Registry maps provider codenames to implementations. It is built once at
// process start and passed explicitly; there is no global lookup state, so
// test harnesses simply construct their own.
type Registry struct {
	order     []string
	providers map[string]Provider
}

// NewRegistry builds a registry from the given providers. Duplicate
// codenames are a wiring bug and rejected outright.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		codename := p.Codename()
		if _, dup := r.providers[codename]; dup {
			return nil, fmt.Errorf("duplicate payment provider codename %q", codename)
		}
		r.providers[codename] = p
		r.order = append(r.order, codename)
	}
	return r, nil
}

// Get resolves a provider by codename.
func (r *Registry) Get(codename string) (Provider, error) {
	p, ok := r.providers[codename]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, codename)
	}
	return p, nil
}

// Default returns the first registered provider.
func (r *Registry) Default() (Provider, error) {
	if len(r.order) == 0 {
		return nil, fmt.Errorf("%w: no providers registered", ErrProviderNotFound)
	}
	return r.providers[r.order[0]], nil
}
