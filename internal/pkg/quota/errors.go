package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveSubscription means the user had no subscription overlapping
	// the requested instant (directly or through the backward overlap chain).
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrNoQuotaConfigured means subscriptions were found but none of their
	// plans grants any quota chunk in the relevant window.
	ErrNoQuotaConfigured = errors.New("no quota configured")

	// ErrQuotaLimitExceeded is the business-rule error for consuming more
	// than the remaining balance.
	ErrQuotaLimitExceeded = errors.New("quota limit exceeded")
)

// LimitExceededError carries the details of a rejected consumption. It
// unwraps to ErrQuotaLimitExceeded so callers can branch with errors.Is.
type LimitExceededError struct {
	ResourceID uint
	Requested  int64
	Available  int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("quota limit exceeded: resource %d, requested %d, available %d",
		e.ResourceID, e.Requested, e.Available)
}

func (e *LimitExceededError) Unwrap() error {
	return ErrQuotaLimitExceeded
}
