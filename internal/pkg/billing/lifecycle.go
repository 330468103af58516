// Package billing covers the subscription lifecycle: charge-date
// enumeration, prolongation and reconciling confirmed payments into
// subscription extensions.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/submeter/submeter/app/models"
)

// ErrProlongationImpossible means the subscription's end already reached the
// plan's hard lifetime cap (or a one-time plan has no further charge dates).
// Callers are expected to disable auto-renewal in response.
var ErrProlongationImpossible = errors.New("prolongation impossible")

// ChargeDates is an explicit cursor over a subscription's due dates:
//
//	start + initial_charge_offset + i*charge_period, i = 0, 1, 2, ...
//
// filtered to >= since and bounded by until (zero until means unbounded).
// For one-time plans (charge period Forever) the cursor terminates right
// after the first date, so it is never an unbounded enumeration there.
type ChargeDates struct {
	sub   *models.Subscription
	since time.Time
	until time.Time
	i     int64
	done  bool
}

// NewChargeDates creates a cursor. A zero since starts at the subscription
// start; a zero until leaves the sequence unbounded.
func NewChargeDates(sub *models.Subscription, since, until time.Time) *ChargeDates {
	if since.IsZero() {
		since = sub.Start
	}
	return &ChargeDates{sub: sub, since: since, until: until}
}

// Next yields the next due date, or false when the sequence ends.
func (c *ChargeDates) Next() (time.Time, bool) {
	if c.done {
		return time.Time{}, false
	}
	period := c.sub.Plan.ChargePeriod
	base := c.sub.Start.Add(c.sub.InitialChargeOffset)

	for ; ; c.i++ {
		date := base.Add(time.Duration(c.i) * period)
		if date.Before(c.since) {
			continue
		}
		if !c.until.IsZero() && date.After(c.until) {
			c.done = true
			return time.Time{}, false
		}
		if period == models.Forever && c.i != 0 {
			c.done = true
			return time.Time{}, false
		}
		c.i++
		return date, true
	}
}

// Reset rewinds the cursor to the first due date.
func (c *ChargeDates) Reset() {
	c.i = 0
	c.done = false
}

// Prolong computes the subscription's next valid end without mutating it.
// If the current end sits exactly on a charge date, the subscription already
// caught up to the schedule and advances one full period; otherwise it
// catches up to the next charge date. The result is capped at MaxEnd; once
// the current end has reached MaxEnd, prolongation fails.
func Prolong(sub *models.Subscription) (time.Time, error) {
	dates := NewChargeDates(sub, sub.End, time.Time{})

	first, ok := dates.Next()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: no next charge date for subscription %s", ErrProlongationImpossible, sub.UID)
	}

	end := first
	if sub.End.Equal(first) {
		second, ok := dates.Next()
		if !ok {
			return time.Time{}, fmt.Errorf("%w: no charge date beyond %s for subscription %s",
				ErrProlongationImpossible, first.Format(time.RFC3339), sub.UID)
		}
		end = second
	}

	if maxEnd := sub.MaxEnd(); end.After(maxEnd) {
		if !sub.End.Before(maxEnd) {
			return time.Time{}, fmt.Errorf("%w: subscription %s already at max end %s",
				ErrProlongationImpossible, sub.UID, maxEnd.Format(time.RFC3339))
		}
		end = maxEnd
	}
	return end, nil
}
