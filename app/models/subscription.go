package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription is a user's instance of a plan over the half-open interval
// [Start, End). End only ever grows: prolongation and completed payments
// extend it, nothing shrinks it except an explicit Stop.
type Subscription struct {
	UID                 uuid.UUID `gorm:"type:char(36);primaryKey" json:"uid"`
	UserID              uint      `gorm:"not null;index" json:"user_id"`
	PlanID              uint      `gorm:"not null;index" json:"plan_id"`
	Plan                Plan      `gorm:"foreignKey:PlanID" json:"plan"`
	AutoRenew           bool      `gorm:"not null;default:false;index" json:"auto_renew"`
	Quantity            int64     `gorm:"not null;default:1" json:"quantity" validate:"gte=1"`
	InitialChargeOffset Duration  `gorm:"not null;default:0" json:"initial_charge_offset"`
	Start               time.Time `gorm:"not null;index" json:"start"`
	End                 time.Time `gorm:"not null;index" json:"end"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate fills the UID and default bounds.
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.UID == uuid.Nil {
		s.UID = uuid.New()
	}
	if s.Quantity == 0 {
		s.Quantity = 1
	}
	if s.Start.IsZero() {
		s.Start = time.Now().UTC()
	}
	if s.End.IsZero() {
		end := s.Start.Add(s.Plan.ChargePeriod)
		if maxEnd := s.MaxEnd(); end.After(maxEnd) {
			end = maxEnd
		}
		s.End = end
	}
	return nil
}

// MaxEnd is the hard lifetime cap derived from the plan's max duration.
func (s *Subscription) MaxEnd() time.Time {
	return s.Start.Add(s.Plan.MaxDuration)
}

// ActiveAt reports whether the subscription covers the given instant,
// treating the interval as half-open [Start, End).
func (s *Subscription) ActiveAt(at time.Time) bool {
	return !s.Start.After(at) && s.End.After(at)
}

// Stop ends the subscription now and disables auto-renewal.
func (s *Subscription) Stop(now time.Time) {
	s.End = now
	s.AutoRenew = false
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%s user=%d plan=%d %s - %s",
		shortUID(s.UID), s.UserID, s.PlanID,
		s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
}

func shortUID(uid uuid.UUID) string {
	return uid.String()[:8]
}
