package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Plan is a billing template: what gets charged, how often, for how long,
// and which per-resource quota grants come with it.
//
// ChargePeriod and MaxDuration are always populated after a save: empty
// values are defaulted to the Forever sentinel, so downstream code never has
// to deal with zero periods on a persisted plan.
type Plan struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	Codename       string              `gorm:"type:varchar(191);not null;uniqueIndex" json:"codename"`
	Name           string              `gorm:"type:varchar(255);not null" json:"name"`
	ChargeAmount   decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"charge_amount"`
	ChargeCurrency string              `gorm:"type:varchar(3);not null;default:'USD'" json:"charge_currency"`
	ChargePeriod   Duration            `gorm:"not null" json:"charge_period" validate:"gte=0"`
	MaxDuration    Duration            `gorm:"not null" json:"max_duration" validate:"gte=0"`
	IsEnabled      bool                `gorm:"not null;default:true" json:"is_enabled"`
	Quotas         []Quota             `gorm:"foreignKey:PlanID" json:"quotas,omitempty"`
}

// BeforeSave enforces the sentinel invariant on periods.
func (p *Plan) BeforeSave(tx *gorm.DB) error {
	if p.ChargePeriod == 0 {
		p.ChargePeriod = Forever
	}
	if p.MaxDuration == 0 {
		p.MaxDuration = Forever
	}
	return nil
}

// IsRecurring reports whether the plan re-bills on a schedule.
func (p *Plan) IsRecurring() bool {
	return p.ChargePeriod != Forever
}

// IsFree reports whether the plan carries no charge at all.
func (p *Plan) IsFree() bool {
	return !p.ChargeAmount.Valid || p.ChargeAmount.Decimal.IsZero()
}
