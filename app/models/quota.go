package models

import "gorm.io/gorm"

// Quota grants Limit units of a resource per recharge window to every
// subscription of the plan. At most one quota may exist per (plan, resource).
//
// RechargePeriod defaults to the plan's charge period, BurnDuration defaults
// to the recharge period, so a bare quota simply refreshes on every charge.
type Quota struct {
	ID             uint     `gorm:"primaryKey" json:"id"`
	PlanID         uint     `gorm:"not null;uniqueIndex:ux_quotas_plan_resource,priority:1" json:"plan_id"`
	ResourceID     uint     `gorm:"not null;uniqueIndex:ux_quotas_plan_resource,priority:2" json:"resource_id"`
	Resource       Resource `gorm:"foreignKey:ResourceID" json:"resource"`
	Limit          int64    `gorm:"not null" json:"limit" validate:"gte=0"`
	RechargePeriod Duration `gorm:"not null" json:"recharge_period" validate:"gte=0"`
	BurnDuration   Duration `gorm:"not null" json:"burn_duration" validate:"gte=0"`
}

// BeforeSave fills the period defaults from the owning plan.
func (q *Quota) BeforeSave(tx *gorm.DB) error {
	if q.RechargePeriod == 0 && q.PlanID != 0 {
		var plan Plan
		if err := tx.First(&plan, q.PlanID).Error; err != nil {
			return err
		}
		q.RechargePeriod = plan.ChargePeriod
	}
	if q.BurnDuration == 0 {
		q.BurnDuration = q.RechargePeriod
	}
	return nil
}
