package models

import (
	"time"

	"gorm.io/gorm"
)

// Usage is an immutable consumption event. Rows are only ever appended;
// balance corrections happen by recording compensating events, never by
// editing history.
type Usage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index:idx_usages_user_resource,priority:1" json:"user_id"`
	ResourceID uint      `gorm:"not null;index:idx_usages_user_resource,priority:2" json:"resource_id"`
	Amount     int64     `gorm:"not null;default:1" json:"amount" validate:"gte=1"`
	UsedAt     time.Time `gorm:"not null;index" json:"used_at"`
}

func (u *Usage) BeforeCreate(tx *gorm.DB) error {
	if u.UsedAt.IsZero() {
		u.UsedAt = time.Now().UTC()
	}
	return nil
}
