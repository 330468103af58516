package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusError     = "error"
)

// SubscriptionPayment is one charge attempt against a plan, possibly linked
// to an existing subscription. PaidSince and PaidUntil are both set or both
// unset; once the payment completes they are authoritative and drive the
// subscription extension.
type SubscriptionPayment struct {
	UID                   uuid.UUID           `gorm:"type:char(36);primaryKey" json:"uid"`
	UserID                uint                `gorm:"not null;index" json:"user_id"`
	PlanID                uint                `gorm:"not null" json:"plan_id"`
	Plan                  Plan                `gorm:"foreignKey:PlanID" json:"plan"`
	SubscriptionUID       *uuid.UUID          `gorm:"type:char(36);index" json:"subscription_uid,omitempty"`
	Quantity              int64               `gorm:"not null;default:1" json:"quantity"`
	ProviderCodename      string              `gorm:"type:varchar(64);not null;index:idx_payments_provider_tx,priority:1" json:"provider_codename"`
	ProviderTransactionID *string             `gorm:"type:varchar(191);index:idx_payments_provider_tx,priority:2" json:"provider_transaction_id,omitempty"`
	Status                string              `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Amount                decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"amount"`
	Currency              string              `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	PaidSince             *time.Time          `json:"paid_since,omitempty"`
	PaidUntil             *time.Time          `json:"paid_until,omitempty"`
	MetadataJSON          string              `gorm:"type:longtext" json:"metadata_json,omitempty"`
	CreatedAt             time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *SubscriptionPayment) BeforeSave(tx *gorm.DB) error {
	if p.UID == uuid.Nil {
		p.UID = uuid.New()
	}
	if p.Quantity == 0 {
		p.Quantity = 1
	}
	if (p.PaidSince == nil) != (p.PaidUntil == nil) {
		return fmt.Errorf("payment %s: paid_since and paid_until must both be set or both be unset", shortUID(p.UID))
	}
	return nil
}

// IsPaidWindowSet reports whether the paid interval has been established.
func (p *SubscriptionPayment) IsPaidWindowSet() bool {
	return p.PaidSince != nil && p.PaidUntil != nil
}

func (p *SubscriptionPayment) String() string {
	return fmt.Sprintf("%s %s user=%d plan=%d", shortUID(p.UID), p.Status, p.UserID, p.PlanID)
}
