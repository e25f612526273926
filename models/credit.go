// models/credit.go - Host entitlement: quiz credits and purchases
package models

import "time"

// HostCredit tracks how many quiz starts a host has left. Consumed by
// an atomic conditional decrement before a session may leave waiting.
type HostCredit struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	HostID  string `json:"host_id" gorm:"uniqueIndex;not null;size:100"`
	Credits int    `json:"credits" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (HostCredit) TableName() string {
	return "host_credits"
}

// CreditPurchase is the record of one completed purchase reported by
// the external payment provider. ProviderRef is unique so a replayed
// webhook grants nothing twice.
type CreditPurchase struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	HostID      string `json:"host_id" gorm:"index;not null;size:100"`
	Provider    string `json:"provider" gorm:"size:50"`
	ProviderRef string `json:"provider_ref" gorm:"uniqueIndex;not null;size:200"`
	Credits     int    `json:"credits" gorm:"not null"`
	AmountCents int    `json:"amount_cents" gorm:"default:0"`
	PromoCode   string `json:"promo_code" gorm:"size:50"`

	CreatedAt time.Time `json:"created_at"`
}

func (CreditPurchase) TableName() string {
	return "credit_purchases"
}
