package models

import (
	"time"

	"github.com/google/uuid"
)

type VoucherStatus string

// Transitions only move forward: available -> sold | expired | revoked.
const (
	VoucherAvailable VoucherStatus = "available"
	VoucherSold      VoucherStatus = "sold"
	VoucherExpired   VoucherStatus = "expired"
	VoucherRevoked   VoucherStatus = "revoked"
)

func ValidVoucherStatus(s string) bool {
	switch VoucherStatus(s) {
	case VoucherAvailable, VoucherSold, VoucherExpired, VoucherRevoked:
		return true
	}
	return false
}

type VoucherCode struct {
	Record
	ProjectID     uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_voucher_project_code;index:idx_voucher_claim,priority:1" json:"project_id"`
	Code          string        `gorm:"type:varchar(255);not null;uniqueIndex:idx_voucher_project_code" json:"code"`
	Status        VoucherStatus `gorm:"type:varchar(20);not null;index:idx_voucher_claim,priority:2" json:"status"`
	ProductName   string        `gorm:"type:varchar(255)" json:"product_name,omitempty"`
	SoldAt        *time.Time    `json:"sold_at,omitempty"`
	ExpiresAt     *time.Time    `gorm:"index" json:"expires_at,omitempty"`
	TransactionID *uuid.UUID    `gorm:"type:uuid" json:"transaction_id,omitempty"`
}

func (VoucherCode) TableName() string {
	return "voucher_codes"
}
