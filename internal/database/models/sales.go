package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Customer struct {
	Base
	Email   string `gorm:"uniqueIndex;not null" json:"email"`
	Name    string `gorm:"not null" json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
	Source  string `json:"source,omitempty"`
}

func (Customer) TableName() string {
	return "customers"
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type FulfillmentStatus string

const (
	FulfillmentPending     FulfillmentStatus = "pending"
	FulfillmentCompleted   FulfillmentStatus = "completed"
	FulfillmentEmailFailed FulfillmentStatus = "email_failed"
	FulfillmentFailed      FulfillmentStatus = "failed"
)

// SalesTransaction records one checkout. VoucherCodeID is unique so a code
// can back at most one sale.
type SalesTransaction struct {
	Base
	ProjectID              uuid.UUID         `gorm:"type:uuid;not null;index" json:"project_id"`
	SalespersonID          uuid.UUID         `gorm:"type:uuid;not null;index" json:"salesperson_id"`
	CustomerID             uuid.UUID         `gorm:"type:uuid;not null;index" json:"customer_id"`
	VoucherCodeID          *uuid.UUID        `gorm:"type:uuid;uniqueIndex" json:"voucher_code_id,omitempty"`
	Amount                 decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"amount"`
	CommissionRate         decimal.Decimal   `gorm:"type:numeric(5,2);not null" json:"commission_rate"`
	CommissionAmount       decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"commission_amount"`
	PaymentStatus          PaymentStatus     `gorm:"type:varchar(20);not null;index" json:"payment_status"`
	FulfillmentStatus      FulfillmentStatus `gorm:"type:varchar(20);not null" json:"fulfillment_status"`
	PaymentCompletedAt     *time.Time        `json:"payment_completed_at,omitempty"`
	FulfillmentCompletedAt *time.Time        `json:"fulfillment_completed_at,omitempty"`
	CheckoutSessionID      string            `gorm:"index" json:"checkout_session_id,omitempty"`

	Project     *Project     `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Salesperson *User        `gorm:"foreignKey:SalespersonID" json:"salesperson,omitempty"`
	Customer    *Customer    `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	VoucherCode *VoucherCode `gorm:"foreignKey:VoucherCodeID" json:"voucher_code,omitempty"`
}

func (SalesTransaction) TableName() string {
	return "sales_transactions"
}
