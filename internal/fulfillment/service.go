// Package fulfillment turns public form submissions into checkouts and
// completed payments into delivered voucher codes.
package fulfillment

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/internal/payments"
	"github.com/hugh/salesdesk/internal/vouchers"
	"github.com/hugh/salesdesk/pkg/apperr"
	"gorm.io/gorm"
)

var (
	ErrMissingFields        = apperr.Validation("Missing required fields", nil)
	ErrInvalidEmail         = apperr.Validation("Invalid email address", map[string]string{"email": "invalid"})
	ErrProjectUnavailable   = apperr.NotFound("Project not found or inactive")
	ErrInvalidAssignment    = apperr.NotFound("Invalid salesperson assignment")
	ErrPaymentNotConfigured = apperr.Validation("Project payment not configured", nil)
	ErrOutOfStock           = apperr.Validation("Sorry, this product is currently out of stock. Please contact support.", nil)
	ErrTransactionNotFound  = apperr.NotFound("Transaction not found")
	ErrMissingTransactionID = apperr.Validation("Missing transaction_id", nil)
	ErrNoVoucher            = apperr.Conflict("Transaction has no voucher code")
)

// VoucherQueue schedules the delivery email for a completed sale.
type VoucherQueue interface {
	EnqueueVoucherEmail(ctx context.Context, transactionID uuid.UUID) error
}

type Service struct {
	db        *gorm.DB
	inventory *vouchers.Service
	gateway   payments.Gateway
	mailer    notify.Mailer
	queue     VoucherQueue
	events    EventLog
	audit     *audit.Log
	logger    *slog.Logger
	baseURL   string
}

func NewService(db *gorm.DB, inventory *vouchers.Service, gateway payments.Gateway, mailer notify.Mailer, auditLog *audit.Log, logger *slog.Logger, baseURL string) *Service {
	return &Service{
		db:        db,
		inventory: inventory,
		gateway:   gateway,
		mailer:    mailer,
		audit:     auditLog,
		logger:    logger,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// WithQueue sends voucher emails through q. Without a queue, or when
// enqueueing fails, the email is sent inline.
func (s *Service) WithQueue(q VoucherQueue) *Service {
	s.queue = q
	return s
}

// WithEventLog enables webhook de-duplication by event ID.
func (s *Service) WithEventLog(l EventLog) *Service {
	s.events = l
	return s
}
