package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/internal/payments"
	"github.com/hugh/salesdesk/internal/vouchers"
	"gorm.io/gorm"
)

// WebhookResult is acknowledged to the processor whatever happened to the
// sale, so it does not redeliver events that can never succeed.
type WebhookResult struct {
	EventID   string `json:"-"`
	Ignored   bool   `json:"ignored,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleWebhook verifies a processor notification and completes the sale it
// refers to. Only a bad signature or a payload without a transaction is
// returned as an error.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		s.logger.Warn("webhook rejected", "error", err)
		return nil, err
	}
	result := &WebhookResult{EventID: event.ID}

	if event.Type != payments.EventPaymentSucceeded {
		s.logger.Debug("webhook ignored", "event_id", event.ID, "type", event.Type)
		result.Ignored = true
		return result, nil
	}

	txnID, err := uuid.Parse(event.Metadata["transaction_id"])
	if err != nil {
		s.logger.Error("webhook without transaction id", "event_id", event.ID)
		return nil, ErrMissingTransactionID
	}

	if s.events != nil {
		first, err := s.events.FirstDelivery(ctx, event.ID)
		switch {
		case err != nil:
			s.logger.Warn("webhook de-duplication unavailable", "event_id", event.ID, "error", err)
		case !first:
			s.logger.Info("duplicate webhook", "event_id", event.ID, "transaction_id", txnID)
			result.Duplicate = true
			return result, nil
		}
	}

	if _, err := s.CompletePayment(ctx, txnID); err != nil {
		s.logger.Error("fulfillment failed", "event_id", event.ID, "transaction_id", txnID, "error", err)
		result.Error = err.Error()
	}
	return result, nil
}

func (s *Service) loadTransaction(ctx context.Context, id uuid.UUID) (*models.SalesTransaction, error) {
	var txn models.SalesTransaction
	err := s.db.WithContext(ctx).
		Preload("Project").
		Preload("Customer").
		Preload("VoucherCode").
		First(&txn, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading transaction: %w", err)
	}
	return &txn, nil
}

// CompletePayment marks the sale paid, claims a code for it and sends the
// code to the customer. Claiming is fail-fast: without a code the sale is
// marked failed. Delivery is best effort and never undoes the claim.
// Completing an already fulfilled sale returns its code.
func (s *Service) CompletePayment(ctx context.Context, transactionID uuid.UUID) (*models.VoucherCode, error) {
	txn, err := s.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.VoucherCode != nil {
		return txn.VoucherCode, nil
	}

	now := time.Now().UTC()
	if txn.PaymentStatus != models.PaymentSucceeded {
		if err := s.db.WithContext(ctx).Model(&models.SalesTransaction{}).
			Where("id = ?", txn.ID).
			Updates(map[string]interface{}{
				"payment_status":       models.PaymentSucceeded,
				"payment_completed_at": now,
			}).Error; err != nil {
			return nil, fmt.Errorf("marking payment succeeded: %w", err)
		}
	}

	voucher, err := s.inventory.Reserve(ctx, txn.ProjectID, vouchers.ReserveFilter{TransactionID: txn.ID})
	if errors.Is(err, vouchers.ErrTransactionLinked) {
		// A concurrent delivery of the same payment got there first.
		linked, lerr := s.loadTransaction(ctx, txn.ID)
		if lerr != nil {
			return nil, lerr
		}
		if linked.VoucherCode != nil {
			return linked.VoucherCode, nil
		}
	}
	if err != nil {
		s.markFailed(ctx, txn, err)
		return nil, err
	}

	s.audit.Record(ctx, txn.SalespersonID, audit.ActionVoucherSold, map[string]interface{}{
		"transaction_id": txn.ID,
		"voucher_id":     voucher.ID,
		"voucher_code":   voucher.Code,
		"project_id":     txn.ProjectID,
		"customer_id":    txn.CustomerID,
		"amount":         txn.Amount.StringFixed(2),
	})

	s.scheduleDelivery(ctx, txn.ID)
	return voucher, nil
}

func (s *Service) markFailed(ctx context.Context, txn *models.SalesTransaction, cause error) {
	if err := s.db.WithContext(ctx).Model(&models.SalesTransaction{}).
		Where("id = ?", txn.ID).
		Updates(map[string]interface{}{
			"fulfillment_status":       models.FulfillmentFailed,
			"fulfillment_completed_at": time.Now().UTC(),
		}).Error; err != nil {
		s.logger.Error("failed to mark fulfillment failed", "transaction_id", txn.ID, "error", err)
	}
	s.audit.Record(ctx, txn.SalespersonID, audit.ActionFulfillmentFailed, map[string]interface{}{
		"transaction_id": txn.ID,
		"project_id":     txn.ProjectID,
		"reason":         cause.Error(),
	})
}

func (s *Service) scheduleDelivery(ctx context.Context, transactionID uuid.UUID) {
	if s.queue != nil {
		err := s.queue.EnqueueVoucherEmail(ctx, transactionID)
		if err == nil {
			return
		}
		s.logger.Warn("failed to enqueue voucher email, sending inline", "transaction_id", transactionID, "error", err)
	}
	if err := s.DeliverVoucher(ctx, transactionID); err != nil {
		s.logger.Error("voucher email failed", "transaction_id", transactionID, "error", err)
	}
}

// DeliverVoucher emails the claimed code to the customer and records the
// outcome on the sale. Already completed sales are not mailed again.
func (s *Service) DeliverVoucher(ctx context.Context, transactionID uuid.UUID) error {
	txn, err := s.loadTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if txn.VoucherCode == nil {
		return ErrNoVoucher
	}
	if txn.Customer == nil || txn.Project == nil {
		return fmt.Errorf("transaction %s is missing its customer or project", txn.ID)
	}
	if txn.FulfillmentStatus == models.FulfillmentCompleted {
		return nil
	}

	msg := notify.VoucherDelivery(
		txn.Customer.Email,
		txn.Customer.Name,
		txn.Project.Name,
		txn.VoucherCode.ProductName,
		txn.VoucherCode.Code,
	)
	status := models.FulfillmentCompleted
	sendErr := s.mailer.Send(ctx, msg)
	if sendErr != nil {
		status = models.FulfillmentEmailFailed
	}

	if err := s.db.WithContext(ctx).Model(&models.SalesTransaction{}).
		Where("id = ?", txn.ID).
		Updates(map[string]interface{}{
			"fulfillment_status":       status,
			"fulfillment_completed_at": time.Now().UTC(),
		}).Error; err != nil {
		return fmt.Errorf("recording fulfillment: %w", err)
	}

	if sendErr != nil {
		return fmt.Errorf("sending voucher email: %w", sendErr)
	}
	s.logger.Info("voucher delivered", "transaction_id", txn.ID, "voucher_id", txn.VoucherCode.ID)
	return nil
}
