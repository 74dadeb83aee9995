package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/pkg/apperr"
)

type VoucherDeliverer interface {
	DeliverVoucher(ctx context.Context, transactionID uuid.UUID) error
}

type Sweeper interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type Handler struct {
	deliverer VoucherDeliverer
	mailer    notify.Mailer
	sweeper   Sweeper
	logger    *slog.Logger
}

func NewHandler(deliverer VoucherDeliverer, mailer notify.Mailer, sweeper Sweeper, logger *slog.Logger) *Handler {
	return &Handler{
		deliverer: deliverer,
		mailer:    mailer,
		sweeper:   sweeper,
		logger:    logger,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeVoucherEmail, h.HandleVoucherEmail)
	mux.HandleFunc(TypeAccountEmail, h.HandleAccountEmail)
	mux.HandleFunc(TypeExpireSweep, h.HandleExpireSweep)
}

func (h *Handler) HandleVoucherEmail(ctx context.Context, t *asynq.Task) error {
	var payload VoucherEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.TransactionID == uuid.Nil {
		return fmt.Errorf("voucher email without transaction: %w", asynq.SkipRetry)
	}

	err := h.deliverer.DeliverVoucher(ctx, payload.TransactionID)
	if err == nil {
		return nil
	}
	// Missing sales or codes will not appear on a retry.
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindConflict:
		h.logger.Error("voucher email dropped", "transaction_id", payload.TransactionID, "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (h *Handler) HandleAccountEmail(ctx context.Context, t *asynq.Task) error {
	var msg notify.Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w: %w", err, asynq.SkipRetry)
	}

	if err := h.mailer.Send(ctx, msg); err != nil {
		h.logger.Warn("account email failed", "subject", msg.Subject, "error", err)
		return err
	}
	h.logger.Info("account email sent", "subject", msg.Subject, "recipients", len(msg.To))
	return nil
}

func (h *Handler) HandleExpireSweep(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	n, err := h.sweeper.ExpireStale(ctx, start.UTC())
	if err != nil {
		return fmt.Errorf("expiring vouchers: %w", err)
	}
	h.logger.Info("voucher expiry sweep finished", "expired", n, "duration", time.Since(start))
	return nil
}
