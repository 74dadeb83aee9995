package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/pkg/queue"
)

const emailMaxRetry = 5

// Client is the part of *asynq.Client the enqueuer needs.
type Client interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer hands emails to the worker. It satisfies notify.Dispatcher for
// account mail and the fulfillment voucher queue.
type Enqueuer struct {
	client Client
	logger *slog.Logger
}

func NewEnqueuer(client Client, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{client: client, logger: logger}
}

func (e *Enqueuer) Dispatch(ctx context.Context, msg notify.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	task, err := NewAccountEmailTask(msg)
	if err != nil {
		return fmt.Errorf("building account email task: %w", err)
	}
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(queue.QueueDefault),
		asynq.MaxRetry(emailMaxRetry),
	)
	if err != nil {
		return fmt.Errorf("enqueueing account email: %w", err)
	}
	e.logger.Debug("account email enqueued", "task_id", info.ID, "subject", msg.Subject)
	return nil
}

// EnqueueVoucherEmail schedules delivery once per sale. A task already
// queued for the same sale counts as success.
func (e *Enqueuer) EnqueueVoucherEmail(ctx context.Context, transactionID uuid.UUID) error {
	task, err := NewVoucherEmailTask(transactionID)
	if err != nil {
		return fmt.Errorf("building voucher email task: %w", err)
	}
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(queue.QueueCritical),
		asynq.MaxRetry(emailMaxRetry),
		asynq.TaskID("voucher-email:"+transactionID.String()),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueueing voucher email: %w", err)
	}
	e.logger.Info("voucher email enqueued", "task_id", info.ID, "transaction_id", transactionID)
	return nil
}
