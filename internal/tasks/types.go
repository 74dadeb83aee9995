package tasks

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/salesdesk/internal/notify"
)

// Task type names
const (
	TypeVoucherEmail = "email:voucher"
	TypeAccountEmail = "email:account"
	TypeExpireSweep  = "vouchers:expire_sweep"
)

// VoucherEmailPayload identifies the sale whose code should be mailed.
type VoucherEmailPayload struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

func NewVoucherEmailTask(transactionID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(VoucherEmailPayload{TransactionID: transactionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeVoucherEmail, data), nil
}

// NewAccountEmailTask carries a fully built message, so the worker does not
// need to know which account event produced it.
func NewAccountEmailTask(msg notify.Message) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAccountEmail, data), nil
}

func NewExpireSweepTask() *asynq.Task {
	return asynq.NewTask(TypeExpireSweep, nil)
}
