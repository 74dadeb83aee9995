package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/internal/testutil"
	"github.com/hugh/salesdesk/internal/vouchers"
	"github.com/hugh/salesdesk/pkg/apperr"
	"github.com/hugh/salesdesk/pkg/queue"
	"github.com/hugh/salesdesk/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliverFunc func(ctx context.Context, id uuid.UUID) error

func (f deliverFunc) DeliverVoucher(ctx context.Context, id uuid.UUID) error { return f(ctx, id) }

type recordingMailer struct {
	sent []notify.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeClient struct {
	tasks []enqueued
	err   error
}

func (c *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, enqueued{task: task, opts: opts})
	return &asynq.TaskInfo{ID: uuid.NewString(), Type: task.Type()}, nil
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) interface{} {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value()
		}
	}
	return nil
}

func TestHandleVoucherEmail(t *testing.T) {
	logger := util.DiscardLogger()
	txnID := uuid.New()

	t.Run("delivers the sale", func(t *testing.T) {
		var got uuid.UUID
		h := NewHandler(deliverFunc(func(_ context.Context, id uuid.UUID) error {
			got = id
			return nil
		}), nil, nil, logger)

		task, err := NewVoucherEmailTask(txnID)
		require.NoError(t, err)
		require.NoError(t, h.HandleVoucherEmail(context.Background(), task))
		assert.Equal(t, txnID, got)
	})

	t.Run("invalid payload is not retried", func(t *testing.T) {
		h := NewHandler(nil, nil, nil, logger)
		err := h.HandleVoucherEmail(context.Background(), asynq.NewTask(TypeVoucherEmail, []byte("invalid json")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.Contains(t, err.Error(), "unmarshal payload")
	})

	t.Run("missing sale is not retried", func(t *testing.T) {
		h := NewHandler(deliverFunc(func(context.Context, uuid.UUID) error {
			return apperr.NotFound("Transaction not found")
		}), nil, nil, logger)

		task, _ := NewVoucherEmailTask(txnID)
		assert.ErrorIs(t, h.HandleVoucherEmail(context.Background(), task), asynq.SkipRetry)
	})

	t.Run("send failure is retried", func(t *testing.T) {
		sendErr := errors.New("smtp timeout")
		h := NewHandler(deliverFunc(func(context.Context, uuid.UUID) error { return sendErr }), nil, nil, logger)

		task, _ := NewVoucherEmailTask(txnID)
		err := h.HandleVoucherEmail(context.Background(), task)
		assert.ErrorIs(t, err, sendErr)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestHandleAccountEmail(t *testing.T) {
	mailer := &recordingMailer{}
	h := NewHandler(nil, mailer, nil, util.DiscardLogger())

	task, err := NewAccountEmailTask(notify.AccountApproved("new@example.com", "New", "https://desk.example.com/login"))
	require.NoError(t, err)
	require.NoError(t, h.HandleAccountEmail(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Your account has been approved", mailer.sent[0].Subject)

	empty, _ := json.Marshal(notify.Message{Subject: "no one"})
	err = h.HandleAccountEmail(context.Background(), asynq.NewTask(TypeAccountEmail, empty))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	mailer.err = errors.New("smtp down")
	err = h.HandleAccountEmail(context.Background(), task)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleExpireSweep(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	logger := util.DiscardLogger()
	inventory := vouchers.NewService(db, nil, audit.NewLog(db, logger), logger, 0)
	h := NewHandler(nil, nil, inventory, logger)

	project := testutil.CreateTestProject(t, db, "Sweep")
	stale := testutil.CreateTestVoucher(t, db, project.ID, "STALE-1")
	fresh := testutil.CreateTestVoucher(t, db, project.ID, "FRESH-1")
	require.NoError(t, db.Model(stale).Update("expires_at", time.Now().UTC().Add(-time.Hour)).Error)
	require.NoError(t, db.Model(fresh).Update("expires_at", time.Now().UTC().Add(time.Hour)).Error)

	require.NoError(t, h.HandleExpireSweep(context.Background(), NewExpireSweepTask()))

	var got models.VoucherCode
	require.NoError(t, db.First(&got, "id = ?", stale.ID).Error)
	assert.Equal(t, models.VoucherExpired, got.Status)
	require.NoError(t, db.First(&got, "id = ?", fresh.ID).Error)
	assert.Equal(t, models.VoucherAvailable, got.Status)
}

func TestEnqueuer(t *testing.T) {
	logger := util.DiscardLogger()

	t.Run("voucher email goes to the critical queue once per sale", func(t *testing.T) {
		client := &fakeClient{}
		e := NewEnqueuer(client, logger)
		txnID := uuid.New()

		require.NoError(t, e.EnqueueVoucherEmail(context.Background(), txnID))
		require.Len(t, client.tasks, 1)

		got := client.tasks[0]
		assert.Equal(t, TypeVoucherEmail, got.task.Type())
		assert.Equal(t, queue.QueueCritical, optionValue(got.opts, asynq.QueueOpt))
		assert.Equal(t, "voucher-email:"+txnID.String(), optionValue(got.opts, asynq.TaskIDOpt))

		var payload VoucherEmailPayload
		require.NoError(t, json.Unmarshal(got.task.Payload(), &payload))
		assert.Equal(t, txnID, payload.TransactionID)
	})

	t.Run("duplicate task id is not an error", func(t *testing.T) {
		e := NewEnqueuer(&fakeClient{err: asynq.ErrTaskIDConflict}, logger)
		assert.NoError(t, e.EnqueueVoucherEmail(context.Background(), uuid.New()))
	})

	t.Run("redis failure is reported", func(t *testing.T) {
		e := NewEnqueuer(&fakeClient{err: errors.New("dial tcp: refused")}, logger)
		assert.Error(t, e.EnqueueVoucherEmail(context.Background(), uuid.New()))
		assert.Error(t, e.Dispatch(context.Background(), notify.AccountRejected("a@example.com", "A", "")))
	})

	t.Run("account email", func(t *testing.T) {
		client := &fakeClient{}
		e := NewEnqueuer(client, logger)

		assert.Error(t, e.Dispatch(context.Background(), notify.Message{Subject: "nobody"}))
		require.NoError(t, e.Dispatch(context.Background(), notify.EmployeeIDIssued("hire@example.com", "EMP-1234", "https://desk.example.com/signup/staff")))
		require.Len(t, client.tasks, 1)
		assert.Equal(t, TypeAccountEmail, client.tasks[0].task.Type())
		assert.Equal(t, queue.QueueDefault, optionValue(client.tasks[0].opts, asynq.QueueOpt))
	})
}
