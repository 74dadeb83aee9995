package fulfillment_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/fulfillment"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/internal/payments"
	"github.com/hugh/salesdesk/internal/testutil"
	"github.com/hugh/salesdesk/internal/vouchers"
	"github.com/hugh/salesdesk/pkg/util"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeGateway struct {
	requests []payments.CheckoutRequest
	event    *payments.Event
	fail     bool
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	if g.fail {
		return nil, errors.New("processor down")
	}
	g.requests = append(g.requests, req)
	return &payments.CheckoutSession{ID: "cs_test_1", URL: "https://pay.example.com/cs_test_1"}, nil
}

func (g *fakeGateway) ParseEvent(_ []byte, signature string) (*payments.Event, error) {
	if signature != "valid" {
		return nil, payments.ErrInvalidSignature
	}
	return g.event, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []notify.Message
	fail bool
}

func (m *fakeMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fakeQueue struct {
	ids  []uuid.UUID
	fail bool
}

func (q *fakeQueue) EnqueueVoucherEmail(_ context.Context, id uuid.UUID) error {
	if q.fail {
		return errors.New("redis unavailable")
	}
	q.ids = append(q.ids, id)
	return nil
}

type memEvents map[string]bool

func (m memEvents) FirstDelivery(_ context.Context, id string) (bool, error) {
	if m[id] {
		return false, nil
	}
	m[id] = true
	return true, nil
}

type fixture struct {
	db          *gorm.DB
	svc         *fulfillment.Service
	gateway     *fakeGateway
	mailer      *fakeMailer
	project     *models.Project
	salesperson *models.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	logger := util.DiscardLogger()
	auditLog := audit.NewLog(db, logger)
	inventory := vouchers.NewService(db, nil, auditLog, logger, 0)
	gw := &fakeGateway{}
	mailer := &fakeMailer{}

	project := testutil.CreateTestProject(t, db, "Spa Day")
	salesperson := testutil.CreateTestAffiliate(t, db)
	require.NoError(t, db.Create(&models.ProjectAssignment{
		ProjectID:     project.ID,
		SalespersonID: salesperson.ID,
		FormURL:       "/form/" + project.Slug + "/seller",
		Status:        models.AssignmentActive,
		AssignedAt:    time.Now().UTC(),
	}).Error)

	return &fixture{
		db:          db,
		svc:         fulfillment.NewService(db, inventory, gw, mailer, auditLog, logger, "https://desk.example.com/"),
		gateway:     gw,
		mailer:      mailer,
		project:     project,
		salesperson: salesperson,
	}
}

func (f *fixture) submission(email string) fulfillment.FormSubmission {
	return fulfillment.FormSubmission{
		ProjectID:     f.project.ID,
		SalespersonID: f.salesperson.ID,
		Customer:      fulfillment.CustomerInput{Email: email, Name: "Dana Buyer", City: "Dubai"},
	}
}

func (f *fixture) transaction(t *testing.T, id uuid.UUID) models.SalesTransaction {
	t.Helper()
	var txn models.SalesTransaction
	require.NoError(t, f.db.First(&txn, "id = ?", id).Error)
	return txn
}

func TestSubmitForm(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)
	testutil.CreateTestVoucher(t, f.db, f.project.ID, "CODE-1")

	checkout, err := f.svc.SubmitForm(ctx, f.submission(" Dana@Example.com "))
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/cs_test_1", checkout.CheckoutURL)

	txn := f.transaction(t, checkout.TransactionID)
	assert.Equal(t, models.PaymentPending, txn.PaymentStatus)
	assert.Equal(t, models.FulfillmentPending, txn.FulfillmentStatus)
	assert.Equal(t, "cs_test_1", txn.CheckoutSessionID)
	assert.True(t, txn.CommissionAmount.Equal(decimal.RequireFromString("10")), txn.CommissionAmount.String())
	assert.Nil(t, txn.VoucherCodeID)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, "price_test_123", req.PriceID)
	assert.Equal(t, "dana@example.com", req.CustomerEmail)
	assert.Equal(t, checkout.TransactionID.String(), req.Metadata["transaction_id"])
	assert.Equal(t, f.salesperson.ID.String(), req.Metadata["salesperson_id"])
	assert.Equal(t, "https://desk.example.com/form/"+f.project.Slug+"/seller?cancelled=true", req.CancelURL)

	t.Run("returning customer is updated in place", func(t *testing.T) {
		in := f.submission("DANA@example.com")
		in.Customer.Name = "Dana Renamed"
		second, err := f.svc.SubmitForm(ctx, in)
		require.NoError(t, err)

		var customers []models.Customer
		require.NoError(t, f.db.Find(&customers).Error)
		require.Len(t, customers, 1)
		assert.Equal(t, "Dana Renamed", customers[0].Name)
		assert.Equal(t, customers[0].ID, f.transaction(t, second.TransactionID).CustomerID)
	})

	t.Run("gateway failure marks the sale failed", func(t *testing.T) {
		f.gateway.fail = true
		defer func() { f.gateway.fail = false }()

		_, err := f.svc.SubmitForm(ctx, f.submission("late@example.com"))
		require.Error(t, err)

		var failed int64
		f.db.Model(&models.SalesTransaction{}).Where("payment_status = ?", models.PaymentFailed).Count(&failed)
		assert.Equal(t, int64(1), failed)
	})
}

func TestSubmitForm_GatewayFailureUnrecorded(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)
	testutil.CreateTestVoucher(t, f.db, f.project.ID, "CODE-1")
	f.gateway.fail = true

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	auditLog := audit.NewLog(f.db, logger)
	svc := fulfillment.NewService(f.db, vouchers.NewService(f.db, nil, auditLog, logger, 0), f.gateway, f.mailer, auditLog, logger, "https://desk.example.com")

	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:refuse_sale_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "sales_transactions" {
			_ = tx.AddError(errors.New("write refused"))
		}
	}))

	_, err := svc.SubmitForm(ctx, f.submission("late@example.com"))
	require.Error(t, err)
	assert.Contains(t, logs.String(), "failed to mark checkout failed")
	assert.Contains(t, logs.String(), "write refused")

	var txn models.SalesTransaction
	require.NoError(t, f.db.First(&txn).Error)
	assert.Equal(t, models.PaymentPending, txn.PaymentStatus)
}

func TestSubmitForm_Rejections(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)

	t.Run("missing fields", func(t *testing.T) {
		in := f.submission("")
		_, err := f.svc.SubmitForm(ctx, in)
		assert.ErrorIs(t, err, fulfillment.ErrMissingFields)
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := f.svc.SubmitForm(ctx, f.submission("not-an-email"))
		assert.ErrorIs(t, err, fulfillment.ErrInvalidEmail)
	})

	t.Run("out of stock", func(t *testing.T) {
		_, err := f.svc.SubmitForm(ctx, f.submission("buyer@example.com"))
		assert.ErrorIs(t, err, fulfillment.ErrOutOfStock)

		var count int64
		f.db.Model(&models.SalesTransaction{}).Count(&count)
		assert.Zero(t, count)
	})

	t.Run("expired codes are not stock", func(t *testing.T) {
		v := testutil.CreateTestVoucher(t, f.db, f.project.ID, "OLD-1")
		require.NoError(t, f.db.Model(v).Update("expires_at", time.Now().UTC().Add(-time.Hour)).Error)

		_, err := f.svc.SubmitForm(ctx, f.submission("buyer@example.com"))
		assert.ErrorIs(t, err, fulfillment.ErrOutOfStock)
	})

	t.Run("unassigned salesperson", func(t *testing.T) {
		in := f.submission("buyer@example.com")
		in.SalespersonID = testutil.CreateTestAffiliate(t, f.db).ID
		_, err := f.svc.SubmitForm(ctx, in)
		assert.ErrorIs(t, err, fulfillment.ErrInvalidAssignment)
	})

	t.Run("payment not configured", func(t *testing.T) {
		require.NoError(t, f.db.Model(f.project).Update("stripe_price_id", "").Error)
		_, err := f.svc.SubmitForm(ctx, f.submission("buyer@example.com"))
		assert.ErrorIs(t, err, fulfillment.ErrPaymentNotConfigured)
	})

	t.Run("inactive project", func(t *testing.T) {
		require.NoError(t, f.db.Model(f.project).Update("status", models.ProjectStatusPaused).Error)
		_, err := f.svc.SubmitForm(ctx, f.submission("buyer@example.com"))
		assert.ErrorIs(t, err, fulfillment.ErrProjectUnavailable)
	})
}

func TestHandleWebhook(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)
	f.svc.WithEventLog(memEvents{})

	customer := testutil.CreateTestCustomer(t, f.db)
	txn := testutil.CreateTestTransaction(t, f.db, f.project, f.salesperson, customer)
	testutil.CreateTestVoucher(t, f.db, f.project.ID, "GIFT-1")

	t.Run("bad signature", func(t *testing.T) {
		_, err := f.svc.HandleWebhook(ctx, []byte("{}"), "forged")
		assert.ErrorIs(t, err, payments.ErrInvalidSignature)
	})

	t.Run("other events are acknowledged and ignored", func(t *testing.T) {
		f.gateway.event = &payments.Event{ID: "evt_0", Type: "charge.refunded"}
		result, err := f.svc.HandleWebhook(ctx, []byte("{}"), "valid")
		require.NoError(t, err)
		assert.True(t, result.Ignored)
	})

	t.Run("missing transaction id", func(t *testing.T) {
		f.gateway.event = &payments.Event{ID: "evt_x", Type: payments.EventPaymentSucceeded}
		_, err := f.svc.HandleWebhook(ctx, []byte("{}"), "valid")
		assert.ErrorIs(t, err, fulfillment.ErrMissingTransactionID)
	})

	f.gateway.event = &payments.Event{
		ID:       "evt_1",
		Type:     payments.EventPaymentSucceeded,
		Metadata: map[string]string{"transaction_id": txn.ID.String()},
	}

	t.Run("payment claims and delivers a code", func(t *testing.T) {
		result, err := f.svc.HandleWebhook(ctx, []byte("{}"), "valid")
		require.NoError(t, err)
		assert.Empty(t, result.Error)

		got := f.transaction(t, txn.ID)
		assert.Equal(t, models.PaymentSucceeded, got.PaymentStatus)
		assert.Equal(t, models.FulfillmentCompleted, got.FulfillmentStatus)
		require.NotNil(t, got.VoucherCodeID)
		assert.NotNil(t, got.FulfillmentCompletedAt)

		var voucher models.VoucherCode
		require.NoError(t, f.db.First(&voucher, "id = ?", *got.VoucherCodeID).Error)
		assert.Equal(t, models.VoucherSold, voucher.Status)
		assert.Equal(t, txn.ID, *voucher.TransactionID)

		require.Len(t, f.mailer.sent, 1)
		assert.Equal(t, []string{customer.Email}, f.mailer.sent[0].To)
		assert.Contains(t, f.mailer.sent[0].Body, "GIFT-1")
	})

	t.Run("redelivered event is dropped", func(t *testing.T) {
		result, err := f.svc.HandleWebhook(ctx, []byte("{}"), "valid")
		require.NoError(t, err)
		assert.True(t, result.Duplicate)
		assert.Len(t, f.mailer.sent, 1)
	})
}

func TestCompletePayment(t *testing.T) {
	t.Run("no stock marks fulfillment failed", func(t *testing.T) {
		f := setup(t)
		ctx := testutil.TestContext(t)
		txn := testutil.CreateTestTransaction(t, f.db, f.project, f.salesperson, testutil.CreateTestCustomer(t, f.db))

		_, err := f.svc.CompletePayment(ctx, txn.ID)
		assert.ErrorIs(t, err, vouchers.ErrNoAvailableCode)

		got := f.transaction(t, txn.ID)
		assert.Equal(t, models.PaymentSucceeded, got.PaymentStatus)
		assert.Equal(t, models.FulfillmentFailed, got.FulfillmentStatus)
		assert.Empty(t, f.mailer.sent)
	})

	t.Run("email failure keeps the sale", func(t *testing.T) {
		f := setup(t)
		ctx := testutil.TestContext(t)
		f.mailer.fail = true
		testutil.CreateTestVoucher(t, f.db, f.project.ID, "KEEP-1")
		txn := testutil.CreateTestTransaction(t, f.db, f.project, f.salesperson, testutil.CreateTestCustomer(t, f.db))

		voucher, err := f.svc.CompletePayment(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, "KEEP-1", voucher.Code)

		got := f.transaction(t, txn.ID)
		assert.Equal(t, models.FulfillmentEmailFailed, got.FulfillmentStatus)
		require.NotNil(t, got.VoucherCodeID)
		assert.Equal(t, voucher.ID, *got.VoucherCodeID)
	})

	t.Run("repeat completion returns the same code", func(t *testing.T) {
		f := setup(t)
		ctx := testutil.TestContext(t)
		testutil.CreateTestVoucher(t, f.db, f.project.ID, "ONE-1")
		testutil.CreateTestVoucher(t, f.db, f.project.ID, "TWO-2")
		txn := testutil.CreateTestTransaction(t, f.db, f.project, f.salesperson, testutil.CreateTestCustomer(t, f.db))

		first, err := f.svc.CompletePayment(ctx, txn.ID)
		require.NoError(t, err)
		again, err := f.svc.CompletePayment(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)

		var sold int64
		f.db.Model(&models.VoucherCode{}).Where("status = ?", models.VoucherSold).Count(&sold)
		assert.Equal(t, int64(1), sold)
		assert.Len(t, f.mailer.sent, 1)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.CompletePayment(testutil.TestContext(t), uuid.New())
		assert.ErrorIs(t, err, fulfillment.ErrTransactionNotFound)
	})
}

func TestVoucherEmailQueue(t *testing.T) {
	t.Run("queued delivery is sent by the worker", func(t *testing.T) {
		f := setup(t)
		ctx := testutil.TestContext(t)
		queue := &fakeQueue{}
		f.svc.WithQueue(queue)
		testutil.CreateTestVoucher(t, f.db, f.project.ID, "Q-1")
		txn := testutil.CreateTestTransaction(t, f.db, f.project, f.salesperson, testutil.CreateTestCustomer(t, f.db))

		_, err := f.svc.CompletePayment(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{txn.ID}, queue.ids)
		assert.Empty(t, f.mailer.sent)
		assert.Equal(t, models.FulfillmentPending, f.transaction(t, txn.ID).FulfillmentStatus)

		require.NoError(t, f.svc.DeliverVoucher(ctx, txn.ID))
		require.NoError(t, f.svc.DeliverVoucher(ctx, txn.ID))
		assert.Len(t, f.mailer.sent, 1)
		assert.Equal(t, models.FulfillmentCompleted, f.transaction(t, txn.ID).FulfillmentStatus)
	})

	t.Run("enqueue failure falls back to inline send", func(t *testing.T) {
		f := setup(t)
		ctx := testutil.TestContext(t)
		f.svc.WithQueue(&fakeQueue{fail: true})
		testutil.CreateTestVoucher(t, f.db, f.project.ID, "Q-2")
		txn := testutil.CreateTestTransaction(t, f.db, f.project, f.salesperson, testutil.CreateTestCustomer(t, f.db))

		_, err := f.svc.CompletePayment(ctx, txn.ID)
		require.NoError(t, err)
		assert.Len(t, f.mailer.sent, 1)
		assert.Equal(t, models.FulfillmentCompleted, f.transaction(t, txn.ID).FulfillmentStatus)
	})

	t.Run("delivery without a code", func(t *testing.T) {
		f := setup(t)
		txn := testutil.CreateTestTransaction(t, f.db, f.project, f.salesperson, testutil.CreateTestCustomer(t, f.db))
		assert.ErrorIs(t, f.svc.DeliverVoucher(testutil.TestContext(t), txn.ID), fulfillment.ErrNoVoucher)
	})
}

func TestCommission(t *testing.T) {
	got := fulfillment.Commission(decimal.RequireFromString("149.99"), decimal.RequireFromString("12.5"))
	assert.Equal(t, "18.75", got.StringFixed(2))
}
