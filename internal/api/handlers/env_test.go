package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/api"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/customers"
	"github.com/hugh/salesdesk/internal/fulfillment"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/internal/payments"
	"github.com/hugh/salesdesk/internal/projects"
	"github.com/hugh/salesdesk/internal/sales"
	"github.com/hugh/salesdesk/internal/settings"
	"github.com/hugh/salesdesk/internal/storage"
	"github.com/hugh/salesdesk/internal/testutil"
	"github.com/hugh/salesdesk/internal/training"
	"github.com/hugh/salesdesk/internal/users"
	"github.com/hugh/salesdesk/internal/vouchers"
	"github.com/hugh/salesdesk/internal/web"
	"github.com/hugh/salesdesk/pkg/config"
	"github.com/hugh/salesdesk/pkg/crypto"
	"github.com/hugh/salesdesk/pkg/util"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://desk.example.com"

type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (o *outbox) Send(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

// gateway accepts the signature "valid" and reads metadata straight from
// the payload.
type gateway struct{}

func (gateway) CreateCheckout(_ context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	return &payments.CheckoutSession{ID: "cs_test", URL: "https://pay.example.com/cs_test"}, nil
}

func (gateway) ParseEvent(payload []byte, signature string) (*payments.Event, error) {
	if signature != "valid" {
		return nil, payments.ErrInvalidSignature
	}
	var event payments.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

type env struct {
	*testutil.TestSetup
	router http.Handler
	mail   *outbox
}

func newEnv(t *testing.T) *env {
	t.Helper()

	tc := testutil.NewTestContext(t)
	t.Cleanup(tc.Cleanup)

	logger := util.DiscardLogger()
	mail := &outbox{}

	store, err := storage.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	encryptor, err := crypto.NewEncryptor("")
	require.NoError(t, err)
	pages, err := web.LoadTemplates()
	require.NoError(t, err)

	auditLog := audit.NewLog(tc.DB, logger)
	inventory := vouchers.NewService(tc.DB, store, auditLog, logger, 5<<20)

	router := api.NewRouter(api.RouterConfig{
		DB:         tc.DB,
		Logger:     logger,
		JWTService: tc.JWTService,
		Pages:      pages,

		AuthService: auth.NewService(tc.DB, tc.JWTService),
		UserService: users.NewService(tc.DB, notify.Inline{Mailer: mail}, auditLog, logger, users.Options{
			StaffEmailDomain: "example.com",
			BaseURL:          baseURL,
		}),
		ProjectService:     projects.NewService(tc.DB, store, auditLog, logger, baseURL),
		VoucherService:     inventory,
		FulfillmentService: fulfillment.NewService(tc.DB, inventory, gateway{}, mail, auditLog, logger, baseURL),
		TrainingService:    training.NewService(tc.DB, auditLog, logger),
		SalesService:       sales.NewService(tc.DB),
		CustomerService:    customers.NewService(tc.DB, auditLog, logger),
		SettingsService:    settings.NewService(tc.DB, encryptor, &config.StripeConfig{Mode: "test"}, auditLog),
		AuditLog:           auditLog,

		MaxUploadBytes: 5 << 20,
	})

	return &env{TestSetup: tc, router: router, mail: mail}
}

func (e *env) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, method, path, body, token))
	return rr
}

func (e *env) doRaw(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func rawRequest(method, path string, body []byte) *http.Request {
	return httptest.NewRequest(method, path, bytes.NewReader(body))
}

func idOf(t *testing.T, rr *httptest.ResponseRecorder) uuid.UUID {
	t.Helper()
	var v struct {
		ID uuid.UUID `json:"id"`
	}
	testutil.ParseJSONResponse(t, rr, &v)
	require.NotEqual(t, uuid.Nil, v.ID)
	return v.ID
}
