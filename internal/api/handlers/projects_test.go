package handlers_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/hugh/salesdesk/internal/api/handlers"
	"github.com/hugh/salesdesk/internal/projects"
	"github.com/hugh/salesdesk/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectHandler_Lifecycle(t *testing.T) {
	e := newEnv(t)
	seller := testutil.CreateTestAffiliate(t, e.DB, testutil.WithName("Jane Seller"))
	other := testutil.CreateTestAffiliate(t, e.DB)

	rr := e.do(t, http.MethodPost, "/api/v1/admin/projects", map[string]interface{}{
		"name":            "Spring Spa Days",
		"price":           "149.99",
		"commission_rate": "12.5",
		"status":          "active",
		"stripe_price_id": "price_123",
	}, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusCreated)
	projectID := idOf(t, rr)

	t.Run("duplicate name conflicts on slug", func(t *testing.T) {
		rr := e.do(t, http.MethodPost, "/api/v1/admin/projects", map[string]interface{}{
			"name": "spring spa days!",
		}, e.AdminToken)
		testutil.AssertStatus(t, rr, http.StatusConflict)
	})

	t.Run("invalid status is rejected", func(t *testing.T) {
		rr := e.do(t, http.MethodPost, "/api/v1/admin/projects", map[string]interface{}{
			"name":   "Other",
			"status": "archived",
		}, e.AdminToken)
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})

	rr = e.do(t, http.MethodPost, "/api/v1/admin/projects/"+projectID.String()+"/assignments", map[string]string{
		"salesperson_id": seller.ID.String(),
	}, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusCreated)

	var assigned projects.AssignResult
	testutil.ParseJSONResponse(t, rr, &assigned)
	assert.Equal(t, "/form/spring-spa-days/jane-seller", assigned.Assignment.FormURL)

	t.Run("second assignment conflicts", func(t *testing.T) {
		rr := e.do(t, http.MethodPost, "/api/v1/admin/projects/"+projectID.String()+"/assignments", map[string]string{
			"salesperson_id": seller.ID.String(),
		}, e.AdminToken)
		testutil.AssertStatus(t, rr, http.StatusConflict)
	})

	t.Run("public form resolves without contact details", func(t *testing.T) {
		rr := e.do(t, http.MethodGet, "/api/v1/forms/spring-spa-days/jane-seller", nil, "")
		testutil.AssertStatus(t, rr, http.StatusOK)

		var view handlers.FormView
		testutil.ParseJSONResponse(t, rr, &view)
		assert.Equal(t, "Spring Spa Days", view.ProjectName)
		assert.Equal(t, "Jane Seller", view.SalespersonName)
		assert.NotContains(t, rr.Body.String(), seller.Email)

		rr = e.do(t, http.MethodGet, "/api/v1/forms/spring-spa-days/nobody", nil, "")
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})

	t.Run("seller sees the project in my-projects", func(t *testing.T) {
		rr := e.do(t, http.MethodGet, "/api/v1/sales/my-projects", nil, e.TokenFor(t, seller))
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.Contains(t, rr.Body.String(), assigned.Assignment.ID.String())
	})

	t.Run("qr code for owner only", func(t *testing.T) {
		body := map[string]string{"assignment_id": assigned.Assignment.ID.String()}

		rr := e.do(t, http.MethodPost, "/api/v1/qr", body, e.TokenFor(t, seller))
		testutil.AssertStatus(t, rr, http.StatusOK)

		var qr projects.QRCode
		testutil.ParseJSONResponse(t, rr, &qr)
		assert.Equal(t, baseURL+"/form/spring-spa-days/jane-seller", qr.FullURL)
		assert.True(t, strings.HasPrefix(qr.DataURL, "data:image/png;base64,"))

		rr = e.do(t, http.MethodPost, "/api/v1/qr", body, e.TokenFor(t, other))
		testutil.AssertStatus(t, rr, http.StatusForbidden)

		rr = e.do(t, http.MethodGet, "/api/v1/qr?assignment_id="+assigned.Assignment.ID.String(), nil, e.AdminToken)
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
		assert.Contains(t, rr.Header().Get("Content-Disposition"), "attachment")
		require.Greater(t, rr.Body.Len(), 8)
		assert.Equal(t, "\x89PNG", rr.Body.String()[:4])

		rr = e.do(t, http.MethodGet, "/api/v1/qr", nil, e.AdminToken)
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("unassign keeps history", func(t *testing.T) {
		path := "/api/v1/admin/projects/" + projectID.String() + "/assignments/" + assigned.Assignment.ID.String()
		rr := e.do(t, http.MethodDelete, path, nil, e.AdminToken)
		testutil.AssertStatus(t, rr, http.StatusOK)

		rr = e.do(t, http.MethodGet, "/api/v1/admin/projects/"+projectID.String()+"/assignments", nil, e.AdminToken)
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.Contains(t, rr.Body.String(), `"status":"inactive"`)

		rr = e.do(t, http.MethodGet, "/api/v1/forms/spring-spa-days/jane-seller", nil, "")
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})
}
