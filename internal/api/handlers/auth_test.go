package handlers_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/hugh/salesdesk/internal/api/dto"
	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHandler_Login(t *testing.T) {
	e := newEnv(t)

	t.Run("admin signs in and gets a session cookie", func(t *testing.T) {
		rr := e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"email":    e.Admin.Email,
			"password": testutil.TestPassword,
		}, "")
		testutil.AssertStatus(t, rr, http.StatusOK)

		var resp dto.AuthResponse
		testutil.ParseJSONResponse(t, rr, &resp)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "/admin", resp.Redirect)
		assert.Equal(t, "admin", resp.User.Role)

		var cookie *http.Cookie
		for _, c := range rr.Result().Cookies() {
			if c.Name == middleware.SessionCookie {
				cookie = c
			}
		}
		require.NotNil(t, cookie)
		assert.Equal(t, resp.Token, cookie.Value)
		assert.True(t, cookie.HttpOnly)
	})

	t.Run("affiliate lands on the affiliate portal", func(t *testing.T) {
		affiliate := testutil.CreateTestAffiliate(t, e.DB)
		rr := e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"email":    affiliate.Email,
			"password": testutil.TestPassword,
		}, "")
		testutil.AssertStatus(t, rr, http.StatusOK)

		var resp dto.AuthResponse
		testutil.ParseJSONResponse(t, rr, &resp)
		assert.Equal(t, "/affiliate", resp.Redirect)
	})

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantError  string
	}{
		{
			name:       "wrong password",
			body:       map[string]string{"email": e.Admin.Email, "password": "nope-nope1"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid email or password",
		},
		{
			name:       "missing password",
			body:       map[string]string{"email": e.Admin.Email},
			wantStatus: http.StatusBadRequest,
			wantError:  "Validation failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, http.MethodPost, "/api/v1/auth/login", tt.body, "")
			testutil.AssertStatus(t, rr, tt.wantStatus)

			var resp dto.ErrorResponse
			testutil.ParseJSONResponse(t, rr, &resp)
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}

	t.Run("pending account is refused with its status", func(t *testing.T) {
		pending := testutil.CreateTestAffiliate(t, e.DB, testutil.WithStatus(models.UserStatusPending))
		rr := e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"email":    pending.Email,
			"password": testutil.TestPassword,
		}, "")
		testutil.AssertStatus(t, rr, http.StatusForbidden)
		assert.Contains(t, rr.Body.String(), "pending admin approval")
	})
}

func TestAuthHandler_Logout(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/v1/auth/logout", nil, "")
	testutil.AssertStatus(t, rr, http.StatusOK)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookie, cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestAuthHandler_Me(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/v1/me", nil, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var me dto.UserDTO
	testutil.ParseJSONResponse(t, rr, &me)
	assert.Equal(t, e.Admin.ID.String(), me.ID)

	rr = e.do(t, http.MethodGet, "/api/v1/me", nil, "")
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
}

func TestAuthHandler_SignupAffiliate(t *testing.T) {
	e := newEnv(t)

	body := map[string]string{
		"email":    "new.seller@example.com",
		"password": "s3cretpass",
		"name":     "New Seller",
	}

	rr := e.do(t, http.MethodPost, "/api/v1/auth/signup/affiliate", body, "")
	testutil.AssertStatus(t, rr, http.StatusCreated)

	var resp dto.SignupResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, "pending", resp.User.Status)
	assert.Equal(t, "affiliate", resp.User.Role)

	rr = e.do(t, http.MethodPost, "/api/v1/auth/signup/affiliate", body, "")
	testutil.AssertStatus(t, rr, http.StatusConflict)

	rr = e.do(t, http.MethodPost, "/api/v1/auth/signup/affiliate", map[string]string{"email": "x@example.com"}, "")
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	e := newEnv(t)
	affiliate := testutil.CreateTestAffiliate(t, e.DB)

	rr := e.do(t, http.MethodGet, "/api/v1/admin/users", nil, e.TokenFor(t, affiliate))
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	rr = e.do(t, http.MethodGet, "/api/v1/admin/users", nil, "")
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	rr = e.do(t, http.MethodGet, "/api/v1/admin/users?role=affiliate", nil, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var page dto.PaginatedResponse
	testutil.ParseJSONResponse(t, rr, &page)
	assert.Equal(t, int64(1), page.Total)
}

func TestUserHandler_ReviewSignup(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/v1/auth/signup/affiliate", map[string]string{
		"email":    "review.me@example.com",
		"password": "s3cretpass",
		"name":     "Review Me",
	}, "")
	testutil.AssertStatus(t, rr, http.StatusCreated)

	rr = e.do(t, http.MethodGet, "/api/v1/admin/signups", nil, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var signups []models.SignupRequest
	testutil.ParseJSONResponse(t, rr, &signups)
	require.Len(t, signups, 1)

	rr = e.do(t, http.MethodPost, "/api/v1/admin/signups/"+signups[0].ID.String()+"/approve", nil, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var user dto.UserDTO
	testutil.ParseJSONResponse(t, rr, &user)
	assert.Equal(t, "active", user.Status)

	rr = e.do(t, http.MethodPost, "/api/v1/admin/signups/"+signups[0].ID.String()+"/reject", map[string]string{"reason": "late"}, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusConflict)

	rr = e.do(t, http.MethodPost, "/api/v1/admin/signups/not-a-uuid/approve", nil, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestUserHandler_UpdateRole(t *testing.T) {
	e := newEnv(t)
	staff := testutil.CreateTestUser(t, e.DB)

	rr := e.do(t, http.MethodPut, "/api/v1/admin/users/"+staff.ID.String()+"/role", map[string]string{"role": "affiliate"}, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = e.do(t, http.MethodPut, "/api/v1/admin/users/"+staff.ID.String()+"/role", map[string]string{"role": "owner"}, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = e.do(t, http.MethodPut, "/api/v1/admin/users/"+e.Admin.ID.String()+"/role", map[string]string{"role": "staff"}, e.AdminToken)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

// mailedToken returns the token from the newest mailed link to path.
func (e *env) mailedToken(t *testing.T, path string) string {
	t.Helper()
	e.mail.mu.Lock()
	defer e.mail.mu.Unlock()
	marker := path + "?token="
	for i := len(e.mail.sent) - 1; i >= 0; i-- {
		if at := strings.Index(e.mail.sent[i].Body, marker); at >= 0 {
			return strings.Fields(e.mail.sent[i].Body[at+len(marker):])[0]
		}
	}
	t.Fatalf("no %s link was mailed", path)
	return ""
}

func TestAuthHandler_PasswordReset(t *testing.T) {
	e := newEnv(t)
	user := testutil.CreateTestUser(t, e.DB)

	rr := e.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "ghost@example.com"}, "")
	testutil.AssertStatus(t, rr, http.StatusOK)
	unknown := rr.Body.String()

	rr = e.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": user.Email}, "")
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, unknown, rr.Body.String(), "reply does not reveal whether the account exists")
	token := e.mailedToken(t, "/reset-password")

	rr = e.do(t, http.MethodGet, "/reset-password?token="+token, nil, "")
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, rr.Body.String(), token)

	rr = e.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{"token": token}, "")
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = e.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{"token": token, "password": "brandnew99"}, "")
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": user.Email, "password": "brandnew99"}, "")
	testutil.AssertStatus(t, rr, http.StatusOK)

	t.Run("reused link", func(t *testing.T) {
		rr := e.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{"token": token, "password": "again1234"}, "")
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		var resp dto.ErrorResponse
		testutil.ParseJSONResponse(t, rr, &resp)
		assert.Equal(t, "Invalid or expired link", resp.Error)
	})
}

func TestAuthHandler_VerifyEmail(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/v1/auth/signup/affiliate", map[string]string{
		"email":    "newbie@example.com",
		"password": "partner123",
		"name":     "Newbie",
	}, "")
	testutil.AssertStatus(t, rr, http.StatusCreated)
	token := e.mailedToken(t, "/verify-email")

	rr = e.do(t, http.MethodGet, "/verify-email?token="+token, nil, "")
	testutil.AssertStatus(t, rr, http.StatusOK)

	var user models.User
	require.NoError(t, e.DB.First(&user, "email = ?", "newbie@example.com").Error)
	assert.False(t, user.EmailVerified, "viewing the page alone does not redeem the token")

	rr = e.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": token}, "")
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, rr.Body.String(), "pending admin approval")

	require.NoError(t, e.DB.First(&user, "email = ?", "newbie@example.com").Error)
	assert.True(t, user.EmailVerified)

	rr = e.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": token}, "")
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = e.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": "unknown"}, "")
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}
