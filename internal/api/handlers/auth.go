package handlers

import (
	"net/http"
	"time"

	"github.com/hugh/salesdesk/internal/api/dto"
	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/users"
)

type AuthHandler struct {
	Base
	auth         auth.Authenticator
	users        *users.Service
	cookieMaxAge time.Duration
}

func NewAuthHandler(b Base, authService auth.Authenticator, userService *users.Service, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{Base: b, auth: authService, users: userService, cookieMaxAge: sessionTTL}
}

// homeFor is where a freshly signed-in user lands.
func homeFor(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return "/admin"
	case models.RoleAffiliate:
		return "/affiliate"
	default:
		return "/staff"
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   !h.Debug,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errors})
		return
	}

	resp, err := h.auth.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookie(w, resp.Token, int(h.cookieMaxAge.Seconds()))

	writeJSON(w, http.StatusOK, dto.AuthResponse{
		Token:    resp.Token,
		User:     userToDTO(resp.User),
		Redirect: homeFor(resp.User.Role),
	})
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Logged out"})
}

// ForgotPassword handles POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ForgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "If an account exists, a password reset link has been sent."})
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errors})
		return
	}

	if err := h.users.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Password updated. You can now sign in."})
}

// VerifyEmail handles POST /api/v1/auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg := "Email verified."
	if user.Status == models.UserStatusPending {
		msg = "Email verified. Your account is now pending admin approval."
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: msg})
}

// SignupStaff handles POST /api/v1/auth/signup/staff
func (h *AuthHandler) SignupStaff(w http.ResponseWriter, r *http.Request) {
	var req users.StaffSignup
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.SignupStaff(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.SignupResponse{
		Message: "Signup received. An administrator will review your account.",
		User:    userToDTO(user),
	})
}

// SignupAffiliate handles POST /api/v1/auth/signup/affiliate
func (h *AuthHandler) SignupAffiliate(w http.ResponseWriter, r *http.Request) {
	var req users.AffiliateSignup
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.SignupAffiliate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.SignupResponse{
		Message: "Signup received. An administrator will review your account.",
		User:    userToDTO(user),
	})
}

// Me handles GET /api/v1/me. It reads the stored user so fields changed
// since login are current, while access is still decided by the session.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFrom(r.Context())
	if session == nil {
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Unauthorized"})
		return
	}

	user, err := h.auth.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userToDTO(user))
}
