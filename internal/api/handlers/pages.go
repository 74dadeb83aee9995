package handlers

import (
	"net/http"
	"strings"

	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/web"
)

type PageHandler struct {
	Base
	pages web.Pages
}

func NewPageHandler(b Base, pages web.Pages) *PageHandler {
	return &PageHandler{Base: b, pages: pages}
}

// SafeCallback keeps post-login redirects on this site. Anything that is not
// a local absolute path is dropped.
func SafeCallback(raw string) string {
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	return raw
}

// Login handles GET /login
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "login.html", map[string]string{
		"CallbackURL": SafeCallback(r.URL.Query().Get("callbackUrl")),
	})
}

// ResetPassword handles GET /reset-password, the page a reset email links to.
func (h *PageHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "reset-password.html", map[string]string{
		"Token": r.URL.Query().Get("token"),
	})
}

// VerifyEmail handles GET /verify-email. The page redeems the token itself
// so a mail scanner fetching the link does not use it up.
func (h *PageHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "verify-email.html", map[string]string{
		"Token": r.URL.Query().Get("token"),
	})
}

// Unauthorized handles GET /unauthorized
func (h *PageHandler) Unauthorized(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusForbidden, "unauthorized.html", nil)
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, name string, data interface{}) {
	if h.pages == nil {
		http.Error(w, "Templates not loaded", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.pages.Render(w, name, data); err != nil {
		h.Logger.Error("failed to render page", "page", name, "error", err)
	}
}

var portalAreas = map[string]string{
	"admin":     "Administration",
	"staff":     "Staff portal",
	"affiliate": "Affiliate portal",
	"sales":     "Sales portal",
}

// Portal handles GET /{area} for the role portals. The gate has already
// checked the session.
func (h *PageHandler) Portal(area string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := middleware.SessionFrom(r.Context())
		if session == nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		h.render(w, r, http.StatusOK, "portal.html", map[string]string{
			"Area":  portalAreas[area],
			"Email": session.Email,
			"Role":  string(session.Role),
		})
	}
}

// Home handles GET / by sending the visitor to their portal or the login
// page.
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFrom(r.Context())
	if session == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	http.Redirect(w, r, homeFor(session.Role), http.StatusFound)
}
