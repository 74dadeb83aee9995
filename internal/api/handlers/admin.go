package handlers

import (
	"net/http"

	"github.com/hugh/salesdesk/internal/api/dto"
	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/settings"
)

// AdminHandler serves the audit trail and application settings.
type AdminHandler struct {
	Base
	audit    *audit.Log
	settings *settings.Service
}

func NewAdminHandler(b Base, auditLog *audit.Log, settingsService *settings.Service) *AdminHandler {
	return &AdminHandler{Base: b, audit: auditLog, settings: settingsService}
}

// AuditLogs handles GET /api/v1/admin/audit-logs
func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUUID(w, r, "user_id")
	if !ok {
		return
	}
	p := pagination(r)

	logs, total, err := h.audit.List(r.Context(), audit.Filter{
		Action:  r.URL.Query().Get("action"),
		UserID:  userID,
		Page:    p.Page,
		PerPage: p.PerPage,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.Paginate(logs, total, p))
}

// Settings handles GET /api/v1/admin/settings. Secret values are masked.
func (h *AdminHandler) Settings(w http.ResponseWriter, r *http.Request) {
	views, err := h.settings.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type settingRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// UpdateSetting handles PUT /api/v1/admin/settings
func (h *AdminHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.settings.Set(r.Context(), middleware.SessionFrom(r.Context()).UserID, req.Key, req.Value); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Setting updated"})
}
