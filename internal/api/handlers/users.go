package handlers

import (
	"net/http"

	"github.com/hugh/salesdesk/internal/api/dto"
	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/users"
)

type UserHandler struct {
	Base
	users *users.Service
}

func NewUserHandler(b Base, userService *users.Service) *UserHandler {
	return &UserHandler{Base: b, users: userService}
}

// List handles GET /api/v1/admin/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	q := r.URL.Query()

	list, total, err := h.users.List(r.Context(), users.Filter{
		Role:    q.Get("role"),
		Status:  q.Get("status"),
		Search:  q.Get("search"),
		Page:    p.Page,
		PerPage: p.PerPage,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.Paginate(usersToDTO(list), total, p))
}

// Get handles GET /api/v1/admin/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userToDTO(user))
}

// PendingSignups handles GET /api/v1/admin/signups
func (h *UserHandler) PendingSignups(w http.ResponseWriter, r *http.Request) {
	signups, err := h.users.PendingSignups(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signups)
}

// Approve handles POST /api/v1/admin/signups/{id}/approve
func (h *UserHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	user, err := h.users.Approve(r.Context(), middleware.SessionFrom(r.Context()).UserID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userToDTO(user))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /api/v1/admin/signups/{id}/reject
func (h *UserHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req rejectRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.Reject(r.Context(), middleware.SessionFrom(r.Context()).UserID, id, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userToDTO(user))
}

// Suspend handles POST /api/v1/admin/users/{id}/suspend
func (h *UserHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	user, err := h.users.Suspend(r.Context(), middleware.SessionFrom(r.Context()).UserID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userToDTO(user))
}

// Activate handles POST /api/v1/admin/users/{id}/activate
func (h *UserHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	user, err := h.users.Activate(r.Context(), middleware.SessionFrom(r.Context()).UserID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userToDTO(user))
}

type roleRequest struct {
	Role string `json:"role"`
}

// UpdateRole handles PUT /api/v1/admin/users/{id}/role
func (h *UserHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.UpdateRole(r.Context(), middleware.SessionFrom(r.Context()).UserID, id, req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userToDTO(user))
}

type departmentRequest struct {
	Department string `json:"department"`
}

// UpdateDepartment handles PUT /api/v1/admin/users/{id}/department
func (h *UserHandler) UpdateDepartment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req departmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.UpdateDepartment(r.Context(), middleware.SessionFrom(r.Context()).UserID, id, req.Department)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userToDTO(user))
}

// ListEmployeeIDs handles GET /api/v1/admin/employee-ids
func (h *UserHandler) ListEmployeeIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := h.users.ListEmployeeIDs(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// CreateEmployeeID handles POST /api/v1/admin/employee-ids
func (h *UserHandler) CreateEmployeeID(w http.ResponseWriter, r *http.Request) {
	var req users.EmployeeIDInput
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.users.CreateEmployeeID(r.Context(), middleware.SessionFrom(r.Context()).UserID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, id)
}

// RevokeEmployeeID handles DELETE /api/v1/admin/employee-ids/{id}
func (h *UserHandler) RevokeEmployeeID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.users.RevokeEmployeeID(r.Context(), middleware.SessionFrom(r.Context()).UserID, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Employee ID revoked"})
}
