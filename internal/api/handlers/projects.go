package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/api/dto"
	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/projects"
	"github.com/shopspring/decimal"
)

type ProjectHandler struct {
	Base
	projects *projects.Service
}

func NewProjectHandler(b Base, projectService *projects.Service) *ProjectHandler {
	return &ProjectHandler{Base: b, projects: projectService}
}

// List handles GET /api/v1/admin/projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.projects.List(r.Context(), projects.Filter{
		Status:      r.URL.Query().Get("status"),
		ProjectType: r.URL.Query().Get("project_type"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Create handles POST /api/v1/admin/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req projects.CreateInput
	if !decodeJSON(w, r, &req) {
		return
	}

	project, err := h.projects.Create(r.Context(), middleware.SessionFrom(r.Context()).UserID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

// Get handles GET /api/v1/admin/projects/{id}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	project, err := h.projects.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, project)
}

// Update handles PUT /api/v1/admin/projects/{id}
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req projects.UpdateInput
	if !decodeJSON(w, r, &req) {
		return
	}

	project, err := h.projects.Update(r.Context(), middleware.SessionFrom(r.Context()).UserID, id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, project)
}

// ListAssignments handles GET /api/v1/admin/projects/{id}/assignments
func (h *ProjectHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	assignments, err := h.projects.ListAssignments(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, assignments)
}

type assignRequest struct {
	SalespersonID uuid.UUID `json:"salesperson_id"`
}

// Assign handles POST /api/v1/admin/projects/{id}/assignments
func (h *ProjectHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req assignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SalespersonID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Validation failed",
			Details: map[string]string{"salesperson_id": "Salesperson is required"},
		})
		return
	}

	result, err := h.projects.Assign(r.Context(), middleware.SessionFrom(r.Context()).UserID, id, req.SalespersonID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Reactivated {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// Unassign handles DELETE /api/v1/admin/projects/{id}/assignments/{assignmentId}
func (h *ProjectHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	assignmentID, ok := pathUUID(w, r, "assignmentId")
	if !ok {
		return
	}

	if err := h.projects.Unassign(r.Context(), middleware.SessionFrom(r.Context()).UserID, id, assignmentID); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Assignment deactivated"})
}

// MyProjects handles GET /api/v1/sales/my-projects
func (h *ProjectHandler) MyProjects(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.projects.ListForSalesperson(r.Context(), middleware.SessionFrom(r.Context()).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

type qrRequest struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
}

// QRCode handles POST /api/v1/qr
func (h *ProjectHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	var req qrRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AssignmentID == uuid.Nil {
		badRequest(w, "assignment_id is required")
		return
	}

	session := middleware.SessionFrom(r.Context())
	qr, err := h.projects.QRCode(r.Context(), req.AssignmentID, session.UserID, session.IsAdmin())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, qr)
}

// QRCodeImage handles GET /api/v1/qr?assignment_id= and serves the PNG as a
// download.
func (h *ProjectHandler) QRCodeImage(w http.ResponseWriter, r *http.Request) {
	id, ok := queryUUID(w, r, "assignment_id")
	if !ok {
		return
	}
	if id == uuid.Nil {
		badRequest(w, "assignment_id is required")
		return
	}

	session := middleware.SessionFrom(r.Context())
	png, err := h.projects.QRCodePNG(r.Context(), id, session.UserID, session.IsAdmin())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeAttachment(w, "image/png", "qr-"+id.String()+".png", png)
}

// FormView is what the public order form needs. It leaves out the
// salesperson's contact details.
type FormView struct {
	ProjectID       uuid.UUID       `json:"project_id"`
	ProjectName     string          `json:"project_name"`
	ProjectType     string          `json:"project_type"`
	Description     string          `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	SalespersonID   uuid.UUID       `json:"salesperson_id"`
	SalespersonName string          `json:"salesperson_name"`
}

// ResolveForm handles GET /api/v1/forms/{projectSlug}/{salespersonSlug}
func (h *ProjectHandler) ResolveForm(w http.ResponseWriter, r *http.Request) {
	assignment, err := h.projects.ResolveForm(r.Context(), chi.URLParam(r, "projectSlug"), chi.URLParam(r, "salespersonSlug"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	view := FormView{
		ProjectID:     assignment.ProjectID,
		ProjectName:   assignment.Project.Name,
		ProjectType:   string(assignment.Project.ProjectType),
		Description:   assignment.Project.Description,
		Price:         assignment.Project.Price,
		SalespersonID: assignment.SalespersonID,
	}
	if assignment.Salesperson != nil {
		view.SalespersonName = assignment.Salesperson.Name
	}

	writeJSON(w, http.StatusOK, view)
}
