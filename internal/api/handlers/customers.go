package handlers

import (
	"net/http"

	"github.com/hugh/salesdesk/internal/api/dto"
	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/customers"
)

type CustomerHandler struct {
	Base
	customers *customers.Service
}

func NewCustomerHandler(b Base, customerService *customers.Service) *CustomerHandler {
	return &CustomerHandler{Base: b, customers: customerService}
}

// List handles GET /api/v1/admin/customers
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := queryUUID(w, r, "project_id")
	if !ok {
		return
	}
	p := pagination(r)

	list, total, err := h.customers.List(r.Context(), customers.Filter{
		Search:    r.URL.Query().Get("search"),
		ProjectID: projectID,
		Page:      p.Page,
		PerPage:   p.PerPage,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.Paginate(list, total, p))
}

// Create handles POST /api/v1/admin/customers
func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req customers.CreateInput
	if !decodeJSON(w, r, &req) {
		return
	}

	customer, err := h.customers.Create(r.Context(), middleware.SessionFrom(r.Context()).UserID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, customer)
}

// Export handles GET /api/v1/admin/customers/export?project_id=&from=&to=
func (h *CustomerHandler) Export(w http.ResponseWriter, r *http.Request) {
	projectID, ok := queryUUID(w, r, "project_id")
	if !ok {
		return
	}
	from, ok := queryTime(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryTime(w, r, "to")
	if !ok {
		return
	}

	buf, filename, err := h.customers.ExportCSV(r.Context(), middleware.SessionFrom(r.Context()).UserID, customers.ExportFilter{
		ProjectID: projectID,
		From:      from,
		To:        to,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeAttachment(w, "text/csv; charset=utf-8", filename, buf.Bytes())
}
