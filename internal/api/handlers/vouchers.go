package handlers

import (
	"net/http"
	"strconv"

	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/vouchers"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type VoucherHandler struct {
	Base
	vouchers  *vouchers.Service
	maxUpload int64
}

func NewVoucherHandler(b Base, voucherService *vouchers.Service, maxUpload int64) *VoucherHandler {
	return &VoucherHandler{Base: b, vouchers: voucherService, maxUpload: maxUpload}
}

func voucherQuery(r *http.Request) vouchers.Query {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return vouchers.Query{
		ProductName: q.Get("product_name"),
		Status:      q.Get("status"),
		Search:      q.Get("search"),
		Page:        page,
		Limit:       limit,
	}
}

// List handles GET /api/v1/admin/projects/{id}/vouchers. view=summary
// returns counts instead of rows.
func (h *VoucherHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	switch r.URL.Query().Get("view") {
	case "", "list":
		page, err := h.vouchers.List(r.Context(), projectID, voucherQuery(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case "summary":
		summary, err := h.vouchers.Summary(r.Context(), projectID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	default:
		badRequest(w, "view must be list or summary")
	}
}

// Upload handles POST /api/v1/admin/projects/{id}/vouchers/upload with a
// multipart "file" field and an optional "product_name".
func (h *VoucherHandler) Upload(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	// Leave room for the other form fields so an oversized file still
	// reaches the service and gets its specific message.
	r.Body = http.MaxBytesReader(w, r.Body, 2*h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		badRequest(w, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "No file provided")
		return
	}
	defer file.Close()

	result, err := h.vouchers.Import(r.Context(), projectID, middleware.SessionFrom(r.Context()).UserID,
		vouchers.ImportFile{Name: header.Filename, Size: header.Size, Body: file},
		r.FormValue("product_name"),
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Add handles POST /api/v1/admin/projects/{id}/vouchers/add
func (h *VoucherHandler) Add(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req vouchers.AddInput
	if !decodeJSON(w, r, &req) {
		return
	}

	code, err := h.vouchers.Add(r.Context(), projectID, middleware.SessionFrom(r.Context()).UserID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, code)
}

// Revoke handles POST /api/v1/admin/projects/{id}/vouchers/{voucherId}/revoke
func (h *VoucherHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	voucherID, ok := pathUUID(w, r, "voucherId")
	if !ok {
		return
	}

	code, err := h.vouchers.Revoke(r.Context(), projectID, voucherID, middleware.SessionFrom(r.Context()).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, code)
}

// Export handles GET /api/v1/admin/projects/{id}/vouchers/export
func (h *VoucherHandler) Export(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	buf, filename, err := h.vouchers.Export(r.Context(), projectID, voucherQuery(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeAttachment(w, xlsxContentType, filename, buf.Bytes())
}

