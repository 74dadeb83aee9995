package handlers

import (
	"net/http"

	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/sales"
)

type SalesHandler struct {
	Base
	sales *sales.Service
}

func NewSalesHandler(b Base, salesService *sales.Service) *SalesHandler {
	return &SalesHandler{Base: b, sales: salesService}
}

// Dashboard handles GET /api/v1/sales/dashboard?from=&to=
func (h *SalesHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	from, ok := queryTime(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryTime(w, r, "to")
	if !ok {
		return
	}

	var period sales.Period
	if from != nil {
		period.From = *from
	}
	if to != nil {
		period.To = *to
	}

	dashboard, err := h.sales.Dashboard(r.Context(), middleware.SessionFrom(r.Context()).UserID, period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboard)
}
