package handlers

import (
	"io"
	"net/http"

	"github.com/hugh/salesdesk/internal/fulfillment"
)

const maxWebhookBytes = 64 << 10

type FormHandler struct {
	Base
	fulfillment *fulfillment.Service
}

func NewFormHandler(b Base, fulfillmentService *fulfillment.Service) *FormHandler {
	return &FormHandler{Base: b, fulfillment: fulfillmentService}
}

// Submit handles POST /api/v1/forms/submit
func (h *FormHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req fulfillment.FormSubmission
	if !decodeJSON(w, r, &req) {
		return
	}

	checkout, err := h.fulfillment.SubmitForm(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, checkout)
}

type webhookResponse struct {
	Received bool `json:"received"`
	*fulfillment.WebhookResult
}

// Webhook handles POST /api/v1/stripe/webhook. Failures while completing a
// sale are acknowledged with 200 and reported in the body.
func (h *FormHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		badRequest(w, "Invalid request body")
		return
	}

	result, err := h.fulfillment.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if result.Error != "" {
		h.Logger.Warn("webhook acknowledged with error", "event_id", result.EventID, "error", result.Error)
	}
	writeJSON(w, http.StatusOK, webhookResponse{Received: true, WebhookResult: result})
}
