// Package payments wraps the card processor used by the public payment form.
package payments

import (
	"context"

	"github.com/hugh/salesdesk/pkg/apperr"
)

// EventPaymentSucceeded is the only event type fulfillment acts on.
const EventPaymentSucceeded = "payment_intent.succeeded"

var ErrInvalidSignature = apperr.Validation("Webhook signature verification failed", nil)

type CheckoutRequest struct {
	PriceID       string
	CustomerEmail string
	Metadata      map[string]string
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Event is a verified webhook notification. Metadata carries what was
// attached to the checkout, including transaction_id.
type Event struct {
	ID       string
	Type     string
	Metadata map[string]string
}

type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ParseEvent(payload []byte, signature string) (*Event, error)
}

// KeyResolver returns the API key for the currently selected mode.
type KeyResolver interface {
	StripeSecretKey(ctx context.Context) (string, error)
}
