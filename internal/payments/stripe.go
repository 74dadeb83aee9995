package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const checkoutTTL = 30 * time.Minute

type StripeGateway struct {
	keys          KeyResolver
	webhookSecret string
}

func NewStripeGateway(keys KeyResolver, webhookSecret string) *StripeGateway {
	return &StripeGateway{keys: keys, webhookSecret: webhookSecret}
}

// CreateCheckout opens a hosted checkout for a single unit of the price.
// The metadata is copied onto the payment intent so it comes back on the
// payment_intent.succeeded webhook.
func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	key, err := g.keys.StripeSecretKey(ctx)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		CustomerEmail: stripe.String(req.CustomerEmail),
		SuccessURL:    stripe.String(req.SuccessURL),
		CancelURL:     stripe.String(req.CancelURL),
		ExpiresAt:     stripe.Int64(time.Now().Add(checkoutTTL).Unix()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sc := client.New(strings.TrimSpace(key), nil)
	session, err := sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("creating checkout session: %w", err)
	}
	if session.URL == "" {
		return nil, errors.New("checkout session has no URL")
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	if signature == "" || g.webhookSecret == "" {
		return nil, ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, ErrInvalidSignature
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if out.Type == EventPaymentSucceeded && event.Data != nil {
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("decoding payment intent: %w", err)
		}
		out.Metadata = intent.Metadata
	}
	return out, nil
}
