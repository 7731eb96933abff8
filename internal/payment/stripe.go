package payment

import (
	"context"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// StripeGateway holds escrow funds as manual-capture PaymentIntents.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway creates a gateway authenticated with secretKey.
func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil)}
}

// Authorize creates a PaymentIntent with capture_method=manual.
func (g *StripeGateway) Authorize(ctx context.Context, requestID string, amount int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(strings.ToLower(currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.AddMetadata("request_id", requestID)
	params.SetIdempotencyKey("escrow-hold-" + requestID)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe authorize: %w", err)
	}
	return pi.ID, nil
}

// Capture finalises a held PaymentIntent. An intent that already succeeded is
// treated as captured so retried releases stay idempotent.
func (g *StripeGateway) Capture(ctx context.Context, ref string) error {
	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx
	pi, err := g.api.PaymentIntents.Get(ref, getParams)
	if err != nil {
		return fmt.Errorf("stripe get intent: %w", err)
	}
	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		return nil
	}

	captureParams := &stripe.PaymentIntentCaptureParams{}
	captureParams.Context = ctx
	captureParams.SetIdempotencyKey("escrow-capture-" + ref)
	if _, err := g.api.PaymentIntents.Capture(ref, captureParams); err != nil {
		return fmt.Errorf("stripe capture: %w", err)
	}
	return nil
}

var (
	_ Gateway = (*StripeGateway)(nil)
	_ Gateway = NoopGateway{}
)
