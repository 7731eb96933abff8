package payment

import "context"

// Gateway authorises and captures escrow funding with an external provider.
type Gateway interface {
	// Authorize places a hold for amount and returns the provider reference.
	Authorize(ctx context.Context, requestID string, amount int64, currency string) (string, error)

	// Capture settles a previously authorised hold. Capturing an already
	// captured reference succeeds.
	Capture(ctx context.Context, ref string) error
}

// NoopGateway is used when no provider is configured. Funds are tracked only
// in the escrow ledger.
type NoopGateway struct{}

// Authorize returns an empty reference.
func (NoopGateway) Authorize(context.Context, string, int64, string) (string, error) { return "", nil }

// Capture does nothing.
func (NoopGateway) Capture(context.Context, string) error { return nil }
