package domain

import "time"

// EscrowStatus represents the state of held funds.
type EscrowStatus string

const (
	EscrowStatusHeld        EscrowStatus = "held"
	EscrowStatusPendingCash EscrowStatus = "pending_cash"
	EscrowStatusReleased    EscrowStatus = "released"
)

// Escrow holds funds against a request until the buyer confirms completion.
type Escrow struct {
	ID          string
	RequestID   string
	BuyerID     string
	SellerID    string
	Amount      int64
	PlatformFee int64
	NetAmount   int64
	Currency    string
	Status      EscrowStatus
	ExternalRef string
	CreatedAt   time.Time
	ReleasedAt  time.Time
}

// NetPayable returns the counterparty's share of amount after the platform fee.
func NetPayable(amount, fee int64) int64 {
	return amount - fee
}
