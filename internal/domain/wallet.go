package domain

import "time"

// WalletTransactionType classifies ledger entries.
type WalletTransactionType string

const (
	WalletTransactionEscrowRelease WalletTransactionType = "escrow_release"
)

// Wallet is a user's balance in minor currency units.
type Wallet struct {
	ID        string
	OwnerID   string
	Balance   int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletTransaction is a ledger entry against a wallet.
type WalletTransaction struct {
	ID            string
	WalletID      string
	RequestID     string
	Type          WalletTransactionType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Description   string
	CreatedAt     time.Time
}
