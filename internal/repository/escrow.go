package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// EscrowRepository defines the persistence operations for escrow records.
type EscrowRepository interface {
	// Create persists a new escrow. Returns ErrDuplicate if the request already has one.
	Create(ctx context.Context, escrow *domain.Escrow) error

	// GetByRequestID retrieves the escrow held against a request.
	GetByRequestID(ctx context.Context, requestID string) (*domain.Escrow, error)

	// MarkReleased flips a held or pending-cash escrow to released.
	MarkReleased(ctx context.Context, requestID string, at time.Time) (bool, error)
}

// WalletRepository defines the persistence operations for wallets and their ledger.
type WalletRepository interface {
	// GetOrCreate returns the owner's wallet in currency, creating an empty one if missing.
	GetOrCreate(ctx context.Context, ownerID, currency string) (*domain.Wallet, error)

	// Credit adds amount to a wallet and returns the balance before and after.
	Credit(ctx context.Context, walletID string, amount int64) (before, after int64, err error)

	// RecordTransaction appends a ledger entry.
	RecordTransaction(ctx context.Context, txn *domain.WalletTransaction) error
}

// NotificationRepository persists outbound notifications.
type NotificationRepository interface {
	// Create persists a notification.
	Create(ctx context.Context, n *domain.Notification) error
}
