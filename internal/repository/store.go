package repository

import "context"

// Store groups the repositories and runs units of work atomically.
type Store interface {
	Requests() RequestRepository
	Drivers() DriverRepository
	Credits() CreditRepository
	Offers() OfferRepository
	Bidding() BiddingRepository
	Escrows() EscrowRepository
	Wallets() WalletRepository
	Notifications() NotificationRepository

	// WithTx runs fn against a Store bound to a single transaction. The
	// transaction commits if fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
