package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"dispatch/internal/repository"
)

// Store is a PostgreSQL implementation of repository.Store.
type Store struct {
	db *sql.DB
	q  Querier
}

// NewStore creates a Store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Requests() repository.RequestRepository { return &RequestRepository{q: s.q} }
func (s *Store) Drivers() repository.DriverRepository   { return &DriverRepository{q: s.q} }
func (s *Store) Credits() repository.CreditRepository   { return &CreditRepository{q: s.q} }
func (s *Store) Offers() repository.OfferRepository     { return &OfferRepository{q: s.q} }
func (s *Store) Bidding() repository.BiddingRepository  { return &BiddingRepository{q: s.q} }
func (s *Store) Escrows() repository.EscrowRepository   { return &EscrowRepository{q: s.q} }
func (s *Store) Wallets() repository.WalletRepository   { return &WalletRepository{q: s.q} }

func (s *Store) Notifications() repository.NotificationRepository {
	return &NotificationRepository{q: s.q}
}

// WithTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var _ repository.Store = (*Store)(nil)
