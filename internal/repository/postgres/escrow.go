package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// EscrowRepository is a PostgreSQL implementation of repository.EscrowRepository.
type EscrowRepository struct {
	q Querier
}

// Create persists a new escrow.
func (r *EscrowRepository) Create(ctx context.Context, e *domain.Escrow) error {
	query := `
		INSERT INTO escrow_transactions (id, request_id, buyer_id, seller_id, amount, platform_fee,
			net_amount, currency, status, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.q.ExecContext(ctx, query,
		e.ID, e.RequestID, e.BuyerID, e.SellerID, e.Amount, e.PlatformFee,
		e.NetAmount, e.Currency, e.Status, nullString(e.ExternalRef), e.CreatedAt,
	)
	return translateError(err)
}

// GetByRequestID retrieves the escrow held against a request.
func (r *EscrowRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.Escrow, error) {
	query := `
		SELECT id, request_id, buyer_id, seller_id, amount, platform_fee, net_amount, currency, status,
			external_ref, created_at, released_at
		FROM escrow_transactions WHERE request_id = $1
	`

	var (
		e           domain.Escrow
		externalRef sql.NullString
		releasedAt  sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, query, requestID).Scan(
		&e.ID,
		&e.RequestID,
		&e.BuyerID,
		&e.SellerID,
		&e.Amount,
		&e.PlatformFee,
		&e.NetAmount,
		&e.Currency,
		&e.Status,
		&externalRef,
		&e.CreatedAt,
		&releasedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}
	e.ExternalRef = externalRef.String
	e.ReleasedAt = releasedAt.Time
	return &e, nil
}

// MarkReleased flips a held or pending-cash escrow to released.
func (r *EscrowRepository) MarkReleased(ctx context.Context, requestID string, at time.Time) (bool, error) {
	query := `
		UPDATE escrow_transactions SET status = $1, released_at = $2
		WHERE request_id = $3 AND status IN ($4, $5)
	`
	return matchedOne(r.q.ExecContext(ctx, query,
		domain.EscrowStatusReleased, at, requestID, domain.EscrowStatusHeld, domain.EscrowStatusPendingCash,
	))
}

// WalletRepository is a PostgreSQL implementation of repository.WalletRepository.
type WalletRepository struct {
	q Querier
}

// GetOrCreate returns the owner's wallet in currency, creating an empty one if missing.
func (r *WalletRepository) GetOrCreate(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	insert := `
		INSERT INTO wallets (id, owner_id, balance, currency, created_at, updated_at)
		VALUES ($1, $2, 0, $3, NOW(), NOW())
		ON CONFLICT (owner_id, currency) DO NOTHING
	`
	if _, err := r.q.ExecContext(ctx, insert, uuid.New().String(), ownerID, currency); err != nil {
		return nil, err
	}

	query := `
		SELECT id, owner_id, balance, currency, created_at, updated_at
		FROM wallets WHERE owner_id = $1 AND currency = $2
	`

	var w domain.Wallet
	err := r.q.QueryRowContext(ctx, query, ownerID, currency).Scan(
		&w.ID, &w.OwnerID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}
	return &w, nil
}

// Credit adds amount to a wallet and returns the balance before and after.
func (r *WalletRepository) Credit(ctx context.Context, walletID string, amount int64) (int64, int64, error) {
	query := `
		UPDATE wallets SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance
	`

	var after int64
	if err := r.q.QueryRowContext(ctx, query, amount, walletID).Scan(&after); err != nil {
		return 0, 0, translateError(err)
	}
	return after - amount, after, nil
}

// RecordTransaction appends a ledger entry.
func (r *WalletRepository) RecordTransaction(ctx context.Context, t *domain.WalletTransaction) error {
	query := `
		INSERT INTO wallet_transactions (id, wallet_id, request_id, type, amount, balance_before,
			balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.WalletID, nullString(t.RequestID), t.Type, t.Amount, t.BalanceBefore,
		t.BalanceAfter, nullString(t.Description), t.CreatedAt,
	)
	return translateError(err)
}

// NotificationRepository is a PostgreSQL implementation of repository.NotificationRepository.
type NotificationRepository struct {
	q Querier
}

// Create persists a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	var data sql.NullString
	if len(n.Data) > 0 {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return err
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO notifications (id, recipient_id, request_id, type, title, message, data, exclusive,
			expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.q.ExecContext(ctx, query,
		n.ID, n.RecipientID, nullString(n.RequestID), n.Type, n.Title, n.Message, data, n.Exclusive,
		nullTime(n.ExpiresAt), n.CreatedAt,
	)
	return translateError(err)
}

var (
	_ repository.EscrowRepository       = (*EscrowRepository)(nil)
	_ repository.WalletRepository       = (*WalletRepository)(nil)
	_ repository.NotificationRepository = (*NotificationRepository)(nil)
)
