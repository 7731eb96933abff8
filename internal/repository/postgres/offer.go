package postgres

import (
	"context"
	"database/sql"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// OfferRepository is a PostgreSQL implementation of repository.OfferRepository.
type OfferRepository struct {
	q Querier
}

const offerColumns = `id, request_id, driver_id, price, is_counter_offer, message, driver_rating,
	eta_minutes, status, expires_at, created_at, responded_at`

// Create persists a new offer.
func (r *OfferRepository) Create(ctx context.Context, offer *domain.Offer) error {
	query := `
		INSERT INTO ride_offers (id, request_id, driver_id, price, is_counter_offer, message,
			driver_rating, eta_minutes, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.q.ExecContext(ctx, query,
		offer.ID,
		offer.RequestID,
		offer.DriverID,
		offer.Price,
		offer.IsCounterOffer,
		nullString(offer.Message),
		offer.DriverRating,
		offer.ETAMinutes,
		offer.Status,
		offer.ExpiresAt,
		offer.CreatedAt,
	)
	return translateError(err)
}

// GetByID retrieves an offer by ID.
func (r *OfferRepository) GetByID(ctx context.Context, id string) (*domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM ride_offers WHERE id = $1`

	offer, err := scanOffer(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError(err)
	}
	return offer, nil
}

// ListPending returns unexpired pending offers, cheapest first, then fastest.
func (r *OfferRepository) ListPending(ctx context.Context, requestID string, now time.Time) ([]*domain.Offer, error) {
	query := `SELECT ` + offerColumns + `
		FROM ride_offers
		WHERE request_id = $1 AND status = $2 AND expires_at > $3
		ORDER BY price ASC, eta_minutes ASC, created_at ASC
	`
	rows, err := r.q.QueryContext(ctx, query, requestID, domain.OfferStatusPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []*domain.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

// Resolve moves an offer from one status to another.
func (r *OfferRepository) Resolve(ctx context.Context, id string, from, to domain.OfferStatus, at time.Time) (bool, error) {
	query := `UPDATE ride_offers SET status = $1, responded_at = $2 WHERE id = $3 AND status = $4`
	return matchedOne(r.q.ExecContext(ctx, query, to, at, id, from))
}

// RejectOthers rejects every pending offer on a request except keepID. An empty keepID rejects all.
func (r *OfferRepository) RejectOthers(ctx context.Context, requestID, keepID string, at time.Time) (int64, error) {
	query := `
		UPDATE ride_offers SET status = $1, responded_at = $2
		WHERE request_id = $3 AND id::text <> $4 AND status = $5
	`
	result, err := r.q.ExecContext(ctx, query,
		domain.OfferStatusRejected, at, requestID, keepID, domain.OfferStatusPending,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ExpireBefore marks pending offers whose expiry has passed as expired.
func (r *OfferRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE ride_offers SET status = $1 WHERE status = $2 AND expires_at <= $3`
	result, err := r.q.ExecContext(ctx, query, domain.OfferStatusExpired, domain.OfferStatusPending, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanOffer(row rowScanner) (*domain.Offer, error) {
	var (
		offer       domain.Offer
		message     sql.NullString
		respondedAt sql.NullTime
	)
	if err := row.Scan(
		&offer.ID,
		&offer.RequestID,
		&offer.DriverID,
		&offer.Price,
		&offer.IsCounterOffer,
		&message,
		&offer.DriverRating,
		&offer.ETAMinutes,
		&offer.Status,
		&offer.ExpiresAt,
		&offer.CreatedAt,
		&respondedAt,
	); err != nil {
		return nil, err
	}
	offer.Message = message.String
	offer.RespondedAt = respondedAt.Time
	return &offer, nil
}

// BiddingRepository is a PostgreSQL implementation of repository.BiddingRepository.
type BiddingRepository struct {
	q Querier
}

// Create persists a new session.
func (r *BiddingRepository) Create(ctx context.Context, s *domain.BiddingSession) error {
	query := `
		INSERT INTO bidding_sessions (request_id, requester_id, estimated_price, proposed_price, currency,
			round, status, opened_at, window_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.q.ExecContext(ctx, query,
		s.RequestID, s.RequesterID, s.EstimatedPrice, s.ProposedPrice, s.Currency,
		s.Round, s.Status, s.OpenedAt, s.WindowEndsAt,
	)
	return translateError(err)
}

// GetByRequestID retrieves the session of a request.
func (r *BiddingRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.BiddingSession, error) {
	query := `
		SELECT request_id, requester_id, estimated_price, proposed_price, currency, round, status,
			opened_at, window_ends_at
		FROM bidding_sessions WHERE request_id = $1
	`

	var s domain.BiddingSession
	err := r.q.QueryRowContext(ctx, query, requestID).Scan(
		&s.RequestID,
		&s.RequesterID,
		&s.EstimatedPrice,
		&s.ProposedPrice,
		&s.Currency,
		&s.Round,
		&s.Status,
		&s.OpenedAt,
		&s.WindowEndsAt,
	)
	if err != nil {
		return nil, translateError(err)
	}
	return &s, nil
}

// Reprice sets a new proposed price and window and reopens the session when it
// is still at round. Accepted or closed sessions are never repriced.
func (r *BiddingRepository) Reprice(ctx context.Context, requestID string, round int, price int64, windowEndsAt time.Time) (bool, error) {
	query := `
		UPDATE bidding_sessions
		SET proposed_price = $1, window_ends_at = $2, round = round + 1, status = $3
		WHERE request_id = $4 AND round = $5 AND status IN ($6, $7)
	`
	return matchedOne(r.q.ExecContext(ctx, query,
		price, windowEndsAt, domain.BiddingStatusOpen, requestID, round,
		domain.BiddingStatusOpen, domain.BiddingStatusExpired,
	))
}

// SetStatus moves a session from one status to another.
func (r *BiddingRepository) SetStatus(ctx context.Context, requestID string, from, to domain.BiddingStatus) (bool, error) {
	query := `UPDATE bidding_sessions SET status = $1 WHERE request_id = $2 AND status = $3`
	return matchedOne(r.q.ExecContext(ctx, query, to, requestID, from))
}

// ExpireBefore marks open sessions whose window has ended as expired.
func (r *BiddingRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE bidding_sessions SET status = $1 WHERE status = $2 AND window_ends_at <= $3`
	result, err := r.q.ExecContext(ctx, query, domain.BiddingStatusExpired, domain.BiddingStatusOpen, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

var (
	_ repository.OfferRepository   = (*OfferRepository)(nil)
	_ repository.BiddingRepository = (*BiddingRepository)(nil)
)
