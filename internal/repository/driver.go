package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// DriverRepository defines the persistence operations for driver profiles.
type DriverRepository interface {
	// Create persists a new driver.
	Create(ctx context.Context, driver *domain.Driver) error

	// GetByID retrieves a driver by ID.
	GetByID(ctx context.Context, id string) (*domain.Driver, error)

	// GetByIDs retrieves the drivers that exist among ids, keyed by ID.
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Driver, error)
}

// CreditRepository defines the persistence operations for ride credits.
type CreditRepository interface {
	// Create persists an initial balance for a driver.
	Create(ctx context.Context, balance *domain.CreditBalance) error

	// GetByDriverID retrieves a driver's balance.
	GetByDriverID(ctx context.Context, driverID string) (*domain.CreditBalance, error)

	// GetByDriverIDs retrieves the balances that exist among driverIDs, keyed by driver ID.
	GetByDriverIDs(ctx context.Context, driverIDs []string) (map[string]*domain.CreditBalance, error)

	// Consume decrements the balance by one if it is positive and returns the
	// balance before and after. ok is false when nothing was left to consume.
	Consume(ctx context.Context, driverID string) (before, after int, ok bool, err error)

	// RecordConsumption appends an audit entry.
	RecordConsumption(ctx context.Context, c *domain.CreditConsumption) error
}

// OfferRepository defines the persistence operations for bidding offers.
type OfferRepository interface {
	// Create persists a new offer. Returns ErrDuplicate if the driver already
	// has a pending offer on the request.
	Create(ctx context.Context, offer *domain.Offer) error

	// GetByID retrieves an offer by ID.
	GetByID(ctx context.Context, id string) (*domain.Offer, error)

	// ListPending returns unexpired pending offers sorted by price then ETA.
	ListPending(ctx context.Context, requestID string, now time.Time) ([]*domain.Offer, error)

	// Resolve moves an offer from one status to another.
	Resolve(ctx context.Context, id string, from, to domain.OfferStatus, at time.Time) (bool, error)

	// RejectOthers rejects every pending offer on a request except keepID. An empty keepID rejects all.
	RejectOthers(ctx context.Context, requestID, keepID string, at time.Time) (int64, error)

	// ExpireBefore marks pending offers whose expiry has passed as expired.
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
}

// BiddingRepository defines the persistence operations for bidding sessions.
type BiddingRepository interface {
	// Create persists a new session. Returns ErrDuplicate if one exists for the request.
	Create(ctx context.Context, session *domain.BiddingSession) error

	// GetByRequestID retrieves the session of a request.
	GetByRequestID(ctx context.Context, requestID string) (*domain.BiddingSession, error)

	// Reprice sets a new proposed price and window when the session is still at round.
	Reprice(ctx context.Context, requestID string, round int, price int64, windowEndsAt time.Time) (bool, error)

	// SetStatus moves a session from one status to another.
	SetStatus(ctx context.Context, requestID string, from, to domain.BiddingStatus) (bool, error)

	// ExpireBefore marks open sessions whose window has ended as expired.
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
}
