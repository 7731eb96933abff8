package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q Querier
}

// Create adds a new driver.
func (r *DriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	query := `
		INSERT INTO drivers (id, name, phone, rating_average, total_rides, is_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.ExecContext(ctx, query,
		driver.ID, driver.Name, driver.Phone, driver.RatingAverage, driver.TotalRides, driver.Verified, driver.CreatedAt,
	)
	return translateError(err)
}

// GetByID retrieves a driver by ID.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	query := `
		SELECT id, name, phone, rating_average, total_rides, is_verified, created_at
		FROM drivers WHERE id = $1
	`

	var driver domain.Driver
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&driver.ID,
		&driver.Name,
		&driver.Phone,
		&driver.RatingAverage,
		&driver.TotalRides,
		&driver.Verified,
		&driver.CreatedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}
	return &driver, nil
}

// GetByIDs retrieves the drivers that exist among ids in a single query.
func (r *DriverRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Driver, error) {
	result := make(map[string]*domain.Driver, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
		SELECT id, name, phone, rating_average, total_rides, is_verified, created_at
		FROM drivers WHERE id = ANY($1)
	`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var driver domain.Driver
		if err := rows.Scan(
			&driver.ID,
			&driver.Name,
			&driver.Phone,
			&driver.RatingAverage,
			&driver.TotalRides,
			&driver.Verified,
			&driver.CreatedAt,
		); err != nil {
			return nil, err
		}
		result[driver.ID] = &driver
	}
	return result, rows.Err()
}

// CreditRepository is a PostgreSQL implementation of repository.CreditRepository.
type CreditRepository struct {
	q Querier
}

// Create persists an initial balance for a driver.
func (r *CreditRepository) Create(ctx context.Context, balance *domain.CreditBalance) error {
	query := `
		INSERT INTO driver_credits (driver_id, rides_remaining, rides_used, plan_starts_at, plan_ends_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.q.ExecContext(ctx, query,
		balance.DriverID, balance.RidesRemaining, balance.RidesUsed,
		nullTime(balance.PlanStartsAt), nullTime(balance.PlanEndsAt),
	)
	return translateError(err)
}

// GetByDriverID retrieves a driver's balance.
func (r *CreditRepository) GetByDriverID(ctx context.Context, driverID string) (*domain.CreditBalance, error) {
	query := `
		SELECT driver_id, rides_remaining, rides_used, plan_starts_at, plan_ends_at
		FROM driver_credits WHERE driver_id = $1
	`
	balance, err := scanCredit(r.q.QueryRowContext(ctx, query, driverID))
	if err != nil {
		return nil, translateError(err)
	}
	return balance, nil
}

// GetByDriverIDs retrieves the balances that exist among driverIDs.
func (r *CreditRepository) GetByDriverIDs(ctx context.Context, driverIDs []string) (map[string]*domain.CreditBalance, error) {
	result := make(map[string]*domain.CreditBalance, len(driverIDs))
	if len(driverIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT driver_id, rides_remaining, rides_used, plan_starts_at, plan_ends_at
		FROM driver_credits WHERE driver_id = ANY($1)
	`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(driverIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		balance, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		result[balance.DriverID] = balance
	}
	return result, rows.Err()
}

// Consume decrements the balance by one if it is positive.
func (r *CreditRepository) Consume(ctx context.Context, driverID string) (int, int, bool, error) {
	query := `
		UPDATE driver_credits
		SET rides_remaining = rides_remaining - 1, rides_used = rides_used + 1
		WHERE driver_id = $1 AND rides_remaining > 0
		RETURNING rides_remaining
	`

	var after int
	err := r.q.QueryRowContext(ctx, query, driverID).Scan(&after)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return after + 1, after, true, nil
}

// RecordConsumption appends an audit entry.
func (r *CreditRepository) RecordConsumption(ctx context.Context, c *domain.CreditConsumption) error {
	query := `
		INSERT INTO credit_consumptions (id, driver_id, request_id, balance_before, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.q.ExecContext(ctx, query, c.ID, c.DriverID, c.RequestID, c.BalanceBefore, c.BalanceAfter, c.CreatedAt)
	return translateError(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredit(row rowScanner) (*domain.CreditBalance, error) {
	var (
		balance      domain.CreditBalance
		starts, ends sql.NullTime
	)
	if err := row.Scan(&balance.DriverID, &balance.RidesRemaining, &balance.RidesUsed, &starts, &ends); err != nil {
		return nil, err
	}
	balance.PlanStartsAt = starts.Time
	balance.PlanEndsAt = ends.Time
	return &balance, nil
}

var (
	_ repository.DriverRepository = (*DriverRepository)(nil)
	_ repository.CreditRepository = (*CreditRepository)(nil)
)
