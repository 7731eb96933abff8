package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// RequestRepository is a PostgreSQL implementation of repository.RequestRepository.
type RequestRepository struct {
	q Querier
}

const requestColumns = `id, requester_id, pickup_lat, pickup_lng, destination_lat, destination_lng,
	service_type, vehicle_class, priority, status, driver_id, estimated_price, agreed_price, currency,
	created_at, assigned_at, arrived_at, completed_at, cancelled_at, cancel_reason`

// timestampColumn is the column stamped when a request enters a status.
var timestampColumn = map[domain.RequestStatus]string{
	domain.RequestStatusDriverAssigned: "assigned_at",
	domain.RequestStatusDriverArrived:  "arrived_at",
	domain.RequestStatusDelivered:      "completed_at",
	domain.RequestStatusCompleted:      "completed_at",
	domain.RequestStatusCancelled:      "cancelled_at",
}

// Create persists a new request.
func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	query := `
		INSERT INTO requests (id, requester_id, pickup_lat, pickup_lng, destination_lat, destination_lng,
			service_type, vehicle_class, priority, status, estimated_price, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	var destLat, destLng sql.NullFloat64
	if req.Destination != nil {
		destLat = sql.NullFloat64{Float64: req.Destination.Lat, Valid: true}
		destLng = sql.NullFloat64{Float64: req.Destination.Lng, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		req.ID,
		req.RequesterID,
		req.Pickup.Lat,
		req.Pickup.Lng,
		destLat,
		destLng,
		req.ServiceType,
		nullString(string(req.VehicleClass)),
		req.Priority,
		req.Status,
		req.EstimatedPrice,
		req.Currency,
		req.CreatedAt,
	)
	return translateError(err)
}

// GetByID retrieves a request by ID.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	var (
		req                                  domain.Request
		destLat, destLng                     sql.NullFloat64
		vehicleClass, driverID, cancelReason sql.NullString
		agreedPrice                          sql.NullInt64
		assignedAt, arrivedAt, completedAt   sql.NullTime
		cancelledAt                          sql.NullTime
	)

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&req.ID,
		&req.RequesterID,
		&req.Pickup.Lat,
		&req.Pickup.Lng,
		&destLat,
		&destLng,
		&req.ServiceType,
		&vehicleClass,
		&req.Priority,
		&req.Status,
		&driverID,
		&req.EstimatedPrice,
		&agreedPrice,
		&req.Currency,
		&req.CreatedAt,
		&assignedAt,
		&arrivedAt,
		&completedAt,
		&cancelledAt,
		&cancelReason,
	)
	if err != nil {
		return nil, translateError(err)
	}

	if destLat.Valid && destLng.Valid {
		req.Destination = &domain.Point{Lat: destLat.Float64, Lng: destLng.Float64}
	}
	req.VehicleClass = domain.VehicleClass(vehicleClass.String)
	req.DriverID = driverID.String
	req.AgreedPrice = agreedPrice.Int64
	req.AssignedAt = assignedAt.Time
	req.ArrivedAt = arrivedAt.Time
	req.CompletedAt = completedAt.Time
	req.CancelledAt = cancelledAt.Time
	req.CancelReason = cancelReason.String

	return &req, nil
}

// Assign binds driverID to a pending request at the agreed price.
func (r *RequestRepository) Assign(ctx context.Context, id, driverID string, agreedPrice int64, at time.Time) (bool, error) {
	query := `
		UPDATE requests
		SET status = $1, driver_id = $2, agreed_price = $3, assigned_at = $4
		WHERE id = $5 AND status = $6
	`
	return matchedOne(r.q.ExecContext(ctx, query,
		domain.RequestStatusDriverAssigned, driverID, agreedPrice, at, id, domain.RequestStatusPending,
	))
}

// Transition moves a request from one status to another.
func (r *RequestRepository) Transition(ctx context.Context, id string, from, to domain.RequestStatus, at time.Time) (bool, error) {
	query := `UPDATE requests SET status = $1` + stampClause(to, 4) + ` WHERE id = $2 AND status = $3`
	args := []any{to, id, from}
	if _, ok := timestampColumn[to]; ok {
		args = append(args, at)
	}
	return matchedOne(r.q.ExecContext(ctx, query, args...))
}

// TransitionForDriver is Transition restricted to the assigned driver.
func (r *RequestRepository) TransitionForDriver(ctx context.Context, id, driverID string, from, to domain.RequestStatus, at time.Time) (bool, error) {
	query := `UPDATE requests SET status = $1` + stampClause(to, 5) + ` WHERE id = $2 AND status = $3 AND driver_id = $4`
	args := []any{to, id, from, driverID}
	if _, ok := timestampColumn[to]; ok {
		args = append(args, at)
	}
	return matchedOne(r.q.ExecContext(ctx, query, args...))
}

// Reopen returns a request to pending and clears its driver.
func (r *RequestRepository) Reopen(ctx context.Context, id string, from domain.RequestStatus) (bool, error) {
	query := `
		UPDATE requests
		SET status = $1, driver_id = NULL, agreed_price = NULL, assigned_at = NULL
		WHERE id = $2 AND status = $3
	`
	return matchedOne(r.q.ExecContext(ctx, query, domain.RequestStatusPending, id, from))
}

// Cancel moves a request in one of the given statuses to cancelled.
func (r *RequestRepository) Cancel(ctx context.Context, id string, from []domain.RequestStatus, reason string, at time.Time) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	query := `
		UPDATE requests
		SET status = $1, cancelled_at = $2, cancel_reason = $3
		WHERE id = $4 AND status = ANY($5)
	`
	return matchedOne(r.q.ExecContext(ctx, query,
		domain.RequestStatusCancelled, at, nullString(reason), id, pq.Array(statuses),
	))
}

// CountOpenNear counts pending requests within radiusKm of point.
func (r *RequestRepository) CountOpenNear(ctx context.Context, point domain.Point, radiusKm float64) (int, error) {
	query := `
		SELECT COUNT(*) FROM requests
		WHERE status = $1
		  AND 2 * $5::float8 * ASIN(SQRT(
		        POWER(SIN(RADIANS(pickup_lat - $2::float8) / 2), 2) +
		        COS(RADIANS($2::float8)) * COS(RADIANS(pickup_lat)) * POWER(SIN(RADIANS(pickup_lng - $3::float8) / 2), 2)
		      )) <= $4::float8
	`

	var count int
	err := r.q.QueryRowContext(ctx, query,
		domain.RequestStatusPending, point.Lat, point.Lng, radiusKm, domain.EarthRadiusKm,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// stampClause returns the SET fragment stamping the timestamp column for status, if any.
func stampClause(status domain.RequestStatus, param int) string {
	col, ok := timestampColumn[status]
	if !ok {
		return ""
	}
	return fmt.Sprintf(", %s = $%d", col, param)
}

var _ repository.RequestRepository = (*RequestRepository)(nil)
