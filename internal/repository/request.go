package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// RequestRepository defines the persistence operations for requests.
// Every method that changes status is a conditional write keyed on the expected
// prior status and reports whether it matched a row.
type RequestRepository interface {
	// Create persists a new request.
	Create(ctx context.Context, req *domain.Request) error

	// GetByID retrieves a request by ID.
	GetByID(ctx context.Context, id string) (*domain.Request, error)

	// Assign binds driverID to a pending request at the agreed price.
	Assign(ctx context.Context, id, driverID string, agreedPrice int64, at time.Time) (bool, error)

	// Transition moves a request from one status to another, stamping the matching timestamp.
	Transition(ctx context.Context, id string, from, to domain.RequestStatus, at time.Time) (bool, error)

	// TransitionForDriver is Transition restricted to the assigned driver.
	TransitionForDriver(ctx context.Context, id, driverID string, from, to domain.RequestStatus, at time.Time) (bool, error)

	// Reopen returns a request to pending and clears its driver.
	Reopen(ctx context.Context, id string, from domain.RequestStatus) (bool, error)

	// Cancel moves a request in one of the given statuses to cancelled.
	Cancel(ctx context.Context, id string, from []domain.RequestStatus, reason string, at time.Time) (bool, error)

	// CountOpenNear counts pending requests within radiusKm of point.
	CountOpenNear(ctx context.Context, point domain.Point, radiusKm float64) (int, error)
}
