package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/metrics"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// DefaultCurrency is used when a request does not name one.
const DefaultCurrency = "CDF"

// RequestService handles the request lifecycle outside of assignment.
type RequestService struct {
	store      repository.Store
	dispatcher *Dispatcher
	locations  redis.LocationStoreInterface
	notifier   *NotificationService
	publisher  events.Publisher
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewRequestService creates a new RequestService. now may be nil.
func NewRequestService(
	store repository.Store,
	dispatcher *Dispatcher,
	locations redis.LocationStoreInterface,
	notifier *NotificationService,
	publisher events.Publisher,
	log logrus.FieldLogger,
	now func() time.Time,
) *RequestService {
	if now == nil {
		now = time.Now
	}
	return &RequestService{
		store:      store,
		dispatcher: dispatcher,
		locations:  locations,
		notifier:   notifier,
		publisher:  publisher,
		log:        log,
		now:        now,
	}
}

// CreateRequestCommand contains the parameters for creating a request.
type CreateRequestCommand struct {
	RequesterID    string `validate:"required"`
	Pickup         domain.Point
	Destination    *domain.Point
	ServiceType    domain.ServiceType
	VehicleClass   domain.VehicleClass // Optional: empty means any class
	Priority       domain.Priority     // Optional: defaults to normal
	EstimatedPrice int64               `validate:"gte=0"`
	Currency       string              `validate:"omitempty,len=3"`
	AutoDispatch   bool
}

// CreateRequestResult contains the created request and, when dispatched, the outcome.
type CreateRequestResult struct {
	Request  *domain.Request
	Dispatch *DispatchResult
}

// CreateRequest stores a pending request and optionally dispatches it right away.
func (s *RequestService) CreateRequest(ctx context.Context, cmd CreateRequestCommand) (*CreateRequestResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if !cmd.Pickup.Valid() {
		return nil, ErrInvalidLocation
	}
	if cmd.Destination != nil && !cmd.Destination.Valid() {
		return nil, ErrInvalidLocation
	}
	if !cmd.ServiceType.Valid() {
		return nil, ErrInvalidServiceType
	}
	if cmd.VehicleClass != "" && !cmd.VehicleClass.Valid() {
		return nil, ErrInvalidVehicleClass
	}

	priority := cmd.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.Valid() {
		return nil, ErrInvalidPriority
	}

	currency := cmd.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	req := &domain.Request{
		ID:             uuid.New().String(),
		RequesterID:    cmd.RequesterID,
		Pickup:         cmd.Pickup,
		Destination:    cmd.Destination,
		ServiceType:    cmd.ServiceType,
		VehicleClass:   cmd.VehicleClass,
		Priority:       priority,
		Status:         domain.RequestStatusPending,
		EstimatedPrice: cmd.EstimatedPrice,
		Currency:       currency,
		CreatedAt:      s.now(),
	}
	if err := s.store.Requests().Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"request_id":   req.ID,
		"service_type": req.ServiceType,
		"priority":     req.Priority,
	}).Info("request created")
	publish(ctx, s.publisher, s.log, events.RequestCreated, req.ID, map[string]any{
		"requester_id":    req.RequesterID,
		"service_type":    req.ServiceType,
		"priority":        req.Priority,
		"estimated_price": req.EstimatedPrice,
	}, req.CreatedAt)

	result := &CreateRequestResult{Request: req}
	if !cmd.AutoDispatch {
		return result, nil
	}

	dispatch, err := s.dispatcher.Dispatch(ctx, DispatchCommand{RequestID: req.ID})
	if err != nil {
		return nil, err
	}
	result.Dispatch = dispatch

	// Return the stored state so the caller sees the assignment.
	if current, err := s.store.Requests().GetByID(ctx, req.ID); err == nil {
		result.Request = current
	}
	return result, nil
}

// GetRequest retrieves a request by ID.
func (s *RequestService) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	return s.store.Requests().GetByID(ctx, id)
}

// cancellable lists the statuses a request may be cancelled from.
var cancellable = []domain.RequestStatus{
	domain.RequestStatusPending,
	domain.RequestStatusNoDriverAvailable,
	domain.RequestStatusDriverAssigned,
	domain.RequestStatusDriverArrived,
}

// CancelRequestCommand contains the parameters for cancelling a request.
type CancelRequestCommand struct {
	RequestID   string `validate:"required"`
	CancelledBy string `validate:"required"` // Requester or assigned driver
	Reason      string `validate:"max=500"`
}

// CancelRequest cancels a request that has not started. The assigned driver,
// if any, becomes available again. Cancelling twice returns the cancelled request.
func (s *RequestService) CancelRequest(ctx context.Context, cmd CancelRequestCommand) (*domain.Request, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	req, err := s.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if cmd.CancelledBy != req.RequesterID && (req.DriverID == "" || cmd.CancelledBy != req.DriverID) {
		return nil, ErrForbidden
	}
	if req.Status == domain.RequestStatusCancelled {
		return req, nil
	}

	now := s.now()
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		ok, err := tx.Requests().Cancel(ctx, req.ID, cancellable, cmd.Reason, now)
		if err != nil {
			return fmt.Errorf("cancel request: %w", err)
		}
		if !ok {
			return ErrInvalidTransition
		}
		// Close any negotiation still running on the request.
		if _, err := tx.Bidding().SetStatus(ctx, req.ID, domain.BiddingStatusOpen, domain.BiddingStatusClosed); err != nil {
			return fmt.Errorf("close bidding session: %w", err)
		}
		if _, err := tx.Offers().RejectOthers(ctx, req.ID, "", now); err != nil {
			return fmt.Errorf("reject pending offers: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req.Status = domain.RequestStatusCancelled
	req.CancelledAt = now
	req.CancelReason = cmd.Reason

	s.log.WithFields(logrus.Fields{"request_id": req.ID, "cancelled_by": cmd.CancelledBy}).Info("request cancelled")

	if req.DriverID != "" {
		s.releaseDriver(ctx, req.DriverID)
		recipient := req.DriverID
		if cmd.CancelledBy == req.DriverID {
			recipient = req.RequesterID
		}
		s.notifier.NotifyRequestCancelled(ctx, req, recipient, cmd.Reason)
	}
	publish(ctx, s.publisher, s.log, events.RequestCancelled, req.ID, map[string]any{
		"cancelled_by": cmd.CancelledBy,
		"reason":       cmd.Reason,
	}, now)

	return req, nil
}

// RedispatchCommand contains the parameters for re-running dispatch.
type RedispatchCommand struct {
	RequestID   string `validate:"required"`
	RequesterID string `validate:"required"`
}

// Redispatch returns an assigned or unmatched request to pending and runs
// dispatch again. The previously assigned driver is freed after the new search
// so the same driver is not picked twice in a row.
func (s *RequestService) Redispatch(ctx context.Context, cmd RedispatchCommand) (*DispatchResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	req, err := s.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != cmd.RequesterID {
		return nil, ErrNotRequester
	}

	previous := ""
	switch req.Status {
	case domain.RequestStatusDriverAssigned:
		ok, err := s.store.Requests().Reopen(ctx, req.ID, domain.RequestStatusDriverAssigned)
		if err != nil {
			return nil, fmt.Errorf("reopen request: %w", err)
		}
		if !ok {
			return nil, ErrInvalidTransition
		}
		previous = req.DriverID
		publish(ctx, s.publisher, s.log, events.RequestReopened, req.ID, map[string]any{
			"previous_driver_id": previous,
		}, s.now())
	case domain.RequestStatusNoDriverAvailable, domain.RequestStatusPending:
		// Dispatch reopens these itself.
	default:
		return nil, ErrInvalidTransition
	}

	result, err := s.dispatcher.Dispatch(ctx, DispatchCommand{RequestID: req.ID})
	if previous != "" {
		s.releaseDriver(ctx, previous)
	}
	return result, err
}

// TripCommand identifies a request and the driver acting on it.
type TripCommand struct {
	RequestID string `validate:"required"`
	DriverID  string `validate:"required"`
}

// StartTrip moves an arrived request to in_progress.
func (s *RequestService) StartTrip(ctx context.Context, cmd TripCommand) (*domain.Request, error) {
	return s.advance(ctx, cmd, domain.RequestStatusDriverArrived, func(*domain.Request) domain.RequestStatus {
		return domain.RequestStatusInProgress
	}, events.RequestStarted)
}

// CompleteTrip finishes an in-progress request: rides become completed and
// deliveries become delivered, awaiting escrow release. The driver is freed.
func (s *RequestService) CompleteTrip(ctx context.Context, cmd TripCommand) (*domain.Request, error) {
	req, err := s.advance(ctx, cmd, domain.RequestStatusInProgress, func(r *domain.Request) domain.RequestStatus {
		return r.ServiceType.CompletedStatus()
	}, events.RequestFinished)
	if err != nil {
		return nil, err
	}
	s.releaseDriver(ctx, cmd.DriverID)
	return req, nil
}

// advance performs a driver-owned status change. Repeating a change that
// already happened returns the request unchanged.
func (s *RequestService) advance(
	ctx context.Context,
	cmd TripCommand,
	from domain.RequestStatus,
	target func(*domain.Request) domain.RequestStatus,
	eventType events.Type,
) (*domain.Request, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	req, err := s.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if req.DriverID != cmd.DriverID {
		return nil, ErrNotAssignedDriver
	}

	to := target(req)
	if req.Status == to {
		return req, nil
	}
	if req.Status != from || !domain.CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}

	now := s.now()
	ok, err := s.store.Requests().TransitionForDriver(ctx, req.ID, cmd.DriverID, from, to, now)
	if err != nil {
		return nil, fmt.Errorf("update request status: %w", err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	req.Status = to
	if to == domain.RequestStatusDelivered || to == domain.RequestStatusCompleted {
		req.CompletedAt = now
	}

	s.log.WithFields(logrus.Fields{"request_id": req.ID, "status": to}).Info("request status changed")
	publish(ctx, s.publisher, s.log, eventType, req.ID, map[string]any{
		"driver_id": cmd.DriverID,
		"status":    to,
	}, now)

	return req, nil
}

// releaseDriver marks a driver available again. Best-effort.
func (s *RequestService) releaseDriver(ctx context.Context, driverID string) {
	if err := s.locations.SetAvailability(ctx, driverID, true); err != nil {
		metrics.SideEffectFailures.WithLabelValues("availability_flip").Inc()
		s.log.WithError(err).WithField("driver_id", driverID).Warn("failed to mark driver available")
	}
}
