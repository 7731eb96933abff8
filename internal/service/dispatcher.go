package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/metrics"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// DispatchConfig holds search radius, retry and notification parameters per priority.
type DispatchConfig struct {
	RadiusNormalKm  float64
	RadiusHighKm    float64
	RadiusUrgentKm  float64
	RetryNormal     time.Duration
	RetryHigh       time.Duration
	RetryUrgent     time.Duration
	NotificationTTL time.Duration
	DriverLockTTL   time.Duration
	AvgSpeedKmh     float64
	Now             func() time.Time
}

// DispatchOutcome is the result class of a dispatch attempt.
type DispatchOutcome string

const (
	DispatchAssigned          DispatchOutcome = "assigned"
	DispatchNoDriverAvailable DispatchOutcome = "no_driver_available"
	DispatchAlreadyHandled    DispatchOutcome = "already_handled"
)

// DispatchCommand contains the parameters for dispatching a request.
type DispatchCommand struct {
	RequestID   string `validate:"required"`
	Pickup      *domain.Point
	ServiceType domain.ServiceType // Optional: empty uses the request's
	Priority    domain.Priority    // Optional: empty uses the request's
	AgreedPrice int64              // Optional: zero uses the request's estimate
}

// DispatchResult describes what a dispatch attempt did.
type DispatchResult struct {
	Outcome    DispatchOutcome
	RequestID  string
	Status     domain.RequestStatus
	DriverID   string
	DistanceKm float64
	Score      float64
	ETAMinutes float64
	Price      int64
	// RetryAfter is set when no driver was found.
	RetryAfter time.Duration
	// OfferExpiresAt bounds how long the assigned driver has to respond.
	OfferExpiresAt time.Time
}

// Dispatcher moves a pending request to driver_assigned or no_driver_available.
type Dispatcher struct {
	store     repository.Store
	locator   *LocatorService
	locations redis.LocationStoreInterface
	locks     redis.LockStoreInterface
	notifier  *NotificationService
	publisher events.Publisher
	log       logrus.FieldLogger
	cfg       DispatchConfig
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(
	store repository.Store,
	locator *LocatorService,
	locations redis.LocationStoreInterface,
	locks redis.LockStoreInterface,
	notifier *NotificationService,
	publisher events.Publisher,
	log logrus.FieldLogger,
	cfg DispatchConfig,
) *Dispatcher {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		store:     store,
		locator:   locator,
		locations: locations,
		locks:     locks,
		notifier:  notifier,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
	}
}

// RadiusFor returns the search radius for a priority. It never shrinks as priority rises.
func (d *Dispatcher) RadiusFor(p domain.Priority) float64 {
	switch p {
	case domain.PriorityUrgent:
		return d.cfg.RadiusUrgentKm
	case domain.PriorityHigh:
		return d.cfg.RadiusHighKm
	default:
		return d.cfg.RadiusNormalKm
	}
}

// RetryAfter returns the suggested backoff before re-dispatching. Urgent requests retry sooner.
func (d *Dispatcher) RetryAfter(p domain.Priority) time.Duration {
	switch p {
	case domain.PriorityUrgent:
		return d.cfg.RetryUrgent
	case domain.PriorityHigh:
		return d.cfg.RetryHigh
	default:
		return d.cfg.RetryNormal
	}
}

// ETAMinutes estimates travel time over distanceKm at the configured average speed.
func (d *Dispatcher) ETAMinutes(distanceKm float64) float64 {
	return distanceKm / d.cfg.AvgSpeedKmh * 60
}

// Dispatch runs one search-score-assign cycle for a request. It performs a
// single search attempt and never retries; callers follow RetryAfter.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd DispatchCommand) (*DispatchResult, error) {
	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	req, err := d.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}

	priority := req.Priority
	if cmd.Priority != "" {
		priority = cmd.Priority
	}
	if !priority.Valid() {
		return nil, ErrInvalidPriority
	}

	serviceType := req.ServiceType
	if cmd.ServiceType != "" {
		serviceType = cmd.ServiceType
	}
	if !serviceType.Valid() {
		return nil, ErrInvalidServiceType
	}

	pickup, err := sanitizePickup(cmd.Pickup, req.Pickup)
	if err != nil {
		return nil, err
	}

	// A request that previously found nobody may be retried; reopen it first.
	if req.Status == domain.RequestStatusNoDriverAvailable {
		ok, err := d.store.Requests().Reopen(ctx, req.ID, domain.RequestStatusNoDriverAvailable)
		if err != nil {
			return nil, fmt.Errorf("reopen request: %w", err)
		}
		if !ok {
			return d.alreadyHandled(ctx, req.ID, priority)
		}
		req.Status = domain.RequestStatusPending
	}
	if req.Status != domain.RequestStatusPending {
		return d.alreadyHandled(ctx, req.ID, priority)
	}

	log := d.log.WithFields(logrus.Fields{"request_id": req.ID, "priority": priority})

	candidates := d.locator.FindNearbyDrivers(ctx, NearbyQuery{
		Point:        pickup,
		RadiusKm:     d.RadiusFor(priority),
		ServiceType:  serviceType,
		VehicleClass: req.VehicleClass,
	})

	price := req.EstimatedPrice
	if cmd.AgreedPrice > 0 {
		price = cmd.AgreedPrice
	}

	for _, c := range RankCandidates(candidates, priority) {
		locked, err := d.reserveDriver(ctx, c.DriverID, req.ID)
		if err != nil {
			return nil, err
		}
		if !locked {
			// Another dispatcher is binding this driver right now.
			continue
		}

		now := d.cfg.Now()
		ok, err := d.store.Requests().Assign(ctx, req.ID, c.DriverID, price, now)
		if err != nil {
			d.releaseDriver(ctx, c.DriverID, req.ID)
			return nil, fmt.Errorf("assign driver: %w", err)
		}
		if !ok {
			d.releaseDriver(ctx, c.DriverID, req.ID)
			log.Info("lost assignment race")
			return d.alreadyHandled(ctx, req.ID, priority)
		}

		// The driver lock is left to expire; the availability flip below keeps
		// the driver out of later searches.
		req.Status = domain.RequestStatusDriverAssigned
		req.DriverID = c.DriverID
		req.AgreedPrice = price
		req.AssignedAt = now

		expiresAt := now.Add(d.cfg.NotificationTTL)
		d.afterAssignment(ctx, req, c.DistanceKm)
		d.notifier.NotifyDispatchOffer(ctx, req, c.DriverID, c.DistanceKm, expiresAt)

		metrics.DispatchOutcomes.WithLabelValues(string(DispatchAssigned), string(priority)).Inc()
		log.WithFields(logrus.Fields{
			"driver_id":   c.DriverID,
			"distance_km": c.DistanceKm,
			"score":       c.Score,
		}).Info("driver assigned")

		return &DispatchResult{
			Outcome:        DispatchAssigned,
			RequestID:      req.ID,
			Status:         req.Status,
			DriverID:       c.DriverID,
			DistanceKm:     c.DistanceKm,
			Score:          c.Score,
			ETAMinutes:     d.ETAMinutes(c.DistanceKm),
			Price:          price,
			OfferExpiresAt: expiresAt,
		}, nil
	}

	return d.noDriverAvailable(ctx, req, priority)
}

// reserveDriver takes the per-driver lock on behalf of requestID. Every path
// that binds a driver to a request holds it across the conditional assignment.
func (d *Dispatcher) reserveDriver(ctx context.Context, driverID, requestID string) (bool, error) {
	locked, err := d.locks.AcquireDriverLock(ctx, driverID, requestID, d.cfg.DriverLockTTL)
	if err != nil {
		return false, fmt.Errorf("lock driver: %w", err)
	}
	return locked, nil
}

// releaseDriver drops a reservation that did not end in an assignment.
func (d *Dispatcher) releaseDriver(ctx context.Context, driverID, requestID string) {
	if err := d.locks.ReleaseDriverLock(ctx, driverID, requestID); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID,
			"driver_id":  driverID,
		}).Debug("failed to release driver lock")
	}
}

// afterAssignment runs the best-effort effects of binding a driver: the
// driver is marked busy and the change is published. Failures are logged only.
func (d *Dispatcher) afterAssignment(ctx context.Context, req *domain.Request, distanceKm float64) {
	if err := d.locations.SetAvailability(ctx, req.DriverID, false); err != nil {
		metrics.SideEffectFailures.WithLabelValues("availability_flip").Inc()
		d.log.WithError(err).WithFields(logrus.Fields{
			"request_id": req.ID,
			"driver_id":  req.DriverID,
		}).Warn("failed to mark driver unavailable")
	}

	publish(ctx, d.publisher, d.log, events.RequestAssigned, req.ID, map[string]any{
		"driver_id":   req.DriverID,
		"price":       req.AgreedPrice,
		"distance_km": distanceKm,
	}, req.AssignedAt)
}

func (d *Dispatcher) noDriverAvailable(ctx context.Context, req *domain.Request, priority domain.Priority) (*DispatchResult, error) {
	now := d.cfg.Now()
	ok, err := d.store.Requests().Transition(ctx, req.ID, domain.RequestStatusPending, domain.RequestStatusNoDriverAvailable, now)
	if err != nil {
		return nil, fmt.Errorf("mark no driver available: %w", err)
	}
	if !ok {
		return d.alreadyHandled(ctx, req.ID, priority)
	}

	retryAfter := d.RetryAfter(priority)
	metrics.DispatchOutcomes.WithLabelValues(string(DispatchNoDriverAvailable), string(priority)).Inc()
	d.log.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"priority":    priority,
		"retry_after": retryAfter,
	}).Info("no driver available")

	d.notifier.NotifyNoDriverAvailable(ctx, req, retryAfter)
	publish(ctx, d.publisher, d.log, events.RequestNoDriver, req.ID, map[string]any{
		"retry_after_seconds": retryAfter.Seconds(),
	}, now)

	return &DispatchResult{
		Outcome:    DispatchNoDriverAvailable,
		RequestID:  req.ID,
		Status:     domain.RequestStatusNoDriverAvailable,
		RetryAfter: retryAfter,
	}, nil
}

// alreadyHandled reports the request's current state without touching it.
func (d *Dispatcher) alreadyHandled(ctx context.Context, requestID string, priority domain.Priority) (*DispatchResult, error) {
	metrics.DispatchOutcomes.WithLabelValues(string(DispatchAlreadyHandled), string(priority)).Inc()

	result := &DispatchResult{Outcome: DispatchAlreadyHandled, RequestID: requestID}
	current, err := d.store.Requests().GetByID(ctx, requestID)
	if err != nil {
		return result, nil
	}
	result.Status = current.Status
	result.DriverID = current.DriverID
	result.Price = current.AgreedPrice
	return result, nil
}

// sanitizePickup prefers the caller's coordinates and falls back to the stored pickup.
func sanitizePickup(primary *domain.Point, stored domain.Point) (domain.Point, error) {
	if primary != nil && primary.Valid() {
		return *primary, nil
	}
	if stored.Valid() {
		return stored, nil
	}
	return domain.Point{}, ErrInvalidLocation
}
