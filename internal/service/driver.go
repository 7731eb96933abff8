package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dispatch/internal/domain"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// DriverService handles driver registration and real-time location.
type DriverService struct {
	store     repository.Store
	locations redis.LocationStoreInterface
	cache     redis.ProfileCache
	locator   *LocatorService
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewDriverService creates a new DriverService. cache and now may be nil.
func NewDriverService(
	store repository.Store,
	locations redis.LocationStoreInterface,
	cache redis.ProfileCache,
	locator *LocatorService,
	log logrus.FieldLogger,
	now func() time.Time,
) *DriverService {
	if now == nil {
		now = time.Now
	}
	return &DriverService{
		store:     store,
		locations: locations,
		cache:     cache,
		locator:   locator,
		log:       log,
		now:       now,
	}
}

// RegisterDriverCommand contains the parameters for registering a driver.
type RegisterDriverCommand struct {
	Name          string  `validate:"required,max=200"`
	Phone         string  `validate:"required,max=32"`
	RatingAverage float64 `validate:"gte=0,lte=5"`
	TotalRides    int     `validate:"gte=0"`
	Verified      bool
	Credits       int `validate:"gte=0"`
	PlanStartsAt  time.Time
	PlanEndsAt    time.Time
}

// RegisteredDriver is a driver profile with its opening credit balance.
type RegisteredDriver struct {
	Driver  *domain.Driver
	Credits *domain.CreditBalance
}

// RegisterDriver stores a driver profile and its credit balance together.
func (s *DriverService) RegisterDriver(ctx context.Context, cmd RegisterDriverCommand) (*RegisteredDriver, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if !cmd.PlanEndsAt.IsZero() && cmd.PlanEndsAt.Before(cmd.PlanStartsAt) {
		return nil, fmt.Errorf("%w: plan ends before it starts", ErrInvalidInput)
	}

	driver := &domain.Driver{
		ID:            uuid.New().String(),
		Name:          cmd.Name,
		Phone:         cmd.Phone,
		RatingAverage: cmd.RatingAverage,
		TotalRides:    cmd.TotalRides,
		Verified:      cmd.Verified,
		CreatedAt:     s.now(),
	}
	credits := &domain.CreditBalance{
		DriverID:       driver.ID,
		RidesRemaining: cmd.Credits,
		PlanStartsAt:   cmd.PlanStartsAt,
		PlanEndsAt:     cmd.PlanEndsAt,
	}

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Drivers().Create(ctx, driver); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("%w: phone already registered", ErrStateConflict)
			}
			return fmt.Errorf("create driver: %w", err)
		}
		if err := tx.Credits().Create(ctx, credits); err != nil {
			return fmt.Errorf("create credit balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("driver_id", driver.ID).Info("driver registered")
	return &RegisteredDriver{Driver: driver, Credits: credits}, nil
}

// UpdateLocationCommand contains a driver's location ping.
type UpdateLocationCommand struct {
	DriverID     string `validate:"required"`
	Position     domain.Point
	Heading      float64 `validate:"gte=0,lt=360"`
	Speed        float64 `validate:"gte=0"`
	Accuracy     float64 `validate:"gte=0"`
	Available    *bool               // Optional: nil keeps the current flag
	VehicleClass domain.VehicleClass // Optional: empty keeps the current class
}

// UpdateLocation upserts the driver's location record in the geo index.
// A first ping from a driver with no record marks them available.
func (s *DriverService) UpdateLocation(ctx context.Context, cmd UpdateLocationCommand) (*domain.DriverLocation, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if !cmd.Position.Valid() {
		return nil, ErrInvalidLocation
	}
	if cmd.VehicleClass != "" && !cmd.VehicleClass.Valid() {
		return nil, ErrInvalidVehicleClass
	}

	if _, err := s.store.Drivers().GetByID(ctx, cmd.DriverID); err != nil {
		return nil, err
	}

	current, err := s.locations.GetLocation(ctx, cmd.DriverID)
	if err != nil {
		return nil, fmt.Errorf("load location: %w", err)
	}

	loc := domain.DriverLocation{
		DriverID:     cmd.DriverID,
		Position:     cmd.Position,
		Heading:      cmd.Heading,
		Speed:        cmd.Speed,
		Accuracy:     cmd.Accuracy,
		Available:    true,
		VehicleClass: cmd.VehicleClass,
		LastPing:     s.now(),
	}
	if current != nil {
		loc.Available = current.Available
		if loc.VehicleClass == "" {
			loc.VehicleClass = current.VehicleClass
		}
	}
	if cmd.Available != nil {
		loc.Available = *cmd.Available
	}

	if err := s.locations.UpdateLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("update location: %w", err)
	}
	return &loc, nil
}

// SetAvailability toggles whether a driver may receive new jobs.
func (s *DriverService) SetAvailability(ctx context.Context, driverID string, available bool) error {
	if driverID == "" {
		return fmt.Errorf("%w: driver id is required", ErrInvalidInput)
	}
	loc, err := s.locations.GetLocation(ctx, driverID)
	if err != nil {
		return fmt.Errorf("load location: %w", err)
	}
	if loc == nil {
		return repository.ErrNotFound
	}
	return s.locations.SetAvailability(ctx, driverID, available)
}

// GoOffline removes the driver from the geo index and drops their cached profile.
func (s *DriverService) GoOffline(ctx context.Context, driverID string) error {
	if driverID == "" {
		return fmt.Errorf("%w: driver id is required", ErrInvalidInput)
	}
	if err := s.locations.RemoveLocation(ctx, driverID); err != nil {
		return fmt.Errorf("remove location: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.InvalidateProfile(ctx, driverID); err != nil {
			s.log.WithError(err).WithField("driver_id", driverID).Debug("failed to invalidate profile cache")
		}
	}
	return nil
}

// NearbyDrivers runs the candidate search and ranks the result for the given priority.
func (s *DriverService) NearbyDrivers(ctx context.Context, q NearbyQuery, priority domain.Priority) ([]domain.Candidate, error) {
	if !q.Point.Valid() {
		return nil, ErrInvalidLocation
	}
	if q.RadiusKm <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrInvalidInput)
	}
	if !q.ServiceType.Valid() {
		return nil, ErrInvalidServiceType
	}
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.Valid() {
		return nil, ErrInvalidPriority
	}
	return RankCandidates(s.locator.FindNearbyDrivers(ctx, q), priority), nil
}
