package tests

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

var (
	// kinshasa is the pickup used across scenarios.
	kinshasa = domain.Point{Lat: -4.3217, Lng: 15.3069}

	startTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

type harness struct {
	ctx       context.Context
	clock     *Clock
	store     *MemoryStore
	locations *MockLocationStore
	locks     *MockLockStore
	cache     *MockProfileCache
	publisher *MockPublisher
	gateway   *MockGateway
	log       *logrus.Logger
	logHook   *logtest.Hook

	locator    *service.LocatorService
	dispatcher *service.Dispatcher
	pricing    *service.PricingService
	negotiator *service.Negotiator
	arrival    *service.ArrivalService
	escrow     *service.EscrowService
	requests   *service.RequestService
	drivers    *service.DriverService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log, hook := logtest.NewNullLogger()
	h := &harness{
		ctx:       context.Background(),
		clock:     NewClock(startTime),
		store:     NewMemoryStore(),
		locations: NewMockLocationStore(),
		locks:     NewMockLockStore(),
		cache:     NewMockProfileCache(),
		publisher: NewMockPublisher(),
		gateway:   &MockGateway{},
		log:       log,
		logHook:   hook,
	}

	notifier := service.NewNotificationService(h.store.Notifications(), h.publisher, log)
	h.locator = service.NewLocatorService(h.locations, h.cache, h.store.Drivers(), h.store.Credits(), log, service.LocatorConfig{
		Freshness:      2 * time.Minute,
		CandidateLimit: 50,
		Now:            h.clock.Now,
	})
	h.dispatcher = service.NewDispatcher(h.store, h.locator, h.locations, h.locks, notifier, h.publisher, log, service.DispatchConfig{
		RadiusNormalKm:  5,
		RadiusHighKm:    7.5,
		RadiusUrgentKm:  10,
		RetryNormal:     30 * time.Second,
		RetryHigh:       15 * time.Second,
		RetryUrgent:     10 * time.Second,
		NotificationTTL: 2 * time.Minute,
		DriverLockTTL:   10 * time.Second,
		AvgSpeedKmh:     30,
		Now:             h.clock.Now,
	})
	h.pricing = service.NewPricingService(h.locations, h.store.Requests(), log, service.DefaultPricingConfig())
	h.negotiator = service.NewNegotiator(h.store, h.locator, h.dispatcher, h.pricing, h.locations, notifier, h.publisher, log, service.BiddingConfig{
		Window:          5 * time.Minute,
		RaiseIncrement:  500,
		MaxRounds:       3,
		NotificationTTL: 2 * time.Minute,
		Now:             h.clock.Now,
	})
	h.arrival = service.NewArrivalService(h.store, notifier, h.publisher, log, service.ArrivalConfig{
		MinElapsed:       2 * time.Minute,
		MaxDistanceM:     100,
		LowCreditBalance: 5,
		Now:              h.clock.Now,
	})
	h.escrow = service.NewEscrowService(h.store, h.gateway, notifier, h.publisher, log, h.clock.Now)
	h.requests = service.NewRequestService(h.store, h.dispatcher, h.locations, notifier, h.publisher, log, h.clock.Now)
	h.drivers = service.NewDriverService(h.store, h.locations, h.cache, h.locator, log, h.clock.Now)

	return h
}

// offsetNorth returns the point km kilometers due north of p.
func offsetNorth(p domain.Point, km float64) domain.Point {
	return domain.Point{Lat: p.Lat + km/(domain.EarthRadiusKm*math.Pi/180), Lng: p.Lng}
}

// addDriver seeds a verified, available driver km kilometers north of the pickup.
func (h *harness) addDriver(id string, km, rating float64, credits int) {
	h.store.AddDriver(domain.Driver{
		ID:            id,
		Name:          "Driver " + id,
		Phone:         "+243-" + id,
		RatingAverage: rating,
		Verified:      true,
		CreatedAt:     startTime,
	}, credits)
	h.locations.SetLocation(domain.DriverLocation{
		DriverID:     id,
		Position:     offsetNorth(kinshasa, km),
		Available:    true,
		VehicleClass: domain.VehicleClassStandard,
		LastPing:     h.clock.Now(),
	})
}

// addRequest seeds a pending taxi request at the pickup.
func (h *harness) addRequest(id string, priority domain.Priority, estimate int64) {
	h.store.AddRequest(domain.Request{
		ID:             id,
		RequesterID:    "rider-" + id,
		Pickup:         kinshasa,
		ServiceType:    domain.ServiceTypeTaxi,
		Priority:       priority,
		Status:         domain.RequestStatusPending,
		EstimatedPrice: estimate,
		Currency:       "CDF",
		CreatedAt:      h.clock.Now(),
	})
}

// assign dispatches a request and requires it to land on driverID.
func (h *harness) assign(t *testing.T, requestID, driverID string) {
	t.Helper()
	result, err := h.dispatcher.Dispatch(h.ctx, service.DispatchCommand{RequestID: requestID})
	require.NoError(t, err)
	require.Equal(t, service.DispatchAssigned, result.Outcome)
	require.Equal(t, driverID, result.DriverID)
}
