package tests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
	"dispatch/internal/service"
)

func boolPtr(b bool) *bool { return &b }

func TestRegisterDriver(t *testing.T) {
	h := newHarness(t)

	registered, err := h.drivers.RegisterDriver(h.ctx, service.RegisterDriverCommand{
		Name:          "Mbala",
		Phone:         "+243810000001",
		RatingAverage: 4.7,
		TotalRides:    120,
		Verified:      true,
		Credits:       20,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, registered.Driver.ID)
	assert.Equal(t, 20, registered.Credits.RidesRemaining)
	assert.Equal(t, 20, h.store.CreditBalance(registered.Driver.ID).RidesRemaining)

	_, err = h.drivers.RegisterDriver(h.ctx, service.RegisterDriverCommand{Name: "Copy", Phone: "+243810000001"})
	assert.ErrorIs(t, err, service.ErrStateConflict)

	_, err = h.drivers.RegisterDriver(h.ctx, service.RegisterDriverCommand{Name: "Bad", Phone: "+1", RatingAverage: 6})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = h.drivers.RegisterDriver(h.ctx, service.RegisterDriverCommand{
		Name:         "Backwards",
		Phone:        "+2",
		PlanStartsAt: startTime,
		PlanEndsAt:   startTime.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestUpdateLocation_FirstPingMarksAvailable(t *testing.T) {
	h := newHarness(t)
	h.store.AddDriver(domain.Driver{ID: "d-1", Phone: "+1"}, 5)

	loc, err := h.drivers.UpdateLocation(h.ctx, service.UpdateLocationCommand{
		DriverID:     "d-1",
		Position:     kinshasa,
		Heading:      90,
		VehicleClass: domain.VehicleClassMoto,
	})
	require.NoError(t, err)
	assert.True(t, loc.Available)
	assert.Equal(t, startTime, loc.LastPing)

	require.NoError(t, h.drivers.SetAvailability(h.ctx, "d-1", false))

	h.clock.Advance(10 * time.Second)
	moved := offsetNorth(kinshasa, 0.2)
	loc, err = h.drivers.UpdateLocation(h.ctx, service.UpdateLocationCommand{DriverID: "d-1", Position: moved})
	require.NoError(t, err)
	assert.False(t, loc.Available, "a ping keeps the current availability")
	assert.Equal(t, domain.VehicleClassMoto, loc.VehicleClass, "a ping keeps the current class")
	assert.Equal(t, moved, loc.Position)

	loc, err = h.drivers.UpdateLocation(h.ctx, service.UpdateLocationCommand{DriverID: "d-1", Position: moved, Available: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, loc.Available)
}

func TestUpdateLocation_Rejections(t *testing.T) {
	h := newHarness(t)
	h.store.AddDriver(domain.Driver{ID: "d-1", Phone: "+1"}, 5)

	_, err := h.drivers.UpdateLocation(h.ctx, service.UpdateLocationCommand{DriverID: "ghost", Position: kinshasa})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = h.drivers.UpdateLocation(h.ctx, service.UpdateLocationCommand{DriverID: "d-1", Position: domain.Point{Lat: 91}})
	assert.ErrorIs(t, err, service.ErrInvalidLocation)

	_, err = h.drivers.UpdateLocation(h.ctx, service.UpdateLocationCommand{DriverID: "d-1", Position: kinshasa, Heading: 360})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	err = h.drivers.SetAvailability(h.ctx, "d-1", true)
	assert.ErrorIs(t, err, repository.ErrNotFound, "availability needs a location record")
}

func TestGoOffline(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 10)

	candidates, err := h.drivers.NearbyDrivers(h.ctx, service.NearbyQuery{
		Point:       kinshasa,
		RadiusKm:    5,
		ServiceType: domain.ServiceTypeTaxi,
	}, domain.PriorityNormal)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, h.cache.Cached("d-1"), "the search warms the profile cache")

	require.NoError(t, h.drivers.GoOffline(h.ctx, "d-1"))
	_, ok := h.locations.Location("d-1")
	assert.False(t, ok)
	assert.False(t, h.cache.Cached("d-1"))

	candidates, err = h.drivers.NearbyDrivers(h.ctx, service.NearbyQuery{
		Point:       kinshasa,
		RadiusKm:    5,
		ServiceType: domain.ServiceTypeTaxi,
	}, domain.PriorityNormal)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestNearbyDrivers_RankedAndFiltered(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-near", 1, 3.0, 10)
	h.addDriver("d-best", 1.5, 5.0, 10)
	h.addDriver("d-van", 0.5, 5.0, 10)

	van, _ := h.locations.Location("d-van")
	van.VehicleClass = domain.VehicleClassVan
	h.locations.SetLocation(van)

	candidates, err := h.drivers.NearbyDrivers(h.ctx, service.NearbyQuery{
		Point:        kinshasa,
		RadiusKm:     5,
		ServiceType:  domain.ServiceTypeTaxi,
		VehicleClass: domain.VehicleClassStandard,
	}, "")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "d-best", candidates[0].DriverID)
	assert.Equal(t, "d-near", candidates[1].DriverID)
	assert.Greater(t, candidates[0].Score, candidates[1].Score)

	_, err = h.drivers.NearbyDrivers(h.ctx, service.NearbyQuery{Point: kinshasa, ServiceType: domain.ServiceTypeTaxi}, "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestLocator_CreditPlanWindow(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-active", 2, 4.5, 10)

	registered, err := h.drivers.RegisterDriver(h.ctx, service.RegisterDriverCommand{
		Name:          "Lapsed",
		Phone:         "+243-lapsed",
		RatingAverage: 5,
		Credits:       10,
		PlanStartsAt:  startTime.Add(-48 * time.Hour),
		PlanEndsAt:    startTime.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	lapsed := registered.Driver.ID
	_, err = h.drivers.UpdateLocation(h.ctx, service.UpdateLocationCommand{DriverID: lapsed, Position: offsetNorth(kinshasa, 1)})
	require.NoError(t, err)

	taxi := h.locator.FindNearbyDrivers(h.ctx, service.NearbyQuery{Point: kinshasa, RadiusKm: 5, ServiceType: domain.ServiceTypeTaxi})
	require.Len(t, taxi, 1)
	assert.Equal(t, "d-active", taxi[0].DriverID)
	assert.Equal(t, 10, taxi[0].RidesRemaining)
	assert.InDelta(t, 2.0, taxi[0].DistanceKm, 0.001)

	delivery := h.locator.FindNearbyDrivers(h.ctx, service.NearbyQuery{Point: kinshasa, RadiusKm: 5, ServiceType: domain.ServiceTypeDelivery})
	assert.Len(t, delivery, 2, "plans only gate credit-based services")
}
