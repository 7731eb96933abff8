package tests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/service"
)

func TestCreateRequest_Defaults(t *testing.T) {
	h := newHarness(t)

	result, err := h.requests.CreateRequest(h.ctx, service.CreateRequestCommand{
		RequesterID:    "rider-1",
		Pickup:         kinshasa,
		ServiceType:    domain.ServiceTypeTaxi,
		EstimatedPrice: 4000,
	})
	require.NoError(t, err)

	req := result.Request
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, domain.RequestStatusPending, req.Status)
	assert.Equal(t, domain.PriorityNormal, req.Priority)
	assert.Equal(t, service.DefaultCurrency, req.Currency)
	assert.Nil(t, result.Dispatch)
	assert.Equal(t, 1, h.publisher.Count(events.RequestCreated))
}

func TestCreateRequest_AutoDispatch(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 10)

	result, err := h.requests.CreateRequest(h.ctx, service.CreateRequestCommand{
		RequesterID:    "rider-1",
		Pickup:         kinshasa,
		ServiceType:    domain.ServiceTypeTaxi,
		Priority:       domain.PriorityHigh,
		EstimatedPrice: 4000,
		AutoDispatch:   true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Dispatch)
	assert.Equal(t, service.DispatchAssigned, result.Dispatch.Outcome)
	assert.Equal(t, domain.RequestStatusDriverAssigned, result.Request.Status)
	assert.Equal(t, "d-1", result.Request.DriverID)
}

func TestCreateRequest_Validation(t *testing.T) {
	h := newHarness(t)
	bad := domain.Point{Lat: 0, Lng: 200}

	tests := []struct {
		name string
		cmd  service.CreateRequestCommand
		want error
	}{
		{"missing requester", service.CreateRequestCommand{Pickup: kinshasa, ServiceType: domain.ServiceTypeTaxi}, service.ErrInvalidInput},
		{"bad pickup", service.CreateRequestCommand{RequesterID: "r", Pickup: bad, ServiceType: domain.ServiceTypeTaxi}, service.ErrInvalidLocation},
		{"bad destination", service.CreateRequestCommand{RequesterID: "r", Pickup: kinshasa, Destination: &bad, ServiceType: domain.ServiceTypeTaxi}, service.ErrInvalidLocation},
		{"bad service type", service.CreateRequestCommand{RequesterID: "r", Pickup: kinshasa, ServiceType: "boat"}, service.ErrInvalidServiceType},
		{"bad vehicle class", service.CreateRequestCommand{RequesterID: "r", Pickup: kinshasa, ServiceType: domain.ServiceTypeTaxi, VehicleClass: "tank"}, service.ErrInvalidVehicleClass},
		{"bad priority", service.CreateRequestCommand{RequesterID: "r", Pickup: kinshasa, ServiceType: domain.ServiceTypeTaxi, Priority: "now"}, service.ErrInvalidPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.requests.CreateRequest(h.ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRequest_FullRideLifecycle(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 10)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")

	trip := service.TripCommand{RequestID: "req-1", DriverID: "d-1"}

	_, err := h.requests.StartTrip(h.ctx, trip)
	assert.ErrorIs(t, err, service.ErrInvalidTransition, "cannot start before arrival")

	h.clock.Advance(3 * time.Minute)
	_, err = h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{RequestID: "req-1", DriverID: "d-1", Position: kinshasa})
	require.NoError(t, err)

	started, err := h.requests.StartTrip(h.ctx, trip)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusInProgress, started.Status)

	again, err := h.requests.StartTrip(h.ctx, trip)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusInProgress, again.Status, "repeating a step is a no-op")

	completed, err := h.requests.CompleteTrip(h.ctx, trip)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusCompleted, completed.Status)

	loc, _ := h.locations.Location("d-1")
	assert.True(t, loc.Available, "finishing a trip frees the driver")

	_, err = h.requests.CompleteTrip(h.ctx, service.TripCommand{RequestID: "req-1", DriverID: "d-2"})
	assert.ErrorIs(t, err, service.ErrNotAssignedDriver)
}

func TestRequest_DeliveryEndsDelivered(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-courier", 1, 4.0, 0)
	h.store.AddRequest(domain.Request{
		ID:          "req-parcel",
		RequesterID: "shop-1",
		Pickup:      kinshasa,
		ServiceType: domain.ServiceTypeDelivery,
		Priority:    domain.PriorityNormal,
		Status:      domain.RequestStatusPending,
	})
	h.assign(t, "req-parcel", "d-courier")
	h.clock.Advance(3 * time.Minute)

	_, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{RequestID: "req-parcel", DriverID: "d-courier", Position: kinshasa})
	require.NoError(t, err)
	trip := service.TripCommand{RequestID: "req-parcel", DriverID: "d-courier"}
	_, err = h.requests.StartTrip(h.ctx, trip)
	require.NoError(t, err)

	done, err := h.requests.CompleteTrip(h.ctx, trip)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusDelivered, done.Status)
	assert.True(t, done.Status.SettlementEligible())
}

func TestCancelRequest(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 10)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")

	_, err := h.requests.CancelRequest(h.ctx, service.CancelRequestCommand{RequestID: "req-1", CancelledBy: "stranger"})
	assert.ErrorIs(t, err, service.ErrForbidden)

	cancelled, err := h.requests.CancelRequest(h.ctx, service.CancelRequestCommand{
		RequestID:   "req-1",
		CancelledBy: "rider-req-1",
		Reason:      "changed plans",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusCancelled, cancelled.Status)

	stored := h.store.Request("req-1")
	assert.Equal(t, domain.RequestStatusCancelled, stored.Status)
	assert.Equal(t, "changed plans", stored.CancelReason)

	loc, _ := h.locations.Location("d-1")
	assert.True(t, loc.Available)

	var notified bool
	for _, n := range h.store.NotificationsFor("d-1") {
		notified = notified || n.Type == domain.NotificationRequestCancelled
	}
	assert.True(t, notified, "the driver hears about the cancellation")

	again, err := h.requests.CancelRequest(h.ctx, service.CancelRequestCommand{RequestID: "req-1", CancelledBy: "rider-req-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusCancelled, again.Status)
	assert.Equal(t, 1, h.publisher.Count(events.RequestCancelled))
}

func TestCancelRequest_ClosesBidding(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)
	offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-1"})
	require.NoError(t, err)

	_, err = h.requests.CancelRequest(h.ctx, service.CancelRequestCommand{RequestID: "req-1", CancelledBy: "rider-req-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.BiddingStatusClosed, h.store.Session("req-1").Status)
	assert.Equal(t, domain.OfferStatusRejected, h.store.Offer(offer.ID).Status)
}

func TestCancelRequest_InProgressRefused(t *testing.T) {
	h := newHarness(t)
	h.store.AddRequest(domain.Request{
		ID:          "req-1",
		RequesterID: "rider-1",
		Pickup:      kinshasa,
		ServiceType: domain.ServiceTypeTaxi,
		Status:      domain.RequestStatusInProgress,
		DriverID:    "d-1",
	})

	_, err := h.requests.CancelRequest(h.ctx, service.CancelRequestCommand{RequestID: "req-1", CancelledBy: "rider-1"})
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
	assert.Equal(t, int32(1), h.store.RollbackCount)
}

func TestRedispatch_MovesToAnotherDriver(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 10)
	h.addDriver("d-2", 2, 4.5, 10)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")

	result, err := h.requests.Redispatch(h.ctx, service.RedispatchCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	require.NoError(t, err)
	assert.Equal(t, service.DispatchAssigned, result.Outcome)
	assert.Equal(t, "d-2", result.DriverID, "the previous driver is still busy during the search")

	loc, _ := h.locations.Location("d-1")
	assert.True(t, loc.Available, "the previous driver is freed afterwards")
	assert.Equal(t, 1, h.publisher.Count(events.RequestReopened))
}

func TestRedispatch_RefusedAfterArrival(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 10)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")
	h.clock.Advance(3 * time.Minute)
	_, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{RequestID: "req-1", DriverID: "d-1", Position: kinshasa})
	require.NoError(t, err)

	_, err = h.requests.Redispatch(h.ctx, service.RedispatchCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = h.requests.Redispatch(h.ctx, service.RedispatchCommand{RequestID: "req-1", RequesterID: "someone"})
	assert.ErrorIs(t, err, service.ErrNotRequester)
}
