package tests

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/service"
)

func TestArrival_TooEarlyThenConfirmed(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 1)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")

	near := offsetNorth(kinshasa, 0.04)

	h.clock.Advance(90 * time.Second)
	_, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{RequestID: "req-1", DriverID: "d-1", Position: near})
	var early *service.TooEarlyError
	require.ErrorAs(t, err, &early)
	assert.Equal(t, 30, early.RemainingSeconds())
	assert.ErrorIs(t, err, service.ErrPreconditionFailed)
	assert.Equal(t, 1, h.store.CreditBalance("d-1").RidesRemaining, "a rejected confirmation spends nothing")

	h.clock.Advance(35 * time.Second)
	result, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{RequestID: "req-1", DriverID: "d-1", Position: near})
	require.NoError(t, err)

	assert.Equal(t, domain.RequestStatusDriverArrived, result.Status)
	assert.InDelta(t, 40, result.DistanceMeters, 0.5)
	assert.True(t, result.CreditConsumed)
	assert.Equal(t, 0, result.CreditsRemaining)
	assert.True(t, result.LowBalance)

	assert.Equal(t, 0, h.store.CreditBalance("d-1").RidesRemaining)
	assert.Equal(t, 1, h.store.CreditBalance("d-1").RidesUsed)
	consumptions := h.store.Consumptions()
	require.Len(t, consumptions, 1)
	assert.Equal(t, 1, consumptions[0].BalanceBefore)
	assert.Equal(t, 0, consumptions[0].BalanceAfter)
	assert.Equal(t, "req-1", consumptions[0].RequestID)

	var lowBalance int
	for _, n := range h.store.NotificationsFor("d-1") {
		if n.Type == domain.NotificationLowCreditBalance {
			lowBalance++
		}
	}
	assert.Equal(t, 1, lowBalance)
	assert.Len(t, h.store.NotificationsFor("rider-req-1"), 1)
	assert.Equal(t, 1, h.publisher.Count(events.CreditConsumed))

	stored := h.store.Request("req-1")
	assert.Equal(t, domain.RequestStatusDriverArrived, stored.Status)
	assert.Equal(t, h.clock.Now(), stored.ArrivedAt)
}

func TestArrival_TooFar(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 10)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")
	h.clock.Advance(3 * time.Minute)

	_, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{
		RequestID: "req-1",
		DriverID:  "d-1",
		Position:  offsetNorth(kinshasa, 0.25),
	})
	var far *service.TooFarError
	require.ErrorAs(t, err, &far)
	assert.InDelta(t, 250, far.DistanceMeters, 0.5)
	assert.Equal(t, 100.0, far.MaxMeters)
	assert.Equal(t, domain.RequestStatusDriverAssigned, h.store.Request("req-1").Status)
}

func TestArrival_BoundaryDistanceAccepted(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 10)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")
	h.clock.Advance(2 * time.Minute)

	result, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{
		RequestID: "req-1",
		DriverID:  "d-1",
		Position:  offsetNorth(kinshasa, 0.0999),
	})
	require.NoError(t, err)
	assert.Equal(t, 9, result.CreditsRemaining)
	assert.False(t, result.LowBalance)
}

func TestArrival_SecondConfirmationRejected(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 10)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")
	h.clock.Advance(3 * time.Minute)

	cmd := service.ConfirmArrivalCommand{RequestID: "req-1", DriverID: "d-1", Position: kinshasa}
	_, err := h.arrival.ConfirmArrival(h.ctx, cmd)
	require.NoError(t, err)

	_, err = h.arrival.ConfirmArrival(h.ctx, cmd)
	assert.ErrorIs(t, err, service.ErrRequestNotAssigned)
	assert.Equal(t, 9, h.store.CreditBalance("d-1").RidesRemaining, "credits are consumed once per arrival")
}

func TestArrival_WrongDriver(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 10)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")
	h.clock.Advance(3 * time.Minute)

	_, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{RequestID: "req-1", DriverID: "d-other", Position: kinshasa})
	assert.ErrorIs(t, err, service.ErrNotAssignedDriver)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestArrival_NoCreditsLeft(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 1)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")
	h.clock.Advance(3 * time.Minute)

	// The balance ran out between assignment and arrival.
	h.store.AddDriver(domain.Driver{ID: "d-1", Phone: "+243-d-1", RatingAverage: 4.5, Verified: true}, 0)

	_, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{RequestID: "req-1", DriverID: "d-1", Position: kinshasa})
	var credits *service.InsufficientCreditsError
	require.ErrorAs(t, err, &credits)
	assert.Equal(t, 0, credits.Balance)
	assert.Equal(t, domain.RequestStatusDriverAssigned, h.store.Request("req-1").Status)
}

func TestArrival_FailedAuditRollsBackCredit(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.5, 3)
	h.addRequest("req-1", domain.PriorityNormal, 3000)
	h.assign(t, "req-1", "d-1")
	h.clock.Advance(3 * time.Minute)
	h.store.RecordConsumptionError = errors.New("disk full")

	_, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{RequestID: "req-1", DriverID: "d-1", Position: kinshasa})
	require.Error(t, err)

	assert.Equal(t, 3, h.store.CreditBalance("d-1").RidesRemaining)
	assert.Equal(t, domain.RequestStatusDriverAssigned, h.store.Request("req-1").Status)
	assert.Equal(t, int32(1), h.store.RollbackCount)

	h.store.RecordConsumptionError = nil
	result, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{RequestID: "req-1", DriverID: "d-1", Position: kinshasa})
	require.NoError(t, err)
	assert.Equal(t, 2, result.CreditsRemaining)
	assert.True(t, result.LowBalance)
}

func TestArrival_DeliveryDoesNotConsumeCredits(t *testing.T) {
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

	result, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{RequestID: "req-parcel", DriverID: "d-courier", Position: kinshasa})
	require.NoError(t, err)
	assert.False(t, result.CreditConsumed)
	assert.False(t, result.LowBalance)
	assert.Empty(t, h.store.Consumptions())
	assert.Zero(t, h.publisher.Count(events.CreditConsumed))
}

func TestArrival_InvalidPosition(t *testing.T) {
	h := newHarness(t)
	h.addRequest("req-1", domain.PriorityNormal, 3000)

	_, err := h.arrival.ConfirmArrival(h.ctx, service.ConfirmArrivalCommand{
		RequestID: "req-1",
		DriverID:  "d-1",
		Position:  domain.Point{Lat: -95, Lng: 15},
	})
	assert.ErrorIs(t, err, service.ErrInvalidLocation)
}
