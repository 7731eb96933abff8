package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/service"
)

// openBidding seeds a pending request with two nearby drivers and opens a window at 5000.
func openBidding(t *testing.T, h *harness) *service.BiddingResult {
	t.Helper()
	h.addDriver("d-1", 1, 4.6, 10)
	h.addDriver("d-2", 2, 4.2, 10)
	h.addRequest("req-1", domain.PriorityNormal, 5000)

	result, err := h.negotiator.OpenBidding(h.ctx, service.OpenBiddingCommand{
		RequestID:     "req-1",
		RequesterID:   "rider-req-1",
		ProposedPrice: 5000,
	})
	require.NoError(t, err)
	return result
}

func TestBidding_CounterOfferBoundsAndAccept(t *testing.T) {
	h := newHarness(t)
	opened := openBidding(t, h)

	assert.Equal(t, 2, opened.DriversNotified)
	assert.Equal(t, 1, opened.Session.Round)
	assert.Equal(t, startTime.Add(5*time.Minute), opened.Session.WindowEndsAt)
	require.Len(t, h.store.NotificationsFor("d-1"), 1)
	assert.False(t, h.store.NotificationsFor("d-1")[0].Exclusive, "broadcasts are not exclusive")

	_, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{
		RequestID:      "req-1",
		DriverID:       "d-2",
		Price:          8000,
		IsCounterOffer: true,
	})
	var bounds *service.PriceOutOfBoundsError
	require.ErrorAs(t, err, &bounds)
	assert.Equal(t, int64(2500), bounds.Min)
	assert.Equal(t, int64(7500), bounds.Max)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	assert.Zero(t, h.store.OfferCount(), "rejected counter-offers are never stored")

	offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{
		RequestID:      "req-1",
		DriverID:       "d-1",
		Price:          4000,
		IsCounterOffer: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusPending, offer.Status)
	assert.Equal(t, int64(4000), offer.Price)
	assert.InDelta(t, 2.0, offer.ETAMinutes, 0.01)
	assert.Equal(t, opened.Session.WindowEndsAt, offer.ExpiresAt)

	result, err := h.negotiator.AcceptOffer(h.ctx, service.AcceptOfferCommand{
		OfferID:     offer.ID,
		RequesterID: "rider-req-1",
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyHandled)
	assert.Equal(t, domain.RequestStatusDriverAssigned, result.Status)
	assert.Equal(t, int64(4000), result.Price)

	stored := h.store.Request("req-1")
	assert.Equal(t, domain.RequestStatusDriverAssigned, stored.Status)
	assert.Equal(t, "d-1", stored.DriverID)
	assert.Equal(t, int64(4000), stored.AgreedPrice)
	assert.Equal(t, domain.OfferStatusAccepted, h.store.Offer(offer.ID).Status)
	assert.Equal(t, domain.BiddingStatusAccepted, h.store.Session("req-1").Status)

	loc, _ := h.locations.Location("d-1")
	assert.False(t, loc.Available)
	assert.Equal(t, 1, h.publisher.Count(events.OfferAccepted))
}

func TestBidding_AcceptRejectsOtherOffers(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)

	first, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), first.Price, "plain offers take the proposed price")
	second, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{
		RequestID: "req-1", DriverID: "d-2", Price: 4500, IsCounterOffer: true,
	})
	require.NoError(t, err)

	offers, err := h.negotiator.ListOffers(h.ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, second.ID, offers[0].ID, "cheapest first")

	_, err = h.negotiator.AcceptOffer(h.ctx, service.AcceptOfferCommand{OfferID: second.ID, RequesterID: "rider-req-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusRejected, h.store.Offer(first.ID).Status)

	late, err := h.negotiator.AcceptOffer(h.ctx, service.AcceptOfferCommand{OfferID: first.ID, RequesterID: "rider-req-1"})
	require.NoError(t, err)
	assert.True(t, late.AlreadyHandled)
	assert.Equal(t, "d-2", late.DriverID)
	assert.Equal(t, int64(4500), late.Price)
}

func TestBidding_ConcurrentAcceptsAssignOnce(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)
	h.addDriver("d-3", 3, 4.0, 10)
	h.addDriver("d-4", 4, 3.8, 10)

	var offerIDs []string
	for _, driverID := range []string{"d-1", "d-2", "d-3", "d-4"} {
		offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: driverID})
		require.NoError(t, err)
		offerIDs = append(offerIDs, offer.ID)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for _, id := range offerIDs {
		wg.Add(1)
		go func(offerID string) {
			defer wg.Done()
			result, err := h.negotiator.AcceptOffer(h.ctx, service.AcceptOfferCommand{OfferID: offerID, RequesterID: "rider-req-1"})
			if !assert.NoError(t, err) {
				return
			}
			if !result.AlreadyHandled {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	stored := h.store.Request("req-1")
	assert.Equal(t, domain.RequestStatusDriverAssigned, stored.Status)

	accepted := 0
	for _, id := range offerIDs {
		if h.store.Offer(id).Status == domain.OfferStatusAccepted {
			accepted++
			assert.Equal(t, h.store.Offer(id).DriverID, stored.DriverID)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestBidding_AcceptRacingDispatchAssignsOnce(t *testing.T) {
	for round := 0; round < 25; round++ {
		h := newHarness(t)
		openBidding(t, h)
		// Dispatch prefers d-1; the rider accepts d-2.
		offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-2"})
		require.NoError(t, err)

		var (
			wg          sync.WaitGroup
			dispatched  *service.DispatchResult
			accepted    *service.AcceptOfferResult
			dispatchErr error
			acceptErr   error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			dispatched, dispatchErr = h.dispatcher.Dispatch(h.ctx, service.DispatchCommand{RequestID: "req-1"})
		}()
		go func() {
			defer wg.Done()
			accepted, acceptErr = h.negotiator.AcceptOffer(h.ctx, service.AcceptOfferCommand{OfferID: offer.ID, RequesterID: "rider-req-1"})
		}()
		wg.Wait()
		require.NoError(t, dispatchErr)
		require.NoError(t, acceptErr)

		var winners []string
		if dispatched.Outcome == service.DispatchAssigned {
			winners = append(winners, dispatched.DriverID)
		} else {
			assert.Equal(t, service.DispatchAlreadyHandled, dispatched.Outcome)
		}
		if !accepted.AlreadyHandled {
			winners = append(winners, accepted.DriverID)
		}
		require.Len(t, winners, 1, "round %d", round)

		stored := h.store.Request("req-1")
		assert.Equal(t, domain.RequestStatusDriverAssigned, stored.Status)
		assert.Equal(t, winners[0], stored.DriverID)
		assert.Equal(t, "req-1", h.locks.Owner(winners[0]))
		if winners[0] == "d-2" {
			assert.Equal(t, domain.OfferStatusAccepted, h.store.Offer(offer.ID).Status)
			assert.Empty(t, h.locks.Owner("d-1"), "the losing dispatch releases its reservation")
		} else {
			assert.Equal(t, "d-1", stored.DriverID)
			assert.Empty(t, h.locks.Owner("d-2"), "the losing accept releases its reservation")
		}
		assert.Equal(t, 1, h.publisher.Count(events.RequestAssigned))
	}
}

func TestBidding_AcceptRefusesDriverReservedByDispatch(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d-1", 1, 4.6, 10)
	h.addRequest("req-x", domain.PriorityNormal, 5000)
	h.addRequest("req-y", domain.PriorityNormal, 5000)

	_, err := h.negotiator.OpenBidding(h.ctx, service.OpenBiddingCommand{
		RequestID:     "req-y",
		RequesterID:   "rider-req-y",
		ProposedPrice: 5000,
	})
	require.NoError(t, err)
	offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-y", DriverID: "d-1"})
	require.NoError(t, err)

	// The availability flip fails, so d-1 still looks free in the location index.
	h.locations.SetAvailabilityError = errors.New("redis unavailable")
	h.assign(t, "req-x", "d-1")

	_, err = h.negotiator.AcceptOffer(h.ctx, service.AcceptOfferCommand{OfferID: offer.ID, RequesterID: "rider-req-y"})
	assert.ErrorIs(t, err, service.ErrDriverUnavailable)

	assert.Equal(t, domain.RequestStatusPending, h.store.Request("req-y").Status)
	assert.Empty(t, h.store.Request("req-y").DriverID)
	assert.Equal(t, domain.OfferStatusPending, h.store.Offer(offer.ID).Status)
	assert.Equal(t, "req-x", h.locks.Owner("d-1"))
	assert.Equal(t, domain.BiddingStatusOpen, h.store.Session("req-y").Status)
}

func TestBidding_SubmitOfferRequiresReachableDriver(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)
	h.addDriver("d-busy", 1.5, 4.5, 10)
	require.NoError(t, h.locations.SetAvailability(h.ctx, "d-busy", false))
	h.addDriver("d-far", 8, 4.5, 10)
	h.store.AddDriver(domain.Driver{ID: "d-ghost", Name: "Driver d-ghost", Verified: true, CreatedAt: startTime}, 10)

	_, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-busy"})
	assert.ErrorIs(t, err, service.ErrDriverUnavailable)

	_, err = h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-ghost"})
	assert.ErrorIs(t, err, service.ErrDriverUnavailable)

	_, err = h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-far"})
	assert.ErrorIs(t, err, service.ErrDriverOutOfRange)
	assert.ErrorIs(t, err, service.ErrPreconditionFailed)

	assert.Zero(t, h.store.OfferCount(), "unreachable drivers never get an offer stored")
}

func TestBidding_SubmitOfferGuards(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)
	h.addDriver("d-broke", 1.5, 4.0, 0)

	_, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-broke"})
	var credits *service.InsufficientCreditsError
	require.ErrorAs(t, err, &credits)
	assert.Equal(t, 0, credits.Balance)

	_, err = h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-1"})
	require.NoError(t, err)
	_, err = h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-1"})
	assert.ErrorIs(t, err, service.ErrOfferAlreadySubmitted)

	h.clock.Advance(5 * time.Minute)
	_, err = h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-2"})
	assert.ErrorIs(t, err, service.ErrBiddingClosed)
}

func TestBidding_ExpiredOfferCannotBeAccepted(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)

	offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-1"})
	require.NoError(t, err)

	h.clock.Advance(6 * time.Minute)
	_, err = h.negotiator.AcceptOffer(h.ctx, service.AcceptOfferCommand{OfferID: offer.ID, RequesterID: "rider-req-1"})
	assert.ErrorIs(t, err, service.ErrOfferExpired)

	offers, err := h.negotiator.ListOffers(h.ctx, "req-1")
	require.NoError(t, err)
	assert.Empty(t, offers, "expired offers are hidden without a sweep")

	expiredOffers, expiredSessions, err := h.negotiator.SweepExpired(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expiredOffers)
	assert.Equal(t, int64(1), expiredSessions)
	assert.Equal(t, domain.OfferStatusExpired, h.store.Offer(offer.ID).Status)
}

func TestBidding_AcceptRequiresAvailableDriver(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)

	offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-1"})
	require.NoError(t, err)
	require.NoError(t, h.locations.SetAvailability(h.ctx, "d-1", false))

	_, err = h.negotiator.AcceptOffer(h.ctx, service.AcceptOfferCommand{OfferID: offer.ID, RequesterID: "rider-req-1"})
	assert.ErrorIs(t, err, service.ErrDriverUnavailable)
	assert.Equal(t, domain.RequestStatusPending, h.store.Request("req-1").Status)
}

func TestBidding_OnlyRequesterMayAccept(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)

	offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-1"})
	require.NoError(t, err)

	_, err = h.negotiator.AcceptOffer(h.ctx, service.AcceptOfferCommand{OfferID: offer.ID, RequesterID: "someone-else"})
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestBidding_RejectOfferIsIdempotent(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)

	offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-1"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rejected, err := h.negotiator.RejectOffer(h.ctx, service.RejectOfferCommand{OfferID: offer.ID, RequesterID: "rider-req-1"})
		require.NoError(t, err)
		assert.Equal(t, domain.OfferStatusRejected, rejected.Status)
	}
	assert.Equal(t, 1, h.publisher.Count(events.OfferRejected))
	assert.Equal(t, domain.BiddingStatusOpen, h.store.Session("req-1").Status, "rejecting one offer keeps the window open")
}

func TestBidding_RaisePrice(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)

	raised, err := h.negotiator.RaisePrice(h.ctx, service.RaisePriceCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5500), raised.Session.ProposedPrice)
	assert.Equal(t, 2, raised.Session.Round)
	assert.Zero(t, raised.DriversNotified, "an open window is not re-broadcast")

	// An expired window is reopened and re-broadcast.
	h.clock.Advance(6 * time.Minute)
	for _, id := range []string{"d-1", "d-2"} {
		loc, _ := h.locations.Location(id)
		loc.LastPing = h.clock.Now()
		h.locations.SetLocation(loc)
	}
	raised, err = h.negotiator.RaisePrice(h.ctx, service.RaisePriceCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(6000), raised.Session.ProposedPrice)
	assert.Equal(t, 3, raised.Session.Round)
	assert.Equal(t, 2, raised.DriversNotified)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), raised.Session.WindowEndsAt)

	_, err = h.negotiator.RaisePrice(h.ctx, service.RaisePriceCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	assert.ErrorIs(t, err, service.ErrMaxRoundsReached)
}

func TestBidding_RaisePriceStopsAtCeiling(t *testing.T) {
	h := newHarness(t)
	h.addRequest("req-1", domain.PriorityNormal, 5000)
	_, err := h.negotiator.OpenBidding(h.ctx, service.OpenBiddingCommand{
		RequestID:     "req-1",
		RequesterID:   "rider-req-1",
		ProposedPrice: 7200,
	})
	require.NoError(t, err)

	raised, err := h.negotiator.RaisePrice(h.ctx, service.RaisePriceCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), raised.Session.ProposedPrice, "capped at 1.5x the estimate")

	_, err = h.negotiator.RaisePrice(h.ctx, service.RaisePriceCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	assert.ErrorIs(t, err, service.ErrPriceCeilingReached)
}

func TestBidding_OpenGuards(t *testing.T) {
	h := newHarness(t)
	h.addRequest("req-1", domain.PriorityNormal, 5000)
	h.addRequest("req-free", domain.PriorityNormal, 0)

	_, err := h.negotiator.OpenBidding(h.ctx, service.OpenBiddingCommand{RequestID: "req-1", RequesterID: "intruder"})
	assert.ErrorIs(t, err, service.ErrNotRequester)

	_, err = h.negotiator.OpenBidding(h.ctx, service.OpenBiddingCommand{RequestID: "req-1", RequesterID: "rider-req-1", ProposedPrice: 9000})
	var bounds *service.PriceOutOfBoundsError
	assert.ErrorAs(t, err, &bounds)

	_, err = h.negotiator.OpenBidding(h.ctx, service.OpenBiddingCommand{RequestID: "req-free", RequesterID: "rider-req-free"})
	assert.ErrorIs(t, err, service.ErrMissingEstimate)

	opened, err := h.negotiator.OpenBidding(h.ctx, service.OpenBiddingCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	require.NoError(t, err)
	// Two open requests and no drivers nearby: full surge, capped at the ceiling.
	assert.Equal(t, int64(7500), opened.Session.ProposedPrice)

	_, err = h.negotiator.OpenBidding(h.ctx, service.OpenBiddingCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	assert.ErrorIs(t, err, service.ErrBiddingAlreadyOpen)
}

func TestBidding_FallbackToDispatch(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)

	offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{
		RequestID: "req-1", DriverID: "d-2", Price: 3000, IsCounterOffer: true,
	})
	require.NoError(t, err)

	result, err := h.negotiator.FallbackToDispatch(h.ctx, service.FallbackCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	require.NoError(t, err)
	assert.Equal(t, service.DispatchAssigned, result.Outcome)
	assert.Equal(t, "d-1", result.DriverID)
	assert.Equal(t, int64(5000), result.Price, "fallback dispatches at the original estimate")

	assert.Equal(t, domain.BiddingStatusClosed, h.store.Session("req-1").Status)
	assert.Equal(t, domain.OfferStatusRejected, h.store.Offer(offer.ID).Status)
	assert.Equal(t, 1, h.publisher.Count(events.BiddingClosed))
}

func TestBidding_FallbackAfterAcceptIsRefused(t *testing.T) {
	h := newHarness(t)
	openBidding(t, h)

	offer, err := h.negotiator.SubmitOffer(h.ctx, service.SubmitOfferCommand{RequestID: "req-1", DriverID: "d-1"})
	require.NoError(t, err)
	_, err = h.negotiator.AcceptOffer(h.ctx, service.AcceptOfferCommand{OfferID: offer.ID, RequesterID: "rider-req-1"})
	require.NoError(t, err)

	_, err = h.negotiator.FallbackToDispatch(h.ctx, service.FallbackCommand{RequestID: "req-1", RequesterID: "rider-req-1"})
	assert.ErrorIs(t, err, service.ErrBiddingClosed)
}

type countingExpirer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingExpirer) SweepExpired(ctx context.Context) (int64, int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return 1, 0, e.err
}

func (e *countingExpirer) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestSweeper_RunsUntilCancelled(t *testing.T) {
	h := newHarness(t)
	expirer := &countingExpirer{}
	sweeper := service.NewSweeper(expirer, 5*time.Millisecond, h.log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return expirer.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_LogsFailures(t *testing.T) {
	h := newHarness(t)
	expirer := &countingExpirer{err: errors.New("db down")}

	service.NewSweeper(expirer, time.Minute, h.log).SweepOnce(h.ctx)

	require.NotNil(t, h.logHook.LastEntry())
	assert.Equal(t, "expiry sweep failed", h.logHook.LastEntry().Message)
}
