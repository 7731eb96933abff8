package service

import (
	"context"
	"errors"
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

// BiddingConfig holds negotiation parameters.
type BiddingConfig struct {
	Window          time.Duration
	RaiseIncrement  int64
	MaxRounds       int
	NotificationTTL time.Duration
	Now             func() time.Time
}

// errRaceLost aborts a unit of work whose conditional write matched nothing.
var errRaceLost = errors.New("race lost")

// Negotiator runs the bidding flow: broadcast, collect offers, accept one.
type Negotiator struct {
	store      repository.Store
	locator    *LocatorService
	dispatcher *Dispatcher
	pricing    *PricingService
	locations  redis.LocationStoreInterface
	notifier   *NotificationService
	publisher  events.Publisher
	log        logrus.FieldLogger
	cfg        BiddingConfig
}

// NewNegotiator creates a new Negotiator.
func NewNegotiator(
	store repository.Store,
	locator *LocatorService,
	dispatcher *Dispatcher,
	pricing *PricingService,
	locations redis.LocationStoreInterface,
	notifier *NotificationService,
	publisher events.Publisher,
	log logrus.FieldLogger,
	cfg BiddingConfig,
) *Negotiator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Negotiator{
		store:      store,
		locator:    locator,
		dispatcher: dispatcher,
		pricing:    pricing,
		locations:  locations,
		notifier:   notifier,
		publisher:  publisher,
		log:        log,
		cfg:        cfg,
	}
}

// OpenBiddingCommand contains the parameters for opening a bidding window.
type OpenBiddingCommand struct {
	RequestID      string `validate:"required"`
	RequesterID    string `validate:"required"`
	EstimatedPrice int64  `validate:"gte=0"` // Optional: zero uses the request's estimate
	ProposedPrice  int64  `validate:"gte=0"` // Optional: zero lets pricing suggest one
}

// BiddingResult describes an opened or repriced session.
type BiddingResult struct {
	Session         *domain.BiddingSession
	DriversNotified int
}

// OpenBidding starts the negotiation window and broadcasts the request to nearby drivers.
func (n *Negotiator) OpenBidding(ctx context.Context, cmd OpenBiddingCommand) (*BiddingResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	req, err := n.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != cmd.RequesterID {
		return nil, ErrNotRequester
	}
	if req.Status != domain.RequestStatusPending {
		return nil, ErrRequestNotPending
	}

	estimate := req.EstimatedPrice
	if cmd.EstimatedPrice > 0 {
		estimate = cmd.EstimatedPrice
	}
	if estimate <= 0 {
		return nil, ErrMissingEstimate
	}

	proposed := cmd.ProposedPrice
	if proposed > 0 {
		if !domain.PriceWithinBounds(proposed, estimate) {
			lo, hi := domain.PriceBounds(estimate)
			return nil, &PriceOutOfBoundsError{Price: proposed, Min: lo, Max: hi}
		}
	} else {
		proposed = n.pricing.ProposedPrice(ctx, req.Pickup, estimate)
	}

	now := n.cfg.Now()
	session := &domain.BiddingSession{
		RequestID:      req.ID,
		RequesterID:    req.RequesterID,
		EstimatedPrice: estimate,
		ProposedPrice:  proposed,
		Currency:       req.Currency,
		Round:          1,
		Status:         domain.BiddingStatusOpen,
		OpenedAt:       now,
		WindowEndsAt:   now.Add(n.cfg.Window),
	}
	if err := n.store.Bidding().Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrBiddingAlreadyOpen
		}
		return nil, fmt.Errorf("create bidding session: %w", err)
	}

	notified := n.broadcast(ctx, req, session)

	n.log.WithFields(logrus.Fields{
		"request_id":     req.ID,
		"estimate":       estimate,
		"proposed_price": proposed,
		"notified":       notified,
	}).Info("bidding opened")
	publish(ctx, n.publisher, n.log, events.BiddingOpened, req.ID, map[string]any{
		"estimated_price": estimate,
		"proposed_price":  proposed,
		"window_ends_at":  session.WindowEndsAt,
	}, now)

	return &BiddingResult{Session: session, DriversNotified: notified}, nil
}

func (n *Negotiator) broadcast(ctx context.Context, req *domain.Request, session *domain.BiddingSession) int {
	candidates := n.locator.FindNearbyDrivers(ctx, NearbyQuery{
		Point:        req.Pickup,
		RadiusKm:     n.dispatcher.RadiusFor(req.Priority),
		ServiceType:  req.ServiceType,
		VehicleClass: req.VehicleClass,
	})
	n.notifier.NotifyBiddingBroadcast(ctx, req, session, candidates)
	return len(candidates)
}

// SubmitOfferCommand contains the parameters for a driver's offer.
type SubmitOfferCommand struct {
	RequestID      string `validate:"required"`
	DriverID       string `validate:"required"`
	Price          int64  `validate:"gte=0"` // Required for counter-offers; ignored otherwise
	IsCounterOffer bool
	Message        string `validate:"max=500"`
}

// SubmitOffer records a driver's offer. Prices outside the band are rejected and never stored.
func (n *Negotiator) SubmitOffer(ctx context.Context, cmd SubmitOfferCommand) (*domain.Offer, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	session, err := n.store.Bidding().GetByRequestID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}

	price := session.ProposedPrice
	if cmd.IsCounterOffer {
		price = cmd.Price
		if !domain.PriceWithinBounds(price, session.EstimatedPrice) {
			lo, hi := domain.PriceBounds(session.EstimatedPrice)
			metrics.Offers.WithLabelValues("out_of_bounds").Inc()
			return nil, &PriceOutOfBoundsError{Price: price, Min: lo, Max: hi}
		}
	}

	now := n.cfg.Now()
	if !session.Open(now) {
		return nil, ErrBiddingClosed
	}

	req, err := n.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestStatusPending {
		return nil, ErrRequestNotPending
	}

	driver, err := n.store.Drivers().GetByID(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}

	if req.ServiceType.CreditGated() {
		balance, err := n.store.Credits().GetByDriverID(ctx, driver.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, &InsufficientCreditsError{Balance: 0}
		case err != nil:
			return nil, fmt.Errorf("load credits: %w", err)
		case !balance.Eligible(now):
			return nil, &InsufficientCreditsError{Balance: balance.RidesRemaining}
		}
	}

	// Only drivers a broadcast could have reached may offer.
	loc, err := n.locations.GetLocation(ctx, driver.ID)
	if err != nil {
		return nil, fmt.Errorf("load driver location: %w", err)
	}
	if loc == nil || !loc.Available {
		return nil, ErrDriverUnavailable
	}
	distance := domain.HaversineKm(loc.Position, req.Pickup)
	if distance > n.dispatcher.RadiusFor(req.Priority) {
		return nil, ErrDriverOutOfRange
	}

	offer := &domain.Offer{
		ID:             uuid.New().String(),
		RequestID:      req.ID,
		DriverID:       driver.ID,
		Price:          price,
		IsCounterOffer: cmd.IsCounterOffer,
		Message:        cmd.Message,
		DriverRating:   driver.RatingAverage,
		ETAMinutes:     n.dispatcher.ETAMinutes(distance),
		Status:         domain.OfferStatusPending,
		ExpiresAt:      session.WindowEndsAt,
		CreatedAt:      now,
	}
	if err := n.store.Offers().Create(ctx, offer); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrOfferAlreadySubmitted
		}
		return nil, fmt.Errorf("create offer: %w", err)
	}

	metrics.Offers.WithLabelValues("submitted").Inc()
	n.notifier.NotifyOfferReceived(ctx, req.RequesterID, offer)
	publish(ctx, n.publisher, n.log, events.OfferSubmitted, req.ID, map[string]any{
		"offer_id":         offer.ID,
		"driver_id":        offer.DriverID,
		"price":            offer.Price,
		"is_counter_offer": offer.IsCounterOffer,
	}, now)

	return offer, nil
}

// ListOffers returns the live pending offers of a request, cheapest first.
func (n *Negotiator) ListOffers(ctx context.Context, requestID string) ([]*domain.Offer, error) {
	if _, err := n.store.Requests().GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return n.store.Offers().ListPending(ctx, requestID, n.cfg.Now())
}

// AcceptOfferCommand contains the parameters for accepting an offer.
type AcceptOfferCommand struct {
	OfferID     string `validate:"required"`
	RequesterID string `validate:"required"`
}

// AcceptOfferResult describes the assignment an acceptance produced.
// AlreadyHandled is set when the call changed nothing because the offer or
// request had already been resolved.
type AcceptOfferResult struct {
	RequestID      string
	OfferID        string
	DriverID       string
	Price          int64
	Status         domain.RequestStatus
	AlreadyHandled bool
}

// AcceptOffer assigns the offering driver at the offered price. It uses the
// same conditional assignment as direct dispatch, so a late accept is a no-op.
func (n *Negotiator) AcceptOffer(ctx context.Context, cmd AcceptOfferCommand) (*AcceptOfferResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	offer, err := n.store.Offers().GetByID(ctx, cmd.OfferID)
	if err != nil {
		return nil, err
	}
	req, err := n.store.Requests().GetByID(ctx, offer.RequestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != cmd.RequesterID {
		return nil, ErrNotRequester
	}

	if offer.Status != domain.OfferStatusPending || req.Status != domain.RequestStatusPending {
		metrics.Offers.WithLabelValues("already_handled").Inc()
		return handledResult(offer, req), nil
	}

	now := n.cfg.Now()
	if offer.IsExpired(now) {
		return nil, ErrOfferExpired
	}

	loc, err := n.locations.GetLocation(ctx, offer.DriverID)
	if err != nil {
		return nil, fmt.Errorf("load driver location: %w", err)
	}
	if loc == nil || !loc.Available {
		return nil, ErrDriverUnavailable
	}

	// Same reservation as Dispatch; the availability flag is best-effort.
	locked, err := n.dispatcher.reserveDriver(ctx, offer.DriverID, req.ID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrDriverUnavailable
	}

	var rejected int64
	err = n.store.WithTx(ctx, func(tx repository.Store) error {
		ok, err := tx.Requests().Assign(ctx, req.ID, offer.DriverID, offer.Price, now)
		if err != nil {
			return fmt.Errorf("assign driver: %w", err)
		}
		if !ok {
			return errRaceLost
		}

		ok, err = tx.Offers().Resolve(ctx, offer.ID, domain.OfferStatusPending, domain.OfferStatusAccepted, now)
		if err != nil {
			return fmt.Errorf("accept offer: %w", err)
		}
		if !ok {
			return errRaceLost
		}

		rejected, err = tx.Offers().RejectOthers(ctx, req.ID, offer.ID, now)
		if err != nil {
			return fmt.Errorf("reject other offers: %w", err)
		}

		if _, err := tx.Bidding().SetStatus(ctx, req.ID, domain.BiddingStatusOpen, domain.BiddingStatusAccepted); err != nil {
			return fmt.Errorf("close bidding session: %w", err)
		}
		return nil
	})
	if err != nil {
		n.dispatcher.releaseDriver(ctx, offer.DriverID, req.ID)
	}
	if errors.Is(err, errRaceLost) {
		metrics.Offers.WithLabelValues("already_handled").Inc()
		n.log.WithFields(logrus.Fields{"request_id": req.ID, "offer_id": offer.ID}).Info("offer acceptance lost race")
		return n.reloadHandled(ctx, offer.ID, req.ID)
	}
	if err != nil {
		return nil, err
	}

	offer.Status = domain.OfferStatusAccepted
	offer.RespondedAt = now
	req.Status = domain.RequestStatusDriverAssigned
	req.DriverID = offer.DriverID
	req.AgreedPrice = offer.Price
	req.AssignedAt = now

	metrics.Offers.WithLabelValues("accepted").Inc()
	n.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"offer_id":   offer.ID,
		"driver_id":  offer.DriverID,
		"price":      offer.Price,
		"rejected":   rejected,
	}).Info("offer accepted")

	if err := n.locations.SetAvailability(ctx, offer.DriverID, false); err != nil {
		metrics.SideEffectFailures.WithLabelValues("availability_flip").Inc()
		n.log.WithError(err).WithField("driver_id", offer.DriverID).Warn("failed to mark driver unavailable")
	}
	n.notifier.NotifyOfferAccepted(ctx, offer, now.Add(n.cfg.NotificationTTL))
	publish(ctx, n.publisher, n.log, events.OfferAccepted, req.ID, map[string]any{
		"offer_id":  offer.ID,
		"driver_id": offer.DriverID,
		"price":     offer.Price,
	}, now)
	publish(ctx, n.publisher, n.log, events.RequestAssigned, req.ID, map[string]any{
		"driver_id": offer.DriverID,
		"price":     offer.Price,
		"via":       "bidding",
	}, now)

	return &AcceptOfferResult{
		RequestID: req.ID,
		OfferID:   offer.ID,
		DriverID:  offer.DriverID,
		Price:     offer.Price,
		Status:    req.Status,
	}, nil
}

func (n *Negotiator) reloadHandled(ctx context.Context, offerID, requestID string) (*AcceptOfferResult, error) {
	offer, err := n.store.Offers().GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	req, err := n.store.Requests().GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return handledResult(offer, req), nil
}

func handledResult(offer *domain.Offer, req *domain.Request) *AcceptOfferResult {
	return &AcceptOfferResult{
		RequestID:      req.ID,
		OfferID:        offer.ID,
		DriverID:       req.DriverID,
		Price:          req.AgreedPrice,
		Status:         req.Status,
		AlreadyHandled: true,
	}
}

// RejectOfferCommand contains the parameters for declining an offer.
type RejectOfferCommand struct {
	OfferID     string `validate:"required"`
	RequesterID string `validate:"required"`
}

// RejectOffer declines one offer without closing the window. Rejecting an
// already resolved offer returns it unchanged.
func (n *Negotiator) RejectOffer(ctx context.Context, cmd RejectOfferCommand) (*domain.Offer, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	offer, err := n.store.Offers().GetByID(ctx, cmd.OfferID)
	if err != nil {
		return nil, err
	}
	req, err := n.store.Requests().GetByID(ctx, offer.RequestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != cmd.RequesterID {
		return nil, ErrNotRequester
	}
	if offer.Status != domain.OfferStatusPending {
		return offer, nil
	}

	now := n.cfg.Now()
	ok, err := n.store.Offers().Resolve(ctx, offer.ID, domain.OfferStatusPending, domain.OfferStatusRejected, now)
	if err != nil {
		return nil, fmt.Errorf("reject offer: %w", err)
	}
	if !ok {
		return n.store.Offers().GetByID(ctx, offer.ID)
	}

	offer.Status = domain.OfferStatusRejected
	offer.RespondedAt = now

	metrics.Offers.WithLabelValues("rejected").Inc()
	n.notifier.NotifyOfferRejected(ctx, offer)
	publish(ctx, n.publisher, n.log, events.OfferRejected, req.ID, map[string]any{
		"offer_id":  offer.ID,
		"driver_id": offer.DriverID,
	}, now)

	return offer, nil
}

// RaisePriceCommand contains the parameters for raising the proposed price.
type RaisePriceCommand struct {
	RequestID   string `validate:"required"`
	RequesterID string `validate:"required"`
}

// RaisePrice bumps the proposed price by the configured increment, capped at
// the top of the band. An expired window is reopened and re-broadcast.
func (n *Negotiator) RaisePrice(ctx context.Context, cmd RaisePriceCommand) (*BiddingResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	session, err := n.store.Bidding().GetByRequestID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if session.RequesterID != cmd.RequesterID {
		return nil, ErrNotRequester
	}
	if session.Status == domain.BiddingStatusAccepted || session.Status == domain.BiddingStatusClosed {
		return nil, ErrBiddingClosed
	}

	req, err := n.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestStatusPending {
		return nil, ErrRequestNotPending
	}

	if session.Round >= n.cfg.MaxRounds {
		return nil, ErrMaxRoundsReached
	}
	_, ceiling := domain.PriceBounds(session.EstimatedPrice)
	if session.ProposedPrice >= ceiling {
		return nil, ErrPriceCeilingReached
	}
	price := min(session.ProposedPrice+n.cfg.RaiseIncrement, ceiling)

	now := n.cfg.Now()
	reopened := !session.Open(now)
	windowEndsAt := session.WindowEndsAt
	if reopened {
		windowEndsAt = now.Add(n.cfg.Window)
	}

	ok, err := n.store.Bidding().Reprice(ctx, session.RequestID, session.Round, price, windowEndsAt)
	if err != nil {
		return nil, fmt.Errorf("reprice bidding session: %w", err)
	}
	if !ok {
		return nil, ErrConcurrentUpdate
	}

	session.ProposedPrice = price
	session.Round++
	session.Status = domain.BiddingStatusOpen
	session.WindowEndsAt = windowEndsAt

	notified := 0
	if reopened {
		notified = n.broadcast(ctx, req, session)
	}

	n.log.WithFields(logrus.Fields{
		"request_id":     req.ID,
		"proposed_price": price,
		"round":          session.Round,
		"reopened":       reopened,
	}).Info("bidding price raised")
	publish(ctx, n.publisher, n.log, events.BiddingRepriced, req.ID, map[string]any{
		"proposed_price": price,
		"round":          session.Round,
		"window_ends_at": windowEndsAt,
	}, now)

	return &BiddingResult{Session: session, DriversNotified: notified}, nil
}

// FallbackCommand contains the parameters for abandoning negotiation.
type FallbackCommand struct {
	RequestID   string `validate:"required"`
	RequesterID string `validate:"required"`
}

// FallbackToDispatch closes the negotiation, rejects its pending offers and
// runs direct dispatch at the original estimate.
func (n *Negotiator) FallbackToDispatch(ctx context.Context, cmd FallbackCommand) (*DispatchResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	session, err := n.store.Bidding().GetByRequestID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if session.RequesterID != cmd.RequesterID {
		return nil, ErrNotRequester
	}
	if session.Status == domain.BiddingStatusAccepted {
		return nil, ErrBiddingClosed
	}

	now := n.cfg.Now()
	if session.Status != domain.BiddingStatusClosed {
		err := n.store.WithTx(ctx, func(tx repository.Store) error {
			ok, err := tx.Bidding().SetStatus(ctx, session.RequestID, session.Status, domain.BiddingStatusClosed)
			if err != nil {
				return fmt.Errorf("close bidding session: %w", err)
			}
			if !ok {
				return errRaceLost
			}
			if _, err := tx.Offers().RejectOthers(ctx, session.RequestID, "", now); err != nil {
				return fmt.Errorf("reject pending offers: %w", err)
			}
			return nil
		})
		if errors.Is(err, errRaceLost) {
			return nil, ErrConcurrentUpdate
		}
		if err != nil {
			return nil, err
		}
		publish(ctx, n.publisher, n.log, events.BiddingClosed, session.RequestID, map[string]any{
			"reason": "fallback_to_dispatch",
		}, now)
	}

	return n.dispatcher.Dispatch(ctx, DispatchCommand{
		RequestID:   session.RequestID,
		AgreedPrice: session.EstimatedPrice,
	})
}

// SweepExpired marks offers and sessions past their expiry. Reads never
// depend on it having run.
func (n *Negotiator) SweepExpired(ctx context.Context) (offers, sessions int64, err error) {
	now := n.cfg.Now()

	offers, err = n.store.Offers().ExpireBefore(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("expire offers: %w", err)
	}
	metrics.ExpirySweeps.WithLabelValues("offers").Add(float64(offers))

	sessions, err = n.store.Bidding().ExpireBefore(ctx, now)
	if err != nil {
		return offers, 0, fmt.Errorf("expire bidding sessions: %w", err)
	}
	metrics.ExpirySweeps.WithLabelValues("sessions").Add(float64(sessions))

	return offers, sessions, nil
}
