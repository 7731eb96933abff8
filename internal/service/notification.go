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
	"dispatch/internal/repository"
)

// NotificationService persists notifications and publishes them for delivery.
// Delivery itself (push, SMS) happens downstream of the event stream.
// Every method is best-effort: failures are logged and never returned.
type NotificationService struct {
	notifications repository.NotificationRepository
	publisher     events.Publisher
	log           logrus.FieldLogger
	now           func() time.Time
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(
	notifications repository.NotificationRepository,
	publisher events.Publisher,
	log logrus.FieldLogger,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		publisher:     publisher,
		log:           log,
		now:           time.Now,
	}
}

// NotifyDispatchOffer tells the assigned driver, and only them, about a new job.
func (s *NotificationService) NotifyDispatchOffer(ctx context.Context, req *domain.Request, driverID string, distanceKm float64, expiresAt time.Time) {
	s.send(ctx, &domain.Notification{
		RecipientID: driverID,
		RequestID:   req.ID,
		Type:        domain.NotificationDispatchOffer,
		Title:       "New job assigned",
		Message:     fmt.Sprintf("Pickup %.1f km away. Respond before %s.", distanceKm, expiresAt.Format(time.Kitchen)),
		Data: map[string]any{
			"request_id":  req.ID,
			"pickup_lat":  req.Pickup.Lat,
			"pickup_lng":  req.Pickup.Lng,
			"distance_km": distanceKm,
			"price":       req.AgreedPrice,
		},
		Exclusive: true,
		ExpiresAt: expiresAt,
	})
}

// NotifyNoDriverAvailable tells the requester the search came back empty.
func (s *NotificationService) NotifyNoDriverAvailable(ctx context.Context, req *domain.Request, retryAfter time.Duration) {
	s.send(ctx, &domain.Notification{
		RecipientID: req.RequesterID,
		RequestID:   req.ID,
		Type:        domain.NotificationNoDriverAvailable,
		Title:       "No driver available",
		Message:     fmt.Sprintf("No driver nearby right now. Retrying in %s.", retryAfter),
		Data:        map[string]any{"request_id": req.ID, "retry_after_seconds": retryAfter.Seconds()},
	})
}

// NotifyBiddingBroadcast invites nearby drivers to bid. Unlike direct dispatch it is not exclusive.
func (s *NotificationService) NotifyBiddingBroadcast(ctx context.Context, req *domain.Request, session *domain.BiddingSession, candidates []domain.Candidate) {
	for _, c := range candidates {
		s.send(ctx, &domain.Notification{
			RecipientID: c.DriverID,
			RequestID:   req.ID,
			Type:        domain.NotificationBiddingBroadcast,
			Title:       "New request open for offers",
			Message:     fmt.Sprintf("Proposed price %d %s, pickup %.1f km away.", session.ProposedPrice, session.Currency, c.DistanceKm),
			Data: map[string]any{
				"request_id":     req.ID,
				"proposed_price": session.ProposedPrice,
				"currency":       session.Currency,
				"distance_km":    c.DistanceKm,
			},
			ExpiresAt: session.WindowEndsAt,
		})
	}
}

// NotifyOfferReceived tells the requester a driver has bid.
func (s *NotificationService) NotifyOfferReceived(ctx context.Context, requesterID string, offer *domain.Offer) {
	kind := "accepted your price"
	if offer.IsCounterOffer {
		kind = "made a counter-offer"
	}
	s.send(ctx, &domain.Notification{
		RecipientID: requesterID,
		RequestID:   offer.RequestID,
		Type:        domain.NotificationOfferReceived,
		Title:       "New offer",
		Message:     fmt.Sprintf("A driver %s: %d.", kind, offer.Price),
		Data:        map[string]any{"offer_id": offer.ID, "price": offer.Price, "eta_minutes": offer.ETAMinutes},
	})
}

// NotifyOfferAccepted tells the winning driver they are assigned.
func (s *NotificationService) NotifyOfferAccepted(ctx context.Context, offer *domain.Offer, expiresAt time.Time) {
	s.send(ctx, &domain.Notification{
		RecipientID: offer.DriverID,
		RequestID:   offer.RequestID,
		Type:        domain.NotificationOfferAccepted,
		Title:       "Offer accepted",
		Message:     fmt.Sprintf("Your offer of %d was accepted. Head to pickup.", offer.Price),
		Data:        map[string]any{"offer_id": offer.ID, "request_id": offer.RequestID, "price": offer.Price},
		Exclusive:   true,
		ExpiresAt:   expiresAt,
	})
}

// NotifyOfferRejected tells a driver their offer was declined.
func (s *NotificationService) NotifyOfferRejected(ctx context.Context, offer *domain.Offer) {
	s.send(ctx, &domain.Notification{
		RecipientID: offer.DriverID,
		RequestID:   offer.RequestID,
		Type:        domain.NotificationOfferRejected,
		Title:       "Offer declined",
		Message:     "The requester declined your offer.",
		Data:        map[string]any{"offer_id": offer.ID},
	})
}

// NotifyDriverArrived tells the requester their driver is at pickup.
func (s *NotificationService) NotifyDriverArrived(ctx context.Context, req *domain.Request) {
	s.send(ctx, &domain.Notification{
		RecipientID: req.RequesterID,
		RequestID:   req.ID,
		Type:        domain.NotificationDriverArrived,
		Title:       "Your driver has arrived",
		Message:     "Your driver is waiting at the pickup point.",
		Data:        map[string]any{"request_id": req.ID, "driver_id": req.DriverID},
	})
}

// NotifyLowCreditBalance advises a driver to top up.
func (s *NotificationService) NotifyLowCreditBalance(ctx context.Context, driverID string, remaining int) {
	s.send(ctx, &domain.Notification{
		RecipientID: driverID,
		Type:        domain.NotificationLowCreditBalance,
		Title:       "Ride credits running low",
		Message:     fmt.Sprintf("You have %d ride credits left.", remaining),
		Data:        map[string]any{"rides_remaining": remaining},
	})
}

// NotifyEscrowReleased tells the counterparty their payout was credited.
func (s *NotificationService) NotifyEscrowReleased(ctx context.Context, escrow *domain.Escrow) {
	s.send(ctx, &domain.Notification{
		RecipientID: escrow.SellerID,
		RequestID:   escrow.RequestID,
		Type:        domain.NotificationEscrowReleased,
		Title:       "Payment released",
		Message:     fmt.Sprintf("%d %s has been credited to your wallet.", escrow.NetAmount, escrow.Currency),
		Data:        map[string]any{"request_id": escrow.RequestID, "net_amount": escrow.NetAmount},
	})
}

// NotifyRequestCancelled tells the other party a request was cancelled.
func (s *NotificationService) NotifyRequestCancelled(ctx context.Context, req *domain.Request, recipientID, reason string) {
	s.send(ctx, &domain.Notification{
		RecipientID: recipientID,
		RequestID:   req.ID,
		Type:        domain.NotificationRequestCancelled,
		Title:       "Request cancelled",
		Message:     fmt.Sprintf("The request was cancelled. Reason: %s", reason),
		Data:        map[string]any{"request_id": req.ID},
	})
}

func (s *NotificationService) send(ctx context.Context, n *domain.Notification) {
	n.ID = uuid.New().String()
	n.CreatedAt = s.now()

	log := s.log.WithFields(logrus.Fields{
		"notification_type": n.Type,
		"recipient_id":      n.RecipientID,
		"request_id":        n.RequestID,
	})

	if err := s.notifications.Create(ctx, n); err != nil {
		metrics.SideEffectFailures.WithLabelValues("notification_insert").Inc()
		log.WithError(err).Warn("failed to store notification")
		return
	}

	payload := map[string]any{
		"notification_id": n.ID,
		"recipient_id":    n.RecipientID,
		"type":            n.Type,
		"title":           n.Title,
		"message":         n.Message,
		"exclusive":       n.Exclusive,
	}
	if !n.ExpiresAt.IsZero() {
		payload["expires_at"] = n.ExpiresAt
	}
	publish(ctx, s.publisher, s.log, events.NotificationQueued, n.RecipientID, payload, n.CreatedAt)
}

// publish emits an event, logging instead of failing when the publisher errors.
func publish(ctx context.Context, p events.Publisher, log logrus.FieldLogger, t events.Type, aggregateID string, payload map[string]any, at time.Time) {
	err := p.Publish(ctx, events.Event{
		Type:        t,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  at,
	})
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("event_publish").Inc()
		log.WithError(err).WithFields(logrus.Fields{"event": t, "aggregate_id": aggregateID}).Warn("failed to publish event")
	}
}
