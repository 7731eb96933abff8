// Package events publishes engine state changes for downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Type names a state change.
type Type string

const (
	RequestCreated     Type = "request.created"
	RequestAssigned    Type = "request.assigned"
	RequestNoDriver    Type = "request.no_driver_available"
	RequestReopened    Type = "request.reopened"
	RequestArrived     Type = "request.driver_arrived"
	RequestStarted     Type = "request.in_progress"
	RequestFinished    Type = "request.finished"
	RequestCancelled   Type = "request.cancelled"
	BiddingOpened      Type = "bidding.opened"
	BiddingRepriced    Type = "bidding.repriced"
	BiddingClosed      Type = "bidding.closed"
	OfferSubmitted     Type = "offer.submitted"
	OfferAccepted      Type = "offer.accepted"
	OfferRejected      Type = "offer.rejected"
	CreditConsumed     Type = "credit.consumed"
	EscrowHeld         Type = "escrow.held"
	EscrowReleased     Type = "escrow.released"
	NotificationQueued Type = "notification.queued"
)

// Event is a single state change keyed by the aggregate it belongs to.
type Event struct {
	Type        Type           `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.log.WithFields(logrus.Fields{
		"event":        event.Type,
		"aggregate_id": event.AggregateID,
	}).Debug("event published")
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
