package domain

import "time"

// NotificationType identifies what a notification is about.
type NotificationType string

const (
	NotificationDispatchOffer     NotificationType = "dispatch_offer"
	NotificationBiddingBroadcast  NotificationType = "bidding_broadcast"
	NotificationOfferReceived     NotificationType = "offer_received"
	NotificationOfferAccepted     NotificationType = "offer_accepted"
	NotificationOfferRejected     NotificationType = "offer_rejected"
	NotificationDriverArrived     NotificationType = "driver_arrived"
	NotificationLowCreditBalance  NotificationType = "low_credit_balance"
	NotificationEscrowReleased    NotificationType = "escrow_released"
	NotificationRequestCancelled  NotificationType = "request_cancelled"
	NotificationNoDriverAvailable NotificationType = "no_driver_available"
)

// Notification is a message addressed to a single user.
type Notification struct {
	ID          string
	RecipientID string
	RequestID   string
	Type        NotificationType
	Title       string
	Message     string
	Data        map[string]any
	Exclusive   bool
	ExpiresAt   time.Time
	CreatedAt   time.Time
}
