package domain

import "time"

// OfferStatus represents the state of a driver's price offer.
type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusRejected OfferStatus = "rejected"
	OfferStatusExpired  OfferStatus = "expired"
)

// Offer is a driver's response to a bidding broadcast.
type Offer struct {
	ID             string
	RequestID      string
	DriverID       string
	Price          int64
	IsCounterOffer bool
	Message        string
	DriverRating   float64
	ETAMinutes     float64
	Status         OfferStatus
	ExpiresAt      time.Time
	CreatedAt      time.Time
	RespondedAt    time.Time
}

// IsExpired reports whether the offer can no longer be acted on at now.
func (o *Offer) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// PriceBounds returns the inclusive band [0.5×estimate, 1.5×estimate] offers must fall in.
// The lower bound rounds up and the upper bound rounds down so both stay inside the band.
func PriceBounds(estimate int64) (min, max int64) {
	return (estimate + 1) / 2, estimate * 3 / 2
}

// PriceWithinBounds reports whether price lies inside the band for estimate.
func PriceWithinBounds(price, estimate int64) bool {
	lo, hi := PriceBounds(estimate)
	return price >= lo && price <= hi
}

// BiddingStatus represents the state of a negotiation window.
type BiddingStatus string

const (
	BiddingStatusOpen     BiddingStatus = "open"
	BiddingStatusAccepted BiddingStatus = "accepted"
	BiddingStatusExpired  BiddingStatus = "expired"
	BiddingStatusClosed   BiddingStatus = "closed"
)

// BiddingSession is the negotiation window attached to a request.
type BiddingSession struct {
	RequestID      string
	RequesterID    string
	EstimatedPrice int64
	ProposedPrice  int64
	Currency       string
	Round          int
	Status         BiddingStatus
	OpenedAt       time.Time
	WindowEndsAt   time.Time
}

// Open reports whether offers may still be submitted at now.
func (s *BiddingSession) Open(now time.Time) bool {
	return s.Status == BiddingStatusOpen && now.Before(s.WindowEndsAt)
}
