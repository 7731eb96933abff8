package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// BiddingHandler handles HTTP requests for price negotiation.
type BiddingHandler struct {
	negotiator *service.Negotiator
}

// NewBiddingHandler creates a new BiddingHandler.
func NewBiddingHandler(negotiator *service.Negotiator) *BiddingHandler {
	return &BiddingHandler{negotiator: negotiator}
}

// OpenBiddingBody is the HTTP request body for opening a bidding window.
type OpenBiddingBody struct {
	RequesterID    string `json:"requester_id" binding:"required"`
	EstimatedPrice int64  `json:"estimated_price" binding:"gte=0"`
	ProposedPrice  int64  `json:"proposed_price" binding:"gte=0"`
}

// SubmitOfferBody is the HTTP request body for a driver's offer.
type SubmitOfferBody struct {
	DriverID       string `json:"driver_id" binding:"required"`
	Price          int64  `json:"price"`
	IsCounterOffer bool   `json:"is_counter_offer"`
	Message        string `json:"message,omitempty"`
}

// BiddingSessionResponse is the HTTP representation of a bidding session.
type BiddingSessionResponse struct {
	RequestID       string `json:"request_id"`
	EstimatedPrice  int64  `json:"estimated_price"`
	ProposedPrice   int64  `json:"proposed_price"`
	MinPrice        int64  `json:"min_price"`
	MaxPrice        int64  `json:"max_price"`
	Currency        string `json:"currency"`
	Round           int    `json:"round"`
	Status          string `json:"status"`
	WindowEndsAt    string `json:"window_ends_at"`
	DriversNotified int    `json:"drivers_notified"`
}

// OfferResponse is the HTTP representation of an offer.
type OfferResponse struct {
	ID             string  `json:"id"`
	RequestID      string  `json:"request_id"`
	DriverID       string  `json:"driver_id"`
	Price          int64   `json:"price"`
	IsCounterOffer bool    `json:"is_counter_offer"`
	Message        string  `json:"message,omitempty"`
	DriverRating   float64 `json:"driver_rating"`
	ETAMinutes     float64 `json:"eta_minutes"`
	Status         string  `json:"status"`
	ExpiresAt      string  `json:"expires_at"`
	CreatedAt      string  `json:"created_at"`
}

// AcceptOfferResponse is the HTTP response for accepting an offer.
type AcceptOfferResponse struct {
	RequestID      string `json:"request_id"`
	OfferID        string `json:"offer_id"`
	DriverID       string `json:"driver_id,omitempty"`
	Price          int64  `json:"price,omitempty"`
	Status         string `json:"status"`
	AlreadyHandled bool   `json:"already_handled"`
}

func toBiddingResponse(r *service.BiddingResult) BiddingSessionResponse {
	s := r.Session
	lo, hi := domain.PriceBounds(s.EstimatedPrice)
	return BiddingSessionResponse{
		RequestID:       s.RequestID,
		EstimatedPrice:  s.EstimatedPrice,
		ProposedPrice:   s.ProposedPrice,
		MinPrice:        lo,
		MaxPrice:        hi,
		Currency:        s.Currency,
		Round:           s.Round,
		Status:          string(s.Status),
		WindowEndsAt:    formatTime(s.WindowEndsAt),
		DriversNotified: r.DriversNotified,
	}
}

func toOfferResponse(o *domain.Offer) OfferResponse {
	return OfferResponse{
		ID:             o.ID,
		RequestID:      o.RequestID,
		DriverID:       o.DriverID,
		Price:          o.Price,
		IsCounterOffer: o.IsCounterOffer,
		Message:        o.Message,
		DriverRating:   o.DriverRating,
		ETAMinutes:     o.ETAMinutes,
		Status:         string(o.Status),
		ExpiresAt:      formatTime(o.ExpiresAt),
		CreatedAt:      formatTime(o.CreatedAt),
	}
}

// Open handles POST /v1/requests/:id/bidding
func (h *BiddingHandler) Open(c *gin.Context) {
	var body OpenBiddingBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.negotiator.OpenBidding(c.Request.Context(), service.OpenBiddingCommand{
		RequestID:      c.Param("id"),
		RequesterID:    body.RequesterID,
		EstimatedPrice: body.EstimatedPrice,
		ProposedPrice:  body.ProposedPrice,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toBiddingResponse(result))
}

// Raise handles POST /v1/requests/:id/bidding/raise
func (h *BiddingHandler) Raise(c *gin.Context) {
	var body RequesterBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.negotiator.RaisePrice(c.Request.Context(), service.RaisePriceCommand{
		RequestID:   c.Param("id"),
		RequesterID: body.RequesterID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toBiddingResponse(result))
}

// Fallback handles POST /v1/requests/:id/bidding/fallback
func (h *BiddingHandler) Fallback(c *gin.Context) {
	var body RequesterBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.negotiator.FallbackToDispatch(c.Request.Context(), service.FallbackCommand{
		RequestID:   c.Param("id"),
		RequesterID: body.RequesterID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondDispatch(c, result)
}

// ListOffers handles GET /v1/requests/:id/offers
func (h *BiddingHandler) ListOffers(c *gin.Context) {
	offers, err := h.negotiator.ListOffers(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]OfferResponse, 0, len(offers))
	for _, o := range offers {
		resp = append(resp, toOfferResponse(o))
	}
	respondJSON(c, http.StatusOK, gin.H{"offers": resp})
}

// SubmitOffer handles POST /v1/requests/:id/offers
func (h *BiddingHandler) SubmitOffer(c *gin.Context) {
	var body SubmitOfferBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	offer, err := h.negotiator.SubmitOffer(c.Request.Context(), service.SubmitOfferCommand{
		RequestID:      c.Param("id"),
		DriverID:       body.DriverID,
		Price:          body.Price,
		IsCounterOffer: body.IsCounterOffer,
		Message:        body.Message,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toOfferResponse(offer))
}

// AcceptOffer handles POST /v1/offers/:id/accept
func (h *BiddingHandler) AcceptOffer(c *gin.Context) {
	var body RequesterBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.negotiator.AcceptOffer(c.Request.Context(), service.AcceptOfferCommand{
		OfferID:     c.Param("id"),
		RequesterID: body.RequesterID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, AcceptOfferResponse{
		RequestID:      result.RequestID,
		OfferID:        result.OfferID,
		DriverID:       result.DriverID,
		Price:          result.Price,
		Status:         string(result.Status),
		AlreadyHandled: result.AlreadyHandled,
	})
}

// RejectOffer handles POST /v1/offers/:id/reject
func (h *BiddingHandler) RejectOffer(c *gin.Context) {
	var body RequesterBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	offer, err := h.negotiator.RejectOffer(c.Request.Context(), service.RejectOfferCommand{
		OfferID:     c.Param("id"),
		RequesterID: body.RequesterID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toOfferResponse(offer))
}
