package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// EscrowHandler handles HTTP requests for escrow settlement.
type EscrowHandler struct {
	escrowService *service.EscrowService
}

// NewEscrowHandler creates a new EscrowHandler.
func NewEscrowHandler(escrowService *service.EscrowService) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService}
}

// HoldEscrowBody is the HTTP request body for holding funds.
type HoldEscrowBody struct {
	BuyerID     string `json:"buyer_id" binding:"required"`
	SellerID    string `json:"seller_id,omitempty"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	PlatformFee int64  `json:"platform_fee" binding:"gte=0"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Cash        bool   `json:"cash"`
}

// ReleaseEscrowBody is the HTTP request body for releasing funds.
type ReleaseEscrowBody struct {
	ConfirmerID string `json:"confirmer_id" binding:"required"`
}

// EscrowResponse is the HTTP representation of an escrow.
type EscrowResponse struct {
	ID          string `json:"id"`
	RequestID   string `json:"request_id"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	Amount      int64  `json:"amount"`
	PlatformFee int64  `json:"platform_fee"`
	NetAmount   int64  `json:"net_amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	ReleasedAt  string `json:"released_at,omitempty"`
}

// ReleaseEscrowResponse is the HTTP response for a release.
type ReleaseEscrowResponse struct {
	Escrow          EscrowResponse `json:"escrow"`
	NetAmount       int64          `json:"net_amount"`
	WalletBalance   int64          `json:"wallet_balance,omitempty"`
	AlreadyReleased bool           `json:"already_released"`
}

func toEscrowResponse(e *domain.Escrow) EscrowResponse {
	return EscrowResponse{
		ID:          e.ID,
		RequestID:   e.RequestID,
		BuyerID:     e.BuyerID,
		SellerID:    e.SellerID,
		Amount:      e.Amount,
		PlatformFee: e.PlatformFee,
		NetAmount:   e.NetAmount,
		Currency:    e.Currency,
		Status:      string(e.Status),
		CreatedAt:   formatTime(e.CreatedAt),
		ReleasedAt:  formatTime(e.ReleasedAt),
	}
}

// Hold handles POST /v1/requests/:id/escrow
func (h *EscrowHandler) Hold(c *gin.Context) {
	var body HoldEscrowBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	escrow, err := h.escrowService.HoldEscrow(c.Request.Context(), service.HoldEscrowCommand{
		RequestID:   c.Param("id"),
		BuyerID:     body.BuyerID,
		SellerID:    body.SellerID,
		Amount:      body.Amount,
		PlatformFee: body.PlatformFee,
		Currency:    body.Currency,
		Cash:        body.Cash,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toEscrowResponse(escrow))
}

// Get handles GET /v1/requests/:id/escrow
func (h *EscrowHandler) Get(c *gin.Context) {
	escrow, err := h.escrowService.GetEscrow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toEscrowResponse(escrow))
}

// Release handles POST /v1/requests/:id/escrow/release
func (h *EscrowHandler) Release(c *gin.Context) {
	var body ReleaseEscrowBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.escrowService.ReleaseEscrow(c.Request.Context(), service.ReleaseEscrowCommand{
		RequestID:   c.Param("id"),
		ConfirmerID: body.ConfirmerID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, ReleaseEscrowResponse{
		Escrow:          toEscrowResponse(result.Escrow),
		NetAmount:       result.NetAmount,
		WalletBalance:   result.WalletBalance,
		AlreadyReleased: result.AlreadyReleased,
	})
}
