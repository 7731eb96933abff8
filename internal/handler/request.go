package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// RequestHandler handles HTTP requests for the request lifecycle and dispatch.
type RequestHandler struct {
	requestService *service.RequestService
	dispatcher     *service.Dispatcher
	arrivalService *service.ArrivalService
}

// NewRequestHandler creates a new RequestHandler.
func NewRequestHandler(
	requestService *service.RequestService,
	dispatcher *service.Dispatcher,
	arrivalService *service.ArrivalService,
) *RequestHandler {
	return &RequestHandler{
		requestService: requestService,
		dispatcher:     dispatcher,
		arrivalService: arrivalService,
	}
}

// CreateRequestBody is the HTTP request body for creating a request.
type CreateRequestBody struct {
	RequesterID    string     `json:"requester_id" binding:"required,uuid"`
	Pickup         PointBody  `json:"pickup"`
	Destination    *PointBody `json:"destination,omitempty"`
	ServiceType    string     `json:"service_type" binding:"required"`
	VehicleClass   string     `json:"vehicle_class,omitempty"`
	Priority       string     `json:"priority,omitempty"`
	EstimatedPrice int64      `json:"estimated_price" binding:"gte=0"`
	Currency       string     `json:"currency,omitempty"`
	AutoDispatch   bool       `json:"auto_dispatch"`
}

// CreateRequestResponse is the HTTP response for creating a request.
type CreateRequestResponse struct {
	Request  RequestResponse   `json:"request"`
	Dispatch *DispatchResponse `json:"dispatch,omitempty"`
}

// DispatchBody is the HTTP request body for dispatching a request.
// Every field is optional and falls back to the stored request.
type DispatchBody struct {
	Pickup      *PointBody `json:"pickup,omitempty"`
	ServiceType string     `json:"service_type,omitempty"`
	Priority    string     `json:"priority,omitempty"`
}

// CancelRequestBody is the HTTP request body for cancelling a request.
type CancelRequestBody struct {
	CancelledBy string `json:"cancelled_by" binding:"required"`
	Reason      string `json:"reason,omitempty"`
}

// RequesterBody identifies the requester acting on a request.
type RequesterBody struct {
	RequesterID string `json:"requester_id" binding:"required"`
}

// DriverBody identifies the driver acting on a request.
type DriverBody struct {
	DriverID string `json:"driver_id" binding:"required"`
}

// ArrivalBody is the HTTP request body for confirming arrival.
type ArrivalBody struct {
	DriverID string    `json:"driver_id" binding:"required"`
	Position PointBody `json:"position"`
}

// ArrivalResponse is the HTTP response for a confirmed arrival.
type ArrivalResponse struct {
	RequestID        string  `json:"request_id"`
	Status           string  `json:"status"`
	DistanceMeters   float64 `json:"distance_meters"`
	CreditConsumed   bool    `json:"credit_consumed"`
	CreditsRemaining int     `json:"credits_remaining"`
	LowBalance       bool    `json:"low_balance"`
}

// Create handles POST /v1/requests
func (h *RequestHandler) Create(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	cmd := service.CreateRequestCommand{
		RequesterID:    body.RequesterID,
		Pickup:         body.Pickup.toDomain(),
		ServiceType:    domain.ServiceType(body.ServiceType),
		VehicleClass:   domain.VehicleClass(body.VehicleClass),
		Priority:       domain.Priority(body.Priority),
		EstimatedPrice: body.EstimatedPrice,
		Currency:       body.Currency,
		AutoDispatch:   body.AutoDispatch,
	}
	if body.Destination != nil {
		dest := body.Destination.toDomain()
		cmd.Destination = &dest
	}

	result, err := h.requestService.CreateRequest(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := CreateRequestResponse{Request: toRequestResponse(result.Request)}
	if result.Dispatch != nil {
		d := toDispatchResponse(result.Dispatch)
		resp.Dispatch = &d
	}
	respondJSON(c, http.StatusCreated, resp)
}

// Get handles GET /v1/requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	req, err := h.requestService.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRequestResponse(req))
}

// Dispatch handles POST /v1/requests/:id/dispatch
func (h *RequestHandler) Dispatch(c *gin.Context) {
	var body DispatchBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondBadRequest(c, err)
			return
		}
	}

	cmd := service.DispatchCommand{
		RequestID:   c.Param("id"),
		ServiceType: domain.ServiceType(body.ServiceType),
		Priority:    domain.Priority(body.Priority),
	}
	if body.Pickup != nil {
		p := body.Pickup.toDomain()
		cmd.Pickup = &p
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	respondDispatch(c, result)
}

// Redispatch handles POST /v1/requests/:id/redispatch
func (h *RequestHandler) Redispatch(c *gin.Context) {
	var body RequesterBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.requestService.Redispatch(c.Request.Context(), service.RedispatchCommand{
		RequestID:   c.Param("id"),
		RequesterID: body.RequesterID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondDispatch(c, result)
}

// Cancel handles POST /v1/requests/:id/cancel
func (h *RequestHandler) Cancel(c *gin.Context) {
	var body CancelRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	req, err := h.requestService.CancelRequest(c.Request.Context(), service.CancelRequestCommand{
		RequestID:   c.Param("id"),
		CancelledBy: body.CancelledBy,
		Reason:      body.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRequestResponse(req))
}

// Start handles POST /v1/requests/:id/start
func (h *RequestHandler) Start(c *gin.Context) {
	h.advance(c, h.requestService.StartTrip)
}

// Complete handles POST /v1/requests/:id/complete
func (h *RequestHandler) Complete(c *gin.Context) {
	h.advance(c, h.requestService.CompleteTrip)
}

func (h *RequestHandler) advance(c *gin.Context, step func(ctx context.Context, cmd service.TripCommand) (*domain.Request, error)) {
	var body DriverBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	req, err := step(c.Request.Context(), service.TripCommand{
		RequestID: c.Param("id"),
		DriverID:  body.DriverID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRequestResponse(req))
}

// ConfirmArrival handles POST /v1/requests/:id/arrival
func (h *RequestHandler) ConfirmArrival(c *gin.Context) {
	var body ArrivalBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.arrivalService.ConfirmArrival(c.Request.Context(), service.ConfirmArrivalCommand{
		RequestID: c.Param("id"),
		DriverID:  body.DriverID,
		Position:  body.Position.toDomain(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, ArrivalResponse{
		RequestID:        result.RequestID,
		Status:           string(result.Status),
		DistanceMeters:   result.DistanceMeters,
		CreditConsumed:   result.CreditConsumed,
		CreditsRemaining: result.CreditsRemaining,
		LowBalance:       result.LowBalance,
	})
}

func respondDispatch(c *gin.Context, result *service.DispatchResult) {
	code := dispatchStatusCode(result)
	if result.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
	respondJSON(c, code, toDispatchResponse(result))
}
