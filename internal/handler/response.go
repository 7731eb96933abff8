package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
	"dispatch/internal/service"
)

// ErrorResponse represents an error response. Precondition failures carry the
// measured value that caused them.
type ErrorResponse struct {
	Error            string   `json:"error"`
	RemainingSeconds *int     `json:"remaining_seconds,omitempty"`
	DistanceMeters   *float64 `json:"distance_meters,omitempty"`
	MaxMeters        *float64 `json:"max_meters,omitempty"`
	Balance          *int     `json:"balance,omitempty"`
	MinPrice         *int64   `json:"min_price,omitempty"`
	MaxPrice         *int64   `json:"max_price,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(code, ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(code, newErrorResponse(err))
}

// respondBadRequest rejects a body that could not be bound.
func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

func newErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error()}

	var (
		early   *service.TooEarlyError
		far     *service.TooFarError
		credits *service.InsufficientCreditsError
		bounds  *service.PriceOutOfBoundsError
	)
	switch {
	case errors.As(err, &early):
		secs := early.RemainingSeconds()
		resp.RemainingSeconds = &secs
	case errors.As(err, &far):
		resp.DistanceMeters = &far.DistanceMeters
		resp.MaxMeters = &far.MaxMeters
	case errors.As(err, &credits):
		resp.Balance = &credits.Balance
	case errors.As(err, &bounds):
		resp.MinPrice = &bounds.Min
		resp.MaxPrice = &bounds.Max
	}
	return resp
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest

	// Caller does not own the record
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, service.ErrStateConflict),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict

	// Measured preconditions
	case errors.Is(err, service.ErrPreconditionFailed):
		return http.StatusUnprocessableEntity

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

// PointBody is a coordinate pair in request and response bodies.
type PointBody struct {
	Lat float64 `json:"lat" binding:"gte=-90,lte=90"`
	Lng float64 `json:"lng" binding:"gte=-180,lte=180"`
}

func (p PointBody) toDomain() domain.Point {
	return domain.Point{Lat: p.Lat, Lng: p.Lng}
}

// RequestResponse is the HTTP representation of a request.
type RequestResponse struct {
	ID             string        `json:"id"`
	RequesterID    string        `json:"requester_id"`
	Pickup         domain.Point  `json:"pickup"`
	Destination    *domain.Point `json:"destination,omitempty"`
	ServiceType    string        `json:"service_type"`
	VehicleClass   string        `json:"vehicle_class,omitempty"`
	Priority       string        `json:"priority"`
	Status         string        `json:"status"`
	DriverID       string        `json:"driver_id,omitempty"`
	EstimatedPrice int64         `json:"estimated_price"`
	AgreedPrice    int64         `json:"agreed_price,omitempty"`
	Currency       string        `json:"currency"`
	CreatedAt      string        `json:"created_at"`
	AssignedAt     string        `json:"assigned_at,omitempty"`
	ArrivedAt      string        `json:"arrived_at,omitempty"`
	CompletedAt    string        `json:"completed_at,omitempty"`
	CancelledAt    string        `json:"cancelled_at,omitempty"`
	CancelReason   string        `json:"cancel_reason,omitempty"`
}

func toRequestResponse(r *domain.Request) RequestResponse {
	return RequestResponse{
		ID:             r.ID,
		RequesterID:    r.RequesterID,
		Pickup:         r.Pickup,
		Destination:    r.Destination,
		ServiceType:    string(r.ServiceType),
		VehicleClass:   string(r.VehicleClass),
		Priority:       string(r.Priority),
		Status:         string(r.Status),
		DriverID:       r.DriverID,
		EstimatedPrice: r.EstimatedPrice,
		AgreedPrice:    r.AgreedPrice,
		Currency:       r.Currency,
		CreatedAt:      formatTime(r.CreatedAt),
		AssignedAt:     formatTime(r.AssignedAt),
		ArrivedAt:      formatTime(r.ArrivedAt),
		CompletedAt:    formatTime(r.CompletedAt),
		CancelledAt:    formatTime(r.CancelledAt),
		CancelReason:   r.CancelReason,
	}
}

// DispatchResponse is the HTTP representation of a dispatch outcome.
type DispatchResponse struct {
	Outcome           string  `json:"outcome"`
	RequestID         string  `json:"request_id"`
	Status            string  `json:"status,omitempty"`
	DriverID          string  `json:"driver_id,omitempty"`
	DistanceKm        float64 `json:"distance_km,omitempty"`
	Score             float64 `json:"score,omitempty"`
	ETAMinutes        float64 `json:"eta_minutes,omitempty"`
	Price             int64   `json:"price,omitempty"`
	RetryAfterSeconds int     `json:"retry_after_seconds,omitempty"`
	OfferExpiresAt    string  `json:"offer_expires_at,omitempty"`
}

func toDispatchResponse(r *service.DispatchResult) DispatchResponse {
	return DispatchResponse{
		Outcome:           string(r.Outcome),
		RequestID:         r.RequestID,
		Status:            string(r.Status),
		DriverID:          r.DriverID,
		DistanceKm:        r.DistanceKm,
		Score:             r.Score,
		ETAMinutes:        r.ETAMinutes,
		Price:             r.Price,
		RetryAfterSeconds: int(r.RetryAfter / time.Second),
		OfferExpiresAt:    formatTime(r.OfferExpiresAt),
	}
}

// dispatchStatusCode reports an empty search as 202 with a retry hint rather than a failure.
func dispatchStatusCode(r *service.DispatchResult) int {
	if r.Outcome == service.DispatchNoDriverAvailable {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
