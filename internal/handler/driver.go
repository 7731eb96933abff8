package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	driverService *service.DriverService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService) *DriverHandler {
	return &DriverHandler{driverService: driverService}
}

// RegisterDriverRequest is the HTTP request body for driver registration.
type RegisterDriverRequest struct {
	Name          string     `json:"name" binding:"required"`
	Phone         string     `json:"phone" binding:"required"`
	RatingAverage float64    `json:"rating_average"`
	TotalRides    int        `json:"total_rides"`
	Verified      bool       `json:"verified"`
	Credits       int        `json:"credits"`
	PlanStartsAt  *time.Time `json:"plan_starts_at,omitempty"`
	PlanEndsAt    *time.Time `json:"plan_ends_at,omitempty"`
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Phone          string  `json:"phone"`
	RatingAverage  float64 `json:"rating_average"`
	TotalRides     int     `json:"total_rides"`
	Verified       bool    `json:"verified"`
	RidesRemaining int     `json:"rides_remaining"`
}

// UpdateLocationRequest is the HTTP request body for updating driver location.
type UpdateLocationRequest struct {
	Lat          float64 `json:"lat" binding:"gte=-90,lte=90"`
	Lng          float64 `json:"lng" binding:"gte=-180,lte=180"`
	Heading      float64 `json:"heading"`
	Speed        float64 `json:"speed"`
	Accuracy     float64 `json:"accuracy"`
	Available    *bool   `json:"available,omitempty"`
	VehicleClass string  `json:"vehicle_class,omitempty"`
}

// LocationResponse is the HTTP representation of a driver's location record.
type LocationResponse struct {
	DriverID     string       `json:"driver_id"`
	Position     domain.Point `json:"position"`
	Available    bool         `json:"available"`
	VehicleClass string       `json:"vehicle_class,omitempty"`
	LastPing     string       `json:"last_ping"`
}

// AvailabilityRequest is the HTTP request body for toggling availability.
type AvailabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

// CandidateResponse is one ranked driver in a nearby search.
type CandidateResponse struct {
	DriverID       string  `json:"driver_id"`
	DistanceKm     float64 `json:"distance_km"`
	RatingAverage  float64 `json:"rating_average"`
	TotalRides     int     `json:"total_rides"`
	Verified       bool    `json:"verified"`
	RidesRemaining int     `json:"rides_remaining"`
	VehicleClass   string  `json:"vehicle_class,omitempty"`
	Score          float64 `json:"score"`
}

// Register handles POST /v1/drivers/register
func (h *DriverHandler) Register(c *gin.Context) {
	var req RegisterDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	cmd := service.RegisterDriverCommand{
		Name:          req.Name,
		Phone:         req.Phone,
		RatingAverage: req.RatingAverage,
		TotalRides:    req.TotalRides,
		Verified:      req.Verified,
		Credits:       req.Credits,
	}
	if req.PlanStartsAt != nil {
		cmd.PlanStartsAt = *req.PlanStartsAt
	}
	if req.PlanEndsAt != nil {
		cmd.PlanEndsAt = *req.PlanEndsAt
	}

	registered, err := h.driverService.RegisterDriver(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}

	d := registered.Driver
	respondJSON(c, http.StatusCreated, DriverResponse{
		ID:             d.ID,
		Name:           d.Name,
		Phone:          d.Phone,
		RatingAverage:  d.RatingAverage,
		TotalRides:     d.TotalRides,
		Verified:       d.Verified,
		RidesRemaining: registered.Credits.RidesRemaining,
	})
}

// UpdateLocation handles POST /v1/drivers/:id/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	loc, err := h.driverService.UpdateLocation(c.Request.Context(), service.UpdateLocationCommand{
		DriverID:     c.Param("id"),
		Position:     domain.Point{Lat: req.Lat, Lng: req.Lng},
		Heading:      req.Heading,
		Speed:        req.Speed,
		Accuracy:     req.Accuracy,
		Available:    req.Available,
		VehicleClass: domain.VehicleClass(req.VehicleClass),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, LocationResponse{
		DriverID:     loc.DriverID,
		Position:     loc.Position,
		Available:    loc.Available,
		VehicleClass: string(loc.VehicleClass),
		LastPing:     formatTime(loc.LastPing),
	})
}

// SetAvailability handles POST /v1/drivers/:id/availability
func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.driverService.SetAvailability(c.Request.Context(), c.Param("id"), *req.Available); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GoOffline handles POST /v1/drivers/:id/offline
func (h *DriverHandler) GoOffline(c *gin.Context) {
	if err := h.driverService.GoOffline(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Nearby handles GET /v1/drivers/nearby?lat=&lng=&radius_km=&service_type=&vehicle_class=&priority=
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	radius, errRadius := strconv.ParseFloat(c.DefaultQuery("radius_km", "5"), 64)
	if errLat != nil || errLng != nil || errRadius != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat, lng and radius_km must be numbers"})
		return
	}

	candidates, err := h.driverService.NearbyDrivers(c.Request.Context(), service.NearbyQuery{
		Point:        domain.Point{Lat: lat, Lng: lng},
		RadiusKm:     radius,
		ServiceType:  domain.ServiceType(c.DefaultQuery("service_type", string(domain.ServiceTypeTaxi))),
		VehicleClass: domain.VehicleClass(c.Query("vehicle_class")),
	}, domain.Priority(c.Query("priority")))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]CandidateResponse, 0, len(candidates))
	for _, cand := range candidates {
		resp = append(resp, CandidateResponse{
			DriverID:       cand.DriverID,
			DistanceKm:     cand.DistanceKm,
			RatingAverage:  cand.RatingAverage,
			TotalRides:     cand.TotalRides,
			Verified:       cand.Verified,
			RidesRemaining: cand.RidesRemaining,
			VehicleClass:   string(cand.VehicleClass),
			Score:          cand.Score,
		})
	}
	respondJSON(c, http.StatusOK, gin.H{"drivers": resp, "count": len(resp), "query": fmt.Sprintf("%.5f,%.5f r=%.1fkm", lat, lng, radius)})
}
