package domain

import "time"

// VehicleClass is the class of vehicle a driver operates.
type VehicleClass string

const (
	VehicleClassMoto     VehicleClass = "moto"
	VehicleClassStandard VehicleClass = "standard"
	VehicleClassComfort  VehicleClass = "comfort"
	VehicleClassPremium  VehicleClass = "premium"
	VehicleClassVan      VehicleClass = "van"
)

// Valid reports whether the class is known.
func (c VehicleClass) Valid() bool {
	switch c {
	case VehicleClassMoto, VehicleClassStandard, VehicleClassComfort, VehicleClassPremium, VehicleClassVan:
		return true
	}
	return false
}

// Driver is the scoring profile of a registered driver.
type Driver struct {
	ID            string
	Name          string
	Phone         string
	RatingAverage float64
	TotalRides    int
	Verified      bool
	CreatedAt     time.Time
}

// DriverLocation is the last-known position and availability of a driver.
type DriverLocation struct {
	DriverID     string
	Position     Point
	Heading      float64
	Speed        float64
	Accuracy     float64
	Available    bool
	VehicleClass VehicleClass
	LastPing     time.Time
}

// Fresh reports whether the last ping is no older than maxAge at now.
func (l DriverLocation) Fresh(now time.Time, maxAge time.Duration) bool {
	return !l.LastPing.IsZero() && now.Sub(l.LastPing) <= maxAge
}

// Candidate is a driver eligible for a request, annotated for scoring.
type Candidate struct {
	DriverID       string
	Position       Point
	DistanceKm     float64
	RatingAverage  float64
	TotalRides     int
	Verified       bool
	RidesRemaining int
	VehicleClass   VehicleClass
	Score          float64
}
