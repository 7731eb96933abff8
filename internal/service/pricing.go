package service

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"dispatch/internal/domain"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// PricingService suggests the opening price of a bidding session from local
// supply and demand.
type PricingService struct {
	locations redis.LocationStoreInterface
	requests  repository.RequestRepository
	log       logrus.FieldLogger
	cfg       PricingConfig
}

// PricingConfig contains surge pricing configuration.
type PricingConfig struct {
	RadiusKm       float64 // Radius to check for supply/demand
	LowSurgeRatio  float64 // Demand/supply ratio for 1.1x
	MedSurgeRatio  float64 // Demand/supply ratio for 1.25x
	HighSurgeRatio float64 // Demand/supply ratio for the maximum
	MaxSurge       float64 // Must not exceed 1.5 so the price stays inside the offer band
}

// DefaultPricingConfig returns the default surge configuration.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		RadiusKm:       5.0,
		LowSurgeRatio:  1.2,
		MedSurgeRatio:  1.5,
		HighSurgeRatio: 2.0,
		MaxSurge:       1.5,
	}
}

// NewPricingService creates a new PricingService.
func NewPricingService(
	locations redis.LocationStoreInterface,
	requests repository.RequestRepository,
	log logrus.FieldLogger,
	cfg PricingConfig,
) *PricingService {
	return &PricingService{
		locations: locations,
		requests:  requests,
		log:       log,
		cfg:       cfg,
	}
}

// ProposedPrice scales estimate by the surge multiplier at point and clamps the
// result into the offer band.
func (s *PricingService) ProposedPrice(ctx context.Context, point domain.Point, estimate int64) int64 {
	multiplier := s.Multiplier(ctx, point)
	price := int64(math.Round(float64(estimate) * multiplier))

	lo, hi := domain.PriceBounds(estimate)
	switch {
	case price < lo:
		return lo
	case price > hi:
		return hi
	}
	return price
}

// Multiplier returns 1.0 with no surge, up to MaxSurge under high demand.
// Lookup failures fail open to 1.0.
func (s *PricingService) Multiplier(ctx context.Context, point domain.Point) float64 {
	drivers, err := s.locations.FindNearbyDrivers(ctx, point, s.cfg.RadiusKm)
	if err != nil {
		s.log.WithError(err).Debug("supply lookup failed, no surge applied")
		return 1.0
	}
	supply := 0
	for _, d := range drivers {
		if d.Available {
			supply++
		}
	}

	demand, err := s.requests.CountOpenNear(ctx, point, s.cfg.RadiusKm)
	if err != nil {
		s.log.WithError(err).Debug("demand lookup failed, no surge applied")
		return 1.0
	}

	return s.surgeMultiplier(supply, demand)
}

// surgeMultiplier determines the multiplier based on the demand/supply ratio.
func (s *PricingService) surgeMultiplier(supply, demand int) float64 {
	if supply == 0 {
		if demand > 0 {
			return s.cfg.MaxSurge
		}
		return 1.0
	}

	ratio := float64(demand) / float64(supply)

	switch {
	case ratio >= s.cfg.HighSurgeRatio:
		return s.cfg.MaxSurge
	case ratio >= s.cfg.MedSurgeRatio:
		return math.Min(1.25, s.cfg.MaxSurge)
	case ratio >= s.cfg.LowSurgeRatio:
		return math.Min(1.1, s.cfg.MaxSurge)
	default:
		return 1.0
	}
}
