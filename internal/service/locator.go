package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dispatch/internal/domain"
	"dispatch/internal/metrics"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// LocatorConfig holds candidate search parameters.
type LocatorConfig struct {
	Freshness      time.Duration
	CandidateLimit int // Cap on eligible candidates returned, applied after filtering
	Now            func() time.Time
}

// LocatorService answers "which drivers can serve this point" queries by
// joining the Redis geo index with driver profiles and credit balances.
type LocatorService struct {
	locations redis.LocationStoreInterface
	cache     redis.ProfileCache
	drivers   repository.DriverRepository
	credits   repository.CreditRepository
	log       logrus.FieldLogger
	cfg       LocatorConfig
}

// NewLocatorService creates a new LocatorService. cache may be nil.
func NewLocatorService(
	locations redis.LocationStoreInterface,
	cache redis.ProfileCache,
	drivers repository.DriverRepository,
	credits repository.CreditRepository,
	log logrus.FieldLogger,
	cfg LocatorConfig,
) *LocatorService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LocatorService{
		locations: locations,
		cache:     cache,
		drivers:   drivers,
		credits:   credits,
		log:       log,
		cfg:       cfg,
	}
}

// NearbyQuery describes a candidate search.
type NearbyQuery struct {
	Point        domain.Point
	RadiusKm     float64
	ServiceType  domain.ServiceType
	VehicleClass domain.VehicleClass // Optional: empty means any class
}

// FindNearbyDrivers returns available, fresh, eligible drivers within the radius,
// nearest first, each annotated with haversine distance. It fails closed: any
// lookup error yields an empty result, never a partial one.
func (s *LocatorService) FindNearbyDrivers(ctx context.Context, q NearbyQuery) []domain.Candidate {
	candidates, err := s.findNearby(ctx, q)
	if err != nil {
		metrics.LocationQueryFailures.Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"lat":       q.Point.Lat,
			"lng":       q.Point.Lng,
			"radius_km": q.RadiusKm,
		}).Warn("driver search failed, treating as no drivers")
		return nil
	}
	metrics.CandidatesFound.Observe(float64(len(candidates)))
	return candidates
}

func (s *LocatorService) findNearby(ctx context.Context, q NearbyQuery) ([]domain.Candidate, error) {
	if !q.Point.Valid() || q.RadiusKm <= 0 {
		return nil, ErrInvalidLocation
	}

	nearby, err := s.locations.FindNearbyDrivers(ctx, q.Point, q.RadiusKm)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now()
	var (
		ids   []string
		fresh []domain.DriverLocation
	)
	for _, loc := range nearby {
		if !loc.Available || !loc.Fresh(now, s.cfg.Freshness) {
			continue
		}
		if q.VehicleClass != "" && loc.VehicleClass != q.VehicleClass {
			continue
		}
		ids = append(ids, loc.DriverID)
		fresh = append(fresh, loc)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	profiles, err := s.loadProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Credits are always read from the store; a cached balance could admit a driver with none left.
	balances, err := s.credits.GetByDriverIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(fresh))
	for _, loc := range fresh {
		profile, ok := profiles[loc.DriverID]
		if !ok {
			continue
		}

		remaining := 0
		if b, ok := balances[loc.DriverID]; ok {
			if q.ServiceType.CreditGated() && !b.Eligible(now) {
				continue
			}
			remaining = b.RidesRemaining
		} else if q.ServiceType.CreditGated() {
			continue
		}

		distance := domain.HaversineKm(q.Point, loc.Position)
		if distance > q.RadiusKm {
			continue
		}

		candidates = append(candidates, domain.Candidate{
			DriverID:       loc.DriverID,
			Position:       loc.Position,
			DistanceKm:     distance,
			RatingAverage:  profile.RatingAverage,
			TotalRides:     profile.TotalRides,
			Verified:       profile.Verified,
			RidesRemaining: remaining,
			VehicleClass:   loc.VehicleClass,
		})
		if s.cfg.CandidateLimit > 0 && len(candidates) == s.cfg.CandidateLimit {
			break
		}
	}

	return candidates, nil
}

// loadProfiles reads scoring profiles from the cache and fills misses from the store.
func (s *LocatorService) loadProfiles(ctx context.Context, ids []string) (map[string]*domain.Driver, error) {
	profiles := make(map[string]*domain.Driver, len(ids))
	missing := ids

	if s.cache != nil {
		cached, miss, err := s.cache.GetProfilesBatch(ctx, ids)
		if err != nil {
			s.log.WithError(err).Debug("profile cache unavailable")
		} else {
			for id, p := range cached {
				profiles[id] = p.ToDriver()
			}
			missing = miss
		}
	}

	if len(missing) == 0 {
		return profiles, nil
	}

	loaded, err := s.drivers.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}

	fetched := make([]*domain.Driver, 0, len(loaded))
	for id, d := range loaded {
		profiles[id] = d
		fetched = append(fetched, d)
	}

	if s.cache != nil && len(fetched) > 0 {
		if err := s.cache.SetProfilesBatch(ctx, fetched); err != nil {
			s.log.WithError(err).Debug("failed to warm profile cache")
		}
	}

	return profiles, nil
}
